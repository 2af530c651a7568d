// Package accessctx builds the per-request access context (network classification,
// geolocation) and derives risk signals from it against the user's access history.
package accessctx

import (
	"net"
	"time"
)

// NetworkType classifies where the client connects from.
type NetworkType string

const (
	NetworkCorporate NetworkType = "corporate"
	NetworkVPN       NetworkType = "vpn"
	NetworkHome      NetworkType = "home"
	NetworkUnknown   NetworkType = "unknown"
)

// GeoLocation is a coarse location resolved from a client IP.
type GeoLocation struct {
	Country   string
	Region    string
	City      string
	Latitude  float64
	Longitude float64
}

// AccessContext is the evaluated context of a single access attempt.
// Built fresh per request and never persisted as-is.
type AccessContext struct {
	ClientIP     net.IP
	GeoLocation  *GeoLocation // nil when the lookup collaborator is absent or failed
	NetworkType  NetworkType
	TimeOfAccess time.Time
	SessionID    string
	UserAgent    string
	Signals      []RiskSignal
}

// RiskSignal is a discrete anomalous-context observation. Signals are not deduplicated;
// multiple may co-occur on one context.
type RiskSignal struct {
	Type        SignalType
	Severity    Severity
	Description string
	DetectedAt  time.Time
}

// SignalType names the anomaly a signal reports.
type SignalType string

const (
	SignalImpossibleTravel SignalType = "impossible_travel"
	SignalNewDevice        SignalType = "new_device"
	SignalNewLocation      SignalType = "new_location"
	SignalUnusualTime      SignalType = "unusual_time"
)

// Severity grades a risk signal.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// UserHistory is the read-only access history for a user, supplied by the
// persistence/history collaborator.
type UserHistory struct {
	LastLocation   *GeoLocation
	LastAccess     time.Time
	KnownDevices   map[string]struct{}
	KnownCountries map[string]struct{}
	// TypicalHours is the user's usual access window [start, end] in local hours.
	// Nil means no baseline and the unusual-time check is skipped.
	TypicalHours *HourWindow
}

// HourWindow is an inclusive [Start, End] hour-of-day range.
type HourWindow struct {
	Start int
	End   int
}

// DefaultHourWindow is the typical-hours baseline used when the history collaborator
// has no per-user value: 08:00-18:00.
func DefaultHourWindow() *HourWindow {
	return &HourWindow{Start: 8, End: 18}
}

// KnowsDevice reports whether deviceID is in the user's known-device set.
func (h *UserHistory) KnowsDevice(deviceID string) bool {
	if h == nil {
		return false
	}
	_, ok := h.KnownDevices[deviceID]
	return ok
}

// KnowsCountry reports whether country is in the user's known-country set.
func (h *UserHistory) KnowsCountry(country string) bool {
	if h == nil {
		return false
	}
	_, ok := h.KnownCountries[country]
	return ok
}
