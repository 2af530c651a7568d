// Package domain holds session lifecycle types.
package domain

import (
	"time"

	devicedomain "opensase/access-plane/internal/device/domain"
	identitydomain "opensase/access-plane/internal/identity/domain"
	resourcedomain "opensase/access-plane/internal/resource/domain"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
)

// Session is one granted identity+device+resource access. Sessions are upserted
// idempotently: a repeat grant for the same triple refreshes the existing session
// instead of creating a second one.
type Session struct {
	ID           string
	Identity     identitydomain.Identity
	Device       devicedomain.Device
	Resource     resourcedomain.Resource
	Status       Status
	TrustScore   int
	Recording    bool
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
}

// Live reports whether the session still admits traffic.
func (s *Session) Live() bool {
	return s.Status == StatusActive || s.Status == StatusSuspended
}

// Stats is a point-in-time census of the session registry.
type Stats struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Suspended   int `json:"suspended"`
	Revoked     int `json:"revoked"`
	Expired     int `json:"expired"`
	UniqueUsers int `json:"unique_users"`
}
