package domain

import "time"

// Device represents a registered endpoint for a user. Registered once per device id;
// posture is updated repeatedly by the endpoint-management collaborator.
type Device struct {
	ID           string
	Name         string
	OS           string
	Managed      bool
	Compliant    bool
	Posture      Posture
	Certificates []Certificate
	LastSeenAt   time.Time
}

// Posture holds the device security configuration facts collected by the posture agent.
type Posture struct {
	FirewallEnabled   bool
	AntivirusRunning  bool
	DiskEncrypted     bool
	OSPatched         bool
	ScreenLockEnabled bool
	Jailbroken        bool
	LastChecked       time.Time
}

// Certificate is a client certificate installed on the device.
type Certificate struct {
	ID          string
	Subject     string
	Issuer      string
	ValidFrom   time.Time
	ValidUntil  time.Time
	Fingerprint string
}

// HasValidCertificate reports whether any certificate is valid at instant now.
func (d *Device) HasValidCertificate(now time.Time) bool {
	for _, c := range d.Certificates {
		if now.After(c.ValidFrom) && now.Before(c.ValidUntil) {
			return true
		}
	}
	return false
}

// TrustLevel buckets a device trust score. Ordered: comparisons are meaningful.
type TrustLevel int

const (
	TrustUntrusted TrustLevel = iota
	TrustLow
	TrustMedium
	TrustHigh
	TrustFull
)

func (l TrustLevel) String() string {
	switch l {
	case TrustUntrusted:
		return "untrusted"
	case TrustLow:
		return "low"
	case TrustMedium:
		return "medium"
	case TrustHigh:
		return "high"
	case TrustFull:
		return "full"
	default:
		return "unknown"
	}
}

// TrustAssessment is the derived result of scoring a device. Not persisted.
type TrustAssessment struct {
	TrustLevel TrustLevel
	Score      int // 0-100
	Compliant  bool
	Issues     []string
}
