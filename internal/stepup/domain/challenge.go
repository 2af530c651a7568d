// Package domain holds step-up challenge types for mid-session re-authentication.
package domain

import "time"

// Reason is why a step-up was triggered.
type Reason string

const (
	ReasonSensitiveResource Reason = "sensitive_resource"
	ReasonTrustDegradation  Reason = "trust_degradation"
	ReasonHighRiskAction    Reason = "high_risk_action"
	ReasonSessionTimeout    Reason = "session_timeout"
	ReasonPolicyRequired    Reason = "policy_required"
	ReasonAdminForced       Reason = "admin_forced"
)

// ChallengeType is how the user must re-authenticate.
type ChallengeType string

const (
	TypeMfa             ChallengeType = "mfa"
	TypeBiometric       ChallengeType = "biometric"
	TypeReAuth          ChallengeType = "reauth"
	TypeManagerApproval ChallengeType = "manager_approval"
	TypeCustom          ChallengeType = "custom"
)

// TypeForReason maps a trigger reason to its default challenge type.
func TypeForReason(r Reason) ChallengeType {
	switch r {
	case ReasonHighRiskAction:
		return TypeBiometric
	case ReasonSessionTimeout, ReasonAdminForced:
		return TypeReAuth
	default:
		return TypeMfa
	}
}

// Status is the challenge lifecycle state. Completed, Failed, Expired and
// Cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Challenge is one mid-session re-authentication demand.
type Challenge struct {
	ID            string
	SessionID     string
	UserID        string
	Reason        Reason
	ChallengeType ChallengeType
	Status        Status
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Attempts      int
	MaxAttempts   int
}

// TrustBonus is the session trust increase granted by completing the challenge.
func (c *Challenge) TrustBonus() int {
	switch c.ChallengeType {
	case TypeReAuth:
		return 20
	case TypeBiometric:
		return 15
	case TypeMfa:
		return 10
	default:
		return 5
	}
}

// Result reports a successful verification back to the caller.
type Result struct {
	ChallengeID string
	SessionID   string
	TrustBonus  int
}
