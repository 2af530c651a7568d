// Package domain holds MFA factor and challenge types.
package domain

import "time"

// FactorType names an authentication factor a user can register.
type FactorType string

const (
	FactorTotp          FactorType = "totp"
	FactorWebAuthn      FactorType = "webauthn"
	FactorPush          FactorType = "push"
	FactorSms           FactorType = "sms"
	FactorEmail         FactorType = "email"
	FactorHardwareToken FactorType = "hardware_token"
	FactorBiometric     FactorType = "biometric"
)

// Factor is one registered MFA factor for a user.
type Factor struct {
	ID           string
	Type         FactorType
	Name         string
	RegisteredAt time.Time
	LastUsed     *time.Time
	// Secret is the TOTP shared secret (base32) for totp factors,
	// the phone number for sms, the address for email.
	Secret   string
	Metadata map[string]string
}

// ChallengeState is the lifecycle state of a challenge. Completed, Failed and
// Expired are terminal.
type ChallengeState string

const (
	ChallengePending   ChallengeState = "pending"
	ChallengeCompleted ChallengeState = "completed"
	ChallengeFailed    ChallengeState = "failed"
	ChallengeExpired   ChallengeState = "expired"
)

// Terminal reports whether the state accepts no further transitions.
func (s ChallengeState) Terminal() bool {
	return s == ChallengeCompleted || s == ChallengeFailed || s == ChallengeExpired
}

// Challenge is one outstanding MFA verification attempt.
type Challenge struct {
	ID         string
	UserID     string
	FactorType FactorType
	State      ChallengeState
	CreatedAt  time.Time
	ExpiresAt  time.Time
	// CodeHash holds the hashed one-time code for sms/email challenges.
	// The plaintext code exists only in the dispatch path.
	CodeHash    string
	Attempts    int
	MaxAttempts int
}

// VerifyResult is the outcome of a verification attempt.
type VerifyResult struct {
	Success    bool
	FactorType FactorType
	Message    string
}
