// Package device scores device posture into a trust level and keeps the device registry.
package device

import (
	"time"

	"opensase/access-plane/internal/device/domain"
)

// Requirements are the posture flags a device must satisfy to be compliant.
// Compliance is all-or-nothing and independent of the numeric trust score.
type Requirements struct {
	RequireFirewall   bool
	RequireAntivirus  bool
	RequireEncryption bool
	RequirePatchedOS  bool
	RequireScreenLock bool
	BlockJailbroken   bool
}

// DefaultRequirements requires every posture flag and blocks jailbroken devices.
func DefaultRequirements() Requirements {
	return Requirements{
		RequireFirewall:   true,
		RequireAntivirus:  true,
		RequireEncryption: true,
		RequirePatchedOS:  true,
		RequireScreenLock: true,
		BlockJailbroken:   true,
	}
}

// Weights are the additive score contributions per posture fact.
type Weights struct {
	Managed          int
	Compliant        int
	Firewall         int
	Antivirus        int
	Encryption       int
	Patched          int
	ScreenLock       int
	Certificate      int
	JailbreakPenalty int // negative; applied only when jailbroken devices are not hard-blocked
}

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Managed:          25,
		Compliant:        20,
		Firewall:         10,
		Antivirus:        10,
		Encryption:       15,
		Patched:          10,
		ScreenLock:       5,
		Certificate:      15,
		JailbreakPenalty: -50,
	}
}

// Assessor scores devices into trust assessments.
type Assessor struct {
	requirements Requirements
	weights      Weights
	nowF         func() time.Time
}

// NewAssessor returns an Assessor with the given posture requirements and weights.
func NewAssessor(requirements Requirements, weights Weights) *Assessor {
	return &Assessor{
		requirements: requirements,
		weights:      weights,
		nowF:         func() time.Time { return time.Now().UTC() },
	}
}

// Assess scores the device. A jailbroken device under a jailbreak-blocking policy
// short-circuits to Untrusted with score 0: fail-closed, no partial credit.
func (a *Assessor) Assess(d *domain.Device) domain.TrustAssessment {
	if d == nil {
		return domain.TrustAssessment{
			TrustLevel: domain.TrustUntrusted,
			Score:      0,
			Compliant:  false,
			Issues:     []string{"no device posture available"},
		}
	}

	score := 0
	var issues []string

	if d.Posture.Jailbroken {
		if a.requirements.BlockJailbroken {
			return domain.TrustAssessment{
				TrustLevel: domain.TrustUntrusted,
				Score:      0,
				Compliant:  false,
				Issues:     []string{"device is jailbroken/rooted"},
			}
		}
		score += a.weights.JailbreakPenalty
		issues = append(issues, "device is jailbroken/rooted")
	}

	if d.Managed {
		score += a.weights.Managed
	} else {
		issues = append(issues, "device is not managed")
	}
	if d.Compliant {
		score += a.weights.Compliant
	}

	postureScore, postureIssues := a.scorePosture(&d.Posture)
	score += postureScore
	issues = append(issues, postureIssues...)

	if len(d.Certificates) > 0 {
		if d.HasValidCertificate(a.nowF()) {
			score += a.weights.Certificate
		} else {
			issues = append(issues, "no valid device certificate")
		}
	}

	if score < 0 {
		score = 0
	}

	return domain.TrustAssessment{
		TrustLevel: levelFor(score),
		Score:      score,
		Compliant:  a.isCompliant(&d.Posture),
		Issues:     issues,
	}
}

func (a *Assessor) scorePosture(p *domain.Posture) (int, []string) {
	score := 0
	var issues []string

	if p.FirewallEnabled {
		score += a.weights.Firewall
	} else if a.requirements.RequireFirewall {
		issues = append(issues, "firewall is disabled")
	}
	if p.AntivirusRunning {
		score += a.weights.Antivirus
	} else if a.requirements.RequireAntivirus {
		issues = append(issues, "antivirus not running")
	}
	if p.DiskEncrypted {
		score += a.weights.Encryption
	} else if a.requirements.RequireEncryption {
		issues = append(issues, "disk is not encrypted")
	}
	if p.OSPatched {
		score += a.weights.Patched
	} else if a.requirements.RequirePatchedOS {
		issues = append(issues, "OS is not up to date")
	}
	if p.ScreenLockEnabled {
		score += a.weights.ScreenLock
	} else if a.requirements.RequireScreenLock {
		issues = append(issues, "screen lock is disabled")
	}

	return score, issues
}

// isCompliant is true only if every configured require_X flag is satisfied.
// Independent of the numeric score: a high-scoring device can still be non-compliant.
func (a *Assessor) isCompliant(p *domain.Posture) bool {
	r := a.requirements
	return (!r.RequireFirewall || p.FirewallEnabled) &&
		(!r.RequireAntivirus || p.AntivirusRunning) &&
		(!r.RequireEncryption || p.DiskEncrypted) &&
		(!r.RequirePatchedOS || p.OSPatched) &&
		(!r.RequireScreenLock || p.ScreenLockEnabled) &&
		(!r.BlockJailbroken || !p.Jailbroken)
}

func levelFor(score int) domain.TrustLevel {
	switch {
	case score >= 80:
		return domain.TrustFull
	case score >= 60:
		return domain.TrustHigh
	case score >= 40:
		return domain.TrustMedium
	case score >= 20:
		return domain.TrustLow
	default:
		return domain.TrustUntrusted
	}
}
