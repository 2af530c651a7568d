// Package trust combines identity, device, and context signals into an overall
// score and an access recommendation.
package trust

import (
	"opensase/access-plane/internal/accessctx"
	"opensase/access-plane/internal/device"
	devicedomain "opensase/access-plane/internal/device/domain"
	identitydomain "opensase/access-plane/internal/identity/domain"
	resourcedomain "opensase/access-plane/internal/resource/domain"
)

// Recommendation is the trust engine's verdict, consumed by the orchestrator before
// policy evaluation.
type Recommendation string

const (
	RecommendAllow           Recommendation = "allow"
	RecommendAllowWithMfa    Recommendation = "allow_with_mfa"
	RecommendAllowWithRecord Recommendation = "allow_with_session_record"
	RecommendDeny            Recommendation = "deny"
)

// Thresholds are the score bands mapped to recommendations.
type Thresholds struct {
	Allow  int // >= Allow -> Allow
	Mfa    int // >= Mfa -> AllowWithMfa
	Record int // >= Record -> AllowWithSessionRecord, below -> Deny
}

// DefaultThresholds returns the default recommendation bands (80/60/40).
func DefaultThresholds() Thresholds {
	return Thresholds{Allow: 80, Mfa: 60, Record: 40}
}

// Penalties are the per-signal score deductions by severity.
type Penalties struct {
	Low    int
	Medium int
	High   int
}

// DefaultPenalties returns the default risk penalties (5/15/30).
func DefaultPenalties() Penalties {
	return Penalties{Low: 5, Medium: 15, High: 30}
}

// Evaluation is the engine's scored output.
type Evaluation struct {
	OverallScore   int
	DeviceScore    int
	Recommendation Recommendation
	Reasons        []string
}

// Engine evaluates trust. Pure and deterministic over its inputs so decisions are
// reproducible for audit.
type Engine struct {
	assessor   *device.Assessor
	thresholds Thresholds
	penalties  Penalties
	// mfaBonus is added to the overall score when the identity already passed MFA.
	mfaBonus int
}

// NewEngine returns an Engine scoring devices with assessor. Zero-valued thresholds
// or penalties fall back to defaults.
func NewEngine(assessor *device.Assessor, thresholds Thresholds, penalties Penalties) *Engine {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	if penalties == (Penalties{}) {
		penalties = DefaultPenalties()
	}
	return &Engine{
		assessor:   assessor,
		thresholds: thresholds,
		penalties:  penalties,
		mfaBonus:   15,
	}
}

// Evaluate scores the request. The overall score is the device assessment score plus
// an identity factor for prior MFA verification, minus a severity-weighted penalty per
// risk signal, clamped to [0,100].
func (e *Engine) Evaluate(
	identity *identitydomain.Identity,
	dev *devicedomain.Device,
	res *resourcedomain.Resource,
	ctx *accessctx.AccessContext,
) Evaluation {
	assessment := e.assessor.Assess(dev)

	score := assessment.Score
	var reasons []string
	reasons = append(reasons, assessment.Issues...)

	if identity.MFAVerified {
		score += e.mfaBonus
	}

	hasDenySignal := false
	for _, s := range ctx.Signals {
		switch s.Severity {
		case accessctx.SeverityHigh:
			score -= e.penalties.High
		case accessctx.SeverityMedium:
			score -= e.penalties.Medium
		case accessctx.SeverityLow:
			score -= e.penalties.Low
		}
		if s.Severity == accessctx.SeverityHigh && s.Type == accessctx.SignalImpossibleTravel {
			hasDenySignal = true
		}
		reasons = append(reasons, s.Description)
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	rec := e.recommend(score, hasDenySignal, identity, res)
	return Evaluation{
		OverallScore:   score,
		DeviceScore:    assessment.Score,
		Recommendation: rec,
		Reasons:        reasons,
	}
}

func (e *Engine) recommend(
	score int,
	hasDenySignal bool,
	identity *identitydomain.Identity,
	res *resourcedomain.Resource,
) Recommendation {
	// A deny-class high signal overrides the score bands.
	if hasDenySignal {
		return RecommendDeny
	}

	var rec Recommendation
	switch {
	case score >= e.thresholds.Allow:
		rec = RecommendAllow
	case score >= e.thresholds.Mfa:
		rec = RecommendAllowWithMfa
	case score >= e.thresholds.Record:
		rec = RecommendAllowWithRecord
	default:
		return RecommendDeny
	}

	// Resource sensitivity can tighten but never loosen the band.
	if res != nil && rec == RecommendAllow {
		if res.Sensitivity.RequiresMFA() && !identity.MFAVerified {
			return RecommendAllowWithMfa
		}
		if res.Sensitivity.RequiresRecording() {
			return RecommendAllowWithRecord
		}
	}
	return rec
}
