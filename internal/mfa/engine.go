// Package mfa implements the multi-factor challenge engine: factor registration,
// challenge creation and verification across factor types.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"opensase/access-plane/internal/mfa/domain"
)

const (
	defaultChallengeTTL  = 5 * time.Minute
	defaultVerifyTimeout = 10 * time.Second

	totpPeriod uint = 30
	totpSkew   uint = 1

	defaultMaxAttempts = 3
)

var (
	// ErrNoFactors means the user has no MFA factors registered at all.
	ErrNoFactors = errors.New("no mfa factors registered")
	// ErrFactorNotRegistered means the user has factors, but not the requested type.
	ErrFactorNotRegistered = errors.New("mfa factor not registered")
)

// CodeSender delivers a one-time code out of band (SMS, email). Dispatch is
// fire-and-forget: send failures are logged, never block challenge creation.
type CodeSender interface {
	SendCode(destination, code string) error
}

// Verifier checks a challenge response against an external system
// (push provider, WebAuthn, hardware token backend, biometric service).
type Verifier interface {
	Verify(ctx context.Context, challenge *domain.Challenge, response string) (bool, error)
}

// Engine manages per-user factor registrations and pending challenges.
type Engine struct {
	mu         sync.RWMutex
	factors    map[string][]domain.Factor
	challenges map[string]*domain.Challenge

	sms       CodeSender
	email     CodeSender
	verifiers map[domain.FactorType]Verifier

	challengeTTL  time.Duration
	verifyTimeout time.Duration
	nowF          func() time.Time
}

// NewEngine returns an Engine. sms and email may be nil; challenges for those
// factor types are still created, only dispatch is skipped. verifiers maps the
// externally-verified factor types to their backends; a missing verifier fails
// verification for that type.
func NewEngine(sms, email CodeSender, verifiers map[domain.FactorType]Verifier) *Engine {
	if verifiers == nil {
		verifiers = map[domain.FactorType]Verifier{}
	}
	return &Engine{
		factors:       make(map[string][]domain.Factor),
		challenges:    make(map[string]*domain.Challenge),
		sms:           sms,
		email:         email,
		verifiers:     verifiers,
		challengeTTL:  defaultChallengeTTL,
		verifyTimeout: defaultVerifyTimeout,
		nowF:          time.Now,
	}
}

// RegisterFactor adds a factor for the user.
func (e *Engine) RegisterFactor(userID string, f domain.Factor) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.RegisteredAt.IsZero() {
		f.RegisteredAt = e.nowF().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factors[userID] = append(e.factors[userID], f)
}

// Enabled reports whether the user has at least one factor registered.
func (e *Engine) Enabled(userID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.factors[userID]) > 0
}

// Factors returns the user's registered factors.
func (e *Engine) Factors(userID string) []domain.Factor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.Factor(nil), e.factors[userID]...)
}

// CreateChallenge opens a pending challenge for the given factor type. It fails
// when the user has no factor of that type. For sms and email factors a one-time
// code is generated, stored hashed on the challenge, and dispatched asynchronously.
func (e *Engine) CreateChallenge(userID string, factorType domain.FactorType) (*domain.Challenge, error) {
	factor, err := e.findFactor(userID, factorType)
	if err != nil {
		return nil, err
	}

	now := e.nowF().UTC()
	ch := &domain.Challenge{
		ID:          uuid.NewString(),
		UserID:      userID,
		FactorType:  factorType,
		State:       domain.ChallengePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.challengeTTL),
		MaxAttempts: defaultMaxAttempts,
	}

	if factorType == domain.FactorSms || factorType == domain.FactorEmail {
		code, err := GenerateOTP()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		ch.CodeHash = HashOTP(code)
		e.dispatchCode(factorType, factor.Secret, code)
	}

	e.mu.Lock()
	e.challenges[ch.ID] = ch
	e.mu.Unlock()

	out := *ch
	return &out, nil
}

// Verify checks the response against the challenge. Unknown challenge ids, expired
// or terminal challenges, and external verifier errors all fail closed.
func (e *Engine) Verify(ctx context.Context, challengeID, response string) domain.VerifyResult {
	e.mu.Lock()
	ch, ok := e.challenges[challengeID]
	if !ok {
		e.mu.Unlock()
		return domain.VerifyResult{Success: false, Message: "challenge not found"}
	}
	if ch.State.Terminal() {
		state := ch.State
		factorType := ch.FactorType
		e.mu.Unlock()
		return domain.VerifyResult{
			Success:    false,
			FactorType: factorType,
			Message:    fmt.Sprintf("challenge already %s", state),
		}
	}
	if e.nowF().UTC().After(ch.ExpiresAt) {
		ch.State = domain.ChallengeExpired
		factorType := ch.FactorType
		e.mu.Unlock()
		return domain.VerifyResult{
			Success:    false,
			FactorType: factorType,
			Message:    "challenge expired",
		}
	}
	snapshot := *ch
	e.mu.Unlock()

	success := e.verifyFactor(ctx, &snapshot, response)

	e.mu.Lock()
	// A concurrent verify may have finished the challenge meanwhile.
	if ch.State != domain.ChallengePending {
		state := ch.State
		e.mu.Unlock()
		return domain.VerifyResult{
			Success:    false,
			FactorType: snapshot.FactorType,
			Message:    fmt.Sprintf("challenge already %s", state),
		}
	}
	ch.Attempts++
	if success {
		ch.State = domain.ChallengeCompleted
	} else if ch.Attempts >= ch.MaxAttempts {
		ch.State = domain.ChallengeFailed
	}
	exhausted := ch.State == domain.ChallengeFailed
	e.mu.Unlock()

	if success {
		e.touchFactor(snapshot.UserID, snapshot.FactorType)
		return domain.VerifyResult{Success: true, FactorType: snapshot.FactorType}
	}
	msg := "verification failed"
	if exhausted {
		msg = "verification failed, attempts exhausted"
	}
	return domain.VerifyResult{
		Success:    false,
		FactorType: snapshot.FactorType,
		Message:    msg,
	}
}

// VerifyFactor checks a response directly against the user's registered factor
// of the given type, outside any challenge lifecycle. Step-up challenges that
// delegate to MFA use this; SMS/Email factors cannot be verified this way since
// their codes live only on a challenge.
func (e *Engine) VerifyFactor(ctx context.Context, userID string, factorType domain.FactorType, response string) bool {
	switch factorType {
	case domain.FactorTotp:
		return e.verifyTOTP(userID, response)
	case domain.FactorSms, domain.FactorEmail:
		return false
	default:
		if _, err := e.findFactor(userID, factorType); err != nil {
			return false
		}
		return e.verifyExternal(ctx, &domain.Challenge{UserID: userID, FactorType: factorType}, response)
	}
}

// Sweep flips every pending challenge past its expiry to Expired and returns
// how many it flipped. Run periodically to bound memory from abandoned challenges.
func (e *Engine) Sweep() int {
	now := e.nowF().UTC()
	e.mu.Lock()
	defer e.mu.Unlock()
	flipped := 0
	for _, ch := range e.challenges {
		if ch.State == domain.ChallengePending && now.After(ch.ExpiresAt) {
			ch.State = domain.ChallengeExpired
			flipped++
		}
	}
	return flipped
}

// Challenge returns a copy of the challenge with the given id.
func (e *Engine) Challenge(id string) (*domain.Challenge, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ch, ok := e.challenges[id]
	if !ok {
		return nil, false
	}
	out := *ch
	return &out, true
}

func (e *Engine) findFactor(userID string, factorType domain.FactorType) (*domain.Factor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	factors, ok := e.factors[userID]
	if !ok || len(factors) == 0 {
		return nil, ErrNoFactors
	}
	for i := range factors {
		if factors[i].Type == factorType {
			f := factors[i]
			return &f, nil
		}
	}
	return nil, ErrFactorNotRegistered
}

func (e *Engine) dispatchCode(factorType domain.FactorType, destination, code string) {
	var sender CodeSender
	switch factorType {
	case domain.FactorSms:
		sender = e.sms
	case domain.FactorEmail:
		sender = e.email
	}
	if sender == nil {
		log.Printf("mfa: no %s sender configured, code not dispatched", factorType)
		return
	}
	go func() {
		if err := sender.SendCode(destination, code); err != nil {
			log.Printf("mfa: %s code dispatch failed: %v", factorType, err)
		}
	}()
}

func (e *Engine) verifyFactor(ctx context.Context, ch *domain.Challenge, response string) bool {
	switch ch.FactorType {
	case domain.FactorTotp:
		return e.verifyTOTP(ch.UserID, response)
	case domain.FactorSms, domain.FactorEmail:
		return ch.CodeHash != "" && OTPEqual(response, ch.CodeHash)
	default:
		return e.verifyExternal(ctx, ch, response)
	}
}

func (e *Engine) verifyTOTP(userID, code string) bool {
	factor, err := e.findFactor(userID, domain.FactorTotp)
	if err != nil || factor.Secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, factor.Secret, e.nowF().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		log.Printf("mfa: totp validation error for user %s: %v", userID, err)
		return false
	}
	return ok
}

func (e *Engine) verifyExternal(ctx context.Context, ch *domain.Challenge, response string) bool {
	verifier, ok := e.verifiers[ch.FactorType]
	if !ok {
		log.Printf("mfa: no verifier for factor type %s", ch.FactorType)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, e.verifyTimeout)
	defer cancel()
	success, err := verifier.Verify(ctx, ch, response)
	if err != nil {
		log.Printf("mfa: %s verification error: %v", ch.FactorType, err)
		return false
	}
	return success
}

func (e *Engine) touchFactor(userID string, factorType domain.FactorType) {
	now := e.nowF().UTC()
	e.mu.Lock()
	defer e.mu.Unlock()
	factors := e.factors[userID]
	for i := range factors {
		if factors[i].Type == factorType {
			factors[i].LastUsed = &now
			return
		}
	}
}
