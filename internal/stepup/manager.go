// Package stepup manages mid-session re-authentication challenges, distinct from
// first-factor MFA. At most one pending challenge exists per session.
package stepup

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"opensase/access-plane/internal/stepup/domain"
)

const (
	defaultChallengeTTL  = 5 * time.Minute
	defaultMaxAttempts   = 3
	defaultVerifyTimeout = 10 * time.Second
)

var (
	// ErrChallengeNotFound means no challenge exists for the given id.
	ErrChallengeNotFound = errors.New("step-up challenge not found")
	// ErrPendingChallenge means the session already has an open challenge.
	ErrPendingChallenge = errors.New("session already has a pending step-up challenge")
	// ErrExpired means the challenge deadline passed before verification.
	ErrExpired = errors.New("step-up challenge expired")
	// ErrTooManyAttempts means the attempt cap was reached; the challenge is
	// permanently failed.
	ErrTooManyAttempts = errors.New("step-up attempts exhausted")
	// ErrVerificationFailed means the response did not verify.
	ErrVerificationFailed = errors.New("step-up verification failed")
	// ErrAlreadyTerminal means the challenge reached a terminal state earlier.
	ErrAlreadyTerminal = errors.New("step-up challenge already finished")
)

// Verifier checks a response for one challenge type (password re-auth, biometric
// backend, manager approval, ...).
type Verifier interface {
	Verify(ctx context.Context, challenge *domain.Challenge, response string) (bool, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, challenge *domain.Challenge, response string) (bool, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, challenge *domain.Challenge, response string) (bool, error) {
	return f(ctx, challenge, response)
}

// Manager tracks step-up challenges and the pending binding per session.
type Manager struct {
	mu         sync.Mutex
	challenges map[string]*domain.Challenge
	// pendingBySession maps session id -> open challenge id. Invariant: an entry
	// exists iff that challenge is Pending.
	pendingBySession map[string]string

	verifiers     map[domain.ChallengeType]Verifier
	challengeTTL  time.Duration
	verifyTimeout time.Duration
	nowF          func() time.Time
}

// NewManager returns a Manager. A challenge type without a verifier fails
// verification closed.
func NewManager(verifiers map[domain.ChallengeType]Verifier) *Manager {
	if verifiers == nil {
		verifiers = map[domain.ChallengeType]Verifier{}
	}
	return &Manager{
		challenges:       make(map[string]*domain.Challenge),
		pendingBySession: make(map[string]string),
		verifiers:        verifiers,
		challengeTTL:     defaultChallengeTTL,
		verifyTimeout:    defaultVerifyTimeout,
		nowF:             time.Now,
	}
}

// CreateChallenge opens a challenge for the session. The challenge type follows
// from the reason. A session with an open, unexpired challenge is rejected; an
// expired leftover is flipped to Expired and replaced.
func (m *Manager) CreateChallenge(sessionID, userID string, reason domain.Reason) (*domain.Challenge, error) {
	now := m.nowF().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if openID, ok := m.pendingBySession[sessionID]; ok {
		open := m.challenges[openID]
		if open != nil && now.Before(open.ExpiresAt) {
			return nil, ErrPendingChallenge
		}
		if open != nil {
			open.Status = domain.StatusExpired
		}
		delete(m.pendingBySession, sessionID)
	}

	ch := &domain.Challenge{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		UserID:        userID,
		Reason:        reason,
		ChallengeType: domain.TypeForReason(reason),
		Status:        domain.StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.challengeTTL),
		MaxAttempts:   defaultMaxAttempts,
	}
	m.challenges[ch.ID] = ch
	m.pendingBySession[sessionID] = ch.ID

	log.Printf("stepup: created challenge %s for session %s (reason %s)", ch.ID, sessionID, reason)

	out := *ch
	return &out, nil
}

// HasPending reports whether the session has an open challenge.
func (m *Manager) HasPending(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pendingBySession[sessionID]
	return ok
}

// PendingChallenge returns the session's open challenge, if any.
func (m *Manager) PendingChallenge(sessionID string) (*domain.Challenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.pendingBySession[sessionID]
	if !ok {
		return nil, false
	}
	ch, ok := m.challenges[id]
	if !ok {
		return nil, false
	}
	out := *ch
	return &out, true
}

// Challenge returns a copy of the challenge with the given id.
func (m *Manager) Challenge(id string) (*domain.Challenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.challenges[id]
	if !ok {
		return nil, false
	}
	out := *ch
	return &out, true
}

// Verify checks the response against the challenge. The attempt counter and any
// status transition move together under the challenge lock; reaching the attempt
// cap fails the challenge permanently. Success clears the session's pending
// binding and returns the trust bonus for the challenge type.
func (m *Manager) Verify(ctx context.Context, challengeID, response string) (*domain.Result, error) {
	m.mu.Lock()
	ch, ok := m.challenges[challengeID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrChallengeNotFound
	}
	if ch.Status.Terminal() {
		m.mu.Unlock()
		return nil, ErrAlreadyTerminal
	}
	if m.nowF().UTC().After(ch.ExpiresAt) {
		ch.Status = domain.StatusExpired
		delete(m.pendingBySession, ch.SessionID)
		m.mu.Unlock()
		return nil, ErrExpired
	}
	ch.Attempts++
	if ch.Attempts > ch.MaxAttempts {
		ch.Status = domain.StatusFailed
		delete(m.pendingBySession, ch.SessionID)
		m.mu.Unlock()
		return nil, ErrTooManyAttempts
	}
	snapshot := *ch
	m.mu.Unlock()

	verified := m.runVerifier(ctx, &snapshot, response)

	m.mu.Lock()
	defer m.mu.Unlock()
	if ch.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	if verified {
		ch.Status = domain.StatusCompleted
		delete(m.pendingBySession, ch.SessionID)
		log.Printf("stepup: challenge %s completed for session %s", ch.ID, ch.SessionID)
		return &domain.Result{
			ChallengeID: ch.ID,
			SessionID:   ch.SessionID,
			TrustBonus:  ch.TrustBonus(),
		}, nil
	}
	if ch.Attempts >= ch.MaxAttempts {
		ch.Status = domain.StatusFailed
		delete(m.pendingBySession, ch.SessionID)
	}
	return nil, ErrVerificationFailed
}

// Cancel moves an open challenge to Cancelled and clears the session's pending
// binding in the same critical section. Terminal challenges are left alone.
func (m *Manager) Cancel(challengeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.challenges[challengeID]
	if !ok || ch.Status.Terminal() {
		return
	}
	ch.Status = domain.StatusCancelled
	delete(m.pendingBySession, ch.SessionID)
}

// Sweep flips every expired pending challenge to Expired and clears its session
// binding. Returns how many were flipped.
func (m *Manager) Sweep() int {
	now := m.nowF().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	flipped := 0
	for _, ch := range m.challenges {
		if ch.Status == domain.StatusPending && now.After(ch.ExpiresAt) {
			ch.Status = domain.StatusExpired
			delete(m.pendingBySession, ch.SessionID)
			flipped++
		}
	}
	return flipped
}

func (m *Manager) runVerifier(ctx context.Context, ch *domain.Challenge, response string) bool {
	verifier, ok := m.verifiers[ch.ChallengeType]
	if !ok {
		log.Printf("stepup: no verifier for challenge type %s", ch.ChallengeType)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, m.verifyTimeout)
	defer cancel()
	verified, err := verifier.Verify(ctx, ch, response)
	if err != nil {
		log.Printf("stepup: %s verification error: %v", ch.ChallengeType, err)
		return false
	}
	return verified
}
