// Package session manages the session registry: idempotent creation keyed by
// identity+device+resource, activity tracking, suspension and expiry.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	devicedomain "opensase/access-plane/internal/device/domain"
	identitydomain "opensase/access-plane/internal/identity/domain"
	resourcedomain "opensase/access-plane/internal/resource/domain"
	"opensase/access-plane/internal/session/domain"
)

// ErrSessionNotFound is returned when no session exists for the given id.
var ErrSessionNotFound = errors.New("session not found")

type tripleKey struct {
	userID     string
	deviceID   string
	resourceID string
}

// Manager is the concurrent session registry. Expiry is enforced lazily on reads
// and by the periodic Sweep.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	byTriple map[tripleKey]string
	byUser   map[string]map[string]struct{}

	ttl  time.Duration
	nowF func() time.Time
}

// NewManager returns a Manager whose sessions live for ttl after creation or
// reactivation.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*domain.Session),
		byTriple: make(map[tripleKey]string),
		byUser:   make(map[string]map[string]struct{}),
		ttl:      ttl,
		nowF:     time.Now,
	}
}

// CreateOrUpdate upserts the session for the identity+device+resource triple.
// An existing live session is refreshed (activity, trust score, recording flag
// may only widen); otherwise a new Active session is created.
func (m *Manager) CreateOrUpdate(identity *identitydomain.Identity, dev *devicedomain.Device, res *resourcedomain.Resource, trustScore int, recording bool) *domain.Session {
	now := m.nowF().UTC()
	key := tripleKey{identity.UserID, dev.ID, res.ID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byTriple[key]; ok {
		if s, ok := m.sessions[id]; ok {
			m.expireLocked(s, now)
			if s.Status == domain.StatusActive {
				s.LastActivity = now
				s.TrustScore = trustScore
				if recording {
					s.Recording = true
				}
				out := *s
				return &out
			}
		}
	}

	s := &domain.Session{
		ID:           uuid.NewString(),
		Identity:     *identity,
		Device:       *dev,
		Resource:     *res,
		Status:       domain.StatusActive,
		TrustScore:   trustScore,
		Recording:    recording,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.ttl),
	}
	m.sessions[s.ID] = s
	m.byTriple[key] = s.ID
	if m.byUser[identity.UserID] == nil {
		m.byUser[identity.UserID] = make(map[string]struct{})
	}
	m.byUser[identity.UserID][s.ID] = struct{}{}

	out := *s
	return &out
}

// Get returns a copy of the session, applying lazy expiry first.
func (m *Manager) Get(sessionID string) (*domain.Session, error) {
	now := m.nowF().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	m.expireLocked(s, now)
	out := *s
	return &out, nil
}

// UserSessions returns the user's active sessions.
func (m *Manager) UserSessions(userID string) []domain.Session {
	now := m.nowF().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for id := range m.byUser[userID] {
		s, ok := m.sessions[id]
		if !ok {
			continue
		}
		m.expireLocked(s, now)
		if s.Status == domain.StatusActive {
			out = append(out, *s)
		}
	}
	return out
}

// Touch refreshes the session's last-activity timestamp.
func (m *Manager) Touch(sessionID string) {
	now := m.nowF().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok && s.Status == domain.StatusActive {
		s.LastActivity = now
	}
}

// Terminate revokes the session. Terminating an unknown session returns
// ErrSessionNotFound; terminating twice is a no-op.
func (m *Manager) Terminate(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status == domain.StatusRevoked {
		return nil
	}
	s.Status = domain.StatusRevoked
	m.unindexLocked(s)
	return nil
}

// TerminateAll revokes every session of the user.
func (m *Manager) TerminateAll(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.byUser[userID] {
		if s, ok := m.sessions[id]; ok {
			s.Status = domain.StatusRevoked
			delete(m.byTriple, tripleKey{s.Identity.UserID, s.Device.ID, s.Resource.ID})
		}
	}
	delete(m.byUser, userID)
}

// Suspend parks an active session pending re-authentication.
func (m *Manager) Suspend(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status == domain.StatusActive {
		s.Status = domain.StatusSuspended
	}
	return nil
}

// Reactivate resumes a suspended session. Requires fresh MFA; reactivation
// refreshes activity and extends expiry by the configured ttl.
func (m *Manager) Reactivate(sessionID string, mfaVerified bool) bool {
	now := m.nowF().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != domain.StatusSuspended || !mfaVerified {
		return false
	}
	s.Status = domain.StatusActive
	s.LastActivity = now
	s.ExpiresAt = now.Add(m.ttl)
	return true
}

// ApplyTrustBonus raises the session's trust score, clamped to 100. Used to feed
// a completed step-up back into session trust.
func (m *Manager) ApplyTrustBonus(sessionID string, bonus int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.TrustScore += bonus
	if s.TrustScore > 100 {
		s.TrustScore = 100
	}
	return nil
}

// Sweep flips every active session past its expiry to Expired. Returns how many
// were flipped.
func (m *Manager) Sweep() int {
	now := m.nowF().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	flipped := 0
	for _, s := range m.sessions {
		if s.Status == domain.StatusActive && now.After(s.ExpiresAt) {
			s.Status = domain.StatusExpired
			m.unindexLocked(s)
			flipped++
		}
	}
	return flipped
}

// Stats returns a census of the registry by status.
func (m *Manager) Stats() domain.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats domain.Stats
	for _, s := range m.sessions {
		stats.Total++
		switch s.Status {
		case domain.StatusActive:
			stats.Active++
		case domain.StatusSuspended:
			stats.Suspended++
		case domain.StatusRevoked:
			stats.Revoked++
		case domain.StatusExpired:
			stats.Expired++
		}
	}
	stats.UniqueUsers = len(m.byUser)
	return stats
}

// expireLocked applies lazy expiry to an active session. Caller holds m.mu.
func (m *Manager) expireLocked(s *domain.Session, now time.Time) {
	if s.Status == domain.StatusActive && now.After(s.ExpiresAt) {
		s.Status = domain.StatusExpired
		m.unindexLocked(s)
	}
}

// unindexLocked removes the session from the triple and user indexes so a
// subsequent grant creates a fresh session. Caller holds m.mu.
func (m *Manager) unindexLocked(s *domain.Session) {
	delete(m.byTriple, tripleKey{s.Identity.UserID, s.Device.ID, s.Resource.ID})
	if ids, ok := m.byUser[s.Identity.UserID]; ok {
		delete(ids, s.ID)
		if len(ids) == 0 {
			delete(m.byUser, s.Identity.UserID)
		}
	}
}
