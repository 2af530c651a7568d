// Package connector manages the connector registry and micro-tunnel lifecycle.
// Tunnel creation and session teardown are mutually exclusive per session id so a
// tunnel can never outlive its session.
package connector

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"opensase/access-plane/internal/connector/domain"
)

var (
	// ErrNoConnectorAvailable means no healthy connector serves the resource.
	ErrNoConnectorAvailable = errors.New("no healthy connector available")
	// ErrTunnelNotFound means no tunnel exists for the given id.
	ErrTunnelNotFound = errors.New("tunnel not found")
	// ErrProtocolNotSupported means the selected connector cannot carry the
	// requested protocol.
	ErrProtocolNotSupported = errors.New("protocol not supported by connector")
	// ErrSessionClosed means the session was torn down; no new tunnels for it.
	ErrSessionClosed = errors.New("session tunnels already torn down")
)

// Manager tracks connectors, tunnels and the tunnel bindings per session.
type Manager struct {
	mu         sync.RWMutex
	connectors map[string]*domain.Connector
	tunnels    map[string]*domain.Tunnel
	bySession  map[string][]string
	// tornDown records sessions whose tunnels were torn down. Guarded by mu;
	// checked under the per-session lock so create cannot race teardown.
	tornDown map[string]struct{}

	sessionLocks sync.Map // session id -> *sync.Mutex
	nowF         func() time.Time
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		connectors: make(map[string]*domain.Connector),
		tunnels:    make(map[string]*domain.Tunnel),
		bySession:  make(map[string][]string),
		tornDown:   make(map[string]struct{}),
		nowF:       time.Now,
	}
}

// RegisterConnector upserts the connector keyed by id.
func (m *Manager) RegisterConnector(c domain.Connector) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.nowF().UTC()
	}
	if c.Health == "" {
		c.Health = domain.HealthUnknown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Printf("connector: registering %s for resource %s", c.ID, c.ResourceID)
	m.connectors[c.ID] = &c
}

// SetHealth updates a connector's reported health. Unknown ids are a no-op.
func (m *Manager) SetHealth(connectorID string, h domain.Health) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connectors[connectorID]; ok {
		c.Health = h
	}
}

// Connector returns a copy of the connector with the given id.
func (m *Manager) Connector(id string) (*domain.Connector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connectors[id]
	if !ok {
		return nil, false
	}
	out := *c
	return &out, true
}

// HealthyConnectors returns the healthy connectors serving the resource.
func (m *Manager) HealthyConnectors(resourceID string) []domain.Connector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Connector
	for _, c := range m.connectors {
		if c.ResourceID == resourceID && c.Health == domain.HealthHealthy {
			out = append(out, *c)
		}
	}
	return out
}

// CreateTunnel opens an Establishing tunnel for the session to the resource over
// the first healthy connector. It fails when no healthy connector exists, when
// the connector cannot carry the protocol, or when the session was already torn
// down.
func (m *Manager) CreateTunnel(sessionID, userID, resourceID string, protocol domain.Protocol) (*domain.Tunnel, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, closed := m.tornDown[sessionID]; closed {
		return nil, ErrSessionClosed
	}

	var chosen *domain.Connector
	for _, c := range m.connectors {
		if c.ResourceID == resourceID && c.Health == domain.HealthHealthy {
			chosen = c
			break
		}
	}
	if chosen == nil {
		return nil, ErrNoConnectorAvailable
	}
	if !chosen.Capabilities.Supports(protocol) {
		return nil, ErrProtocolNotSupported
	}

	now := m.nowF().UTC()
	t := &domain.Tunnel{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ConnectorID: chosen.ID,
		ResourceID:  resourceID,
		UserID:      userID,
		Destination: chosen.Endpoint,
		Protocol:    protocol,
		State:       domain.TunnelEstablishing,
		Encryption: domain.Encryption{
			Cipher:              "AES-256-GCM",
			KeyExchange:         "ECDHE",
			CertificateVerified: true,
		},
		CreatedAt:    now,
		LastActivity: now,
	}
	m.tunnels[t.ID] = t
	m.bySession[sessionID] = append(m.bySession[sessionID], t.ID)

	log.Printf("connector: created tunnel %s for session %s via %s", t.ID, sessionID, chosen.ID)

	out := *t
	return &out, nil
}

// ActivateTunnel moves an Establishing tunnel to Active.
func (m *Manager) ActivateTunnel(tunnelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tunnels[tunnelID]
	if !ok {
		return ErrTunnelNotFound
	}
	if t.State == domain.TunnelEstablishing {
		t.State = domain.TunnelActive
		t.LastActivity = m.nowF().UTC()
	}
	return nil
}

// CloseTunnel moves the tunnel to Closed from any state. Closing an already
// closed or unknown tunnel is a no-op.
func (m *Manager) CloseTunnel(tunnelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tunnels[tunnelID]; ok {
		t.State = domain.TunnelClosed
	}
}

// CloseSessionTunnels closes and unbinds every tunnel of the session, and marks
// the session torn down so no concurrent create can add a tunnel afterwards.
func (m *Manager) CloseSessionTunnels(sessionID string) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tornDown[sessionID] = struct{}{}
	for _, id := range m.bySession[sessionID] {
		if t, ok := m.tunnels[id]; ok {
			t.State = domain.TunnelClosed
		}
	}
	delete(m.bySession, sessionID)
}

// SessionTunnels returns copies of the session's bound tunnels.
func (m *Manager) SessionTunnels(sessionID string) []domain.Tunnel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Tunnel
	for _, id := range m.bySession[sessionID] {
		if t, ok := m.tunnels[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// Tunnel returns a copy of the tunnel with the given id.
func (m *Manager) Tunnel(id string) (*domain.Tunnel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tunnels[id]
	if !ok {
		return nil, false
	}
	out := *t
	return &out, true
}

// UpdateActivity accumulates byte counters and refreshes last activity. Unknown
// tunnel ids are a no-op.
func (m *Manager) UpdateActivity(tunnelID string, bytesSent, bytesReceived uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tunnels[tunnelID]; ok {
		t.LastActivity = m.nowF().UTC()
		t.BytesSent += bytesSent
		t.BytesReceived += bytesReceived
	}
}

// Stats returns a census of connectors and tunnels.
func (m *Manager) Stats() domain.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats domain.Stats
	stats.TotalConnectors = len(m.connectors)
	for _, c := range m.connectors {
		if c.Health == domain.HealthHealthy {
			stats.HealthyConnectors++
		}
	}
	for _, t := range m.tunnels {
		stats.TotalTunnels++
		switch t.State {
		case domain.TunnelActive:
			stats.ActiveTunnels++
		case domain.TunnelEstablishing:
			stats.EstablishingTunnels++
		}
		stats.TotalBytesSent += t.BytesSent
		stats.TotalBytesReceived += t.BytesReceived
	}
	return stats
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	v, _ := m.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}
