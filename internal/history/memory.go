package history

import (
	"context"
	"sync"
	"time"

	"opensase/access-plane/internal/accessctx"
)

type record struct {
	lastLocation   *accessctx.GeoLocation
	lastAccess     time.Time
	knownDevices   map[string]struct{}
	knownCountries map[string]struct{}
	typicalHours   *accessctx.HourWindow
}

// Memory is an in-process Provider for single-node deployments and tests.
type Memory struct {
	mu    sync.RWMutex
	users map[string]*record
}

// NewMemory returns an empty in-memory Provider.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]*record)}
}

// History implements Provider. Unknown users get an empty baseline.
func (m *Memory) History(_ context.Context, userID string) (*accessctx.UserHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.users[userID]
	if !ok {
		return &accessctx.UserHistory{
			KnownDevices:   map[string]struct{}{},
			KnownCountries: map[string]struct{}{},
		}, nil
	}
	out := &accessctx.UserHistory{
		LastAccess:     r.lastAccess,
		KnownDevices:   make(map[string]struct{}, len(r.knownDevices)),
		KnownCountries: make(map[string]struct{}, len(r.knownCountries)),
	}
	if r.lastLocation != nil {
		loc := *r.lastLocation
		out.LastLocation = &loc
	}
	if r.typicalHours != nil {
		hw := *r.typicalHours
		out.TypicalHours = &hw
	}
	for d := range r.knownDevices {
		out.KnownDevices[d] = struct{}{}
	}
	for c := range r.knownCountries {
		out.KnownCountries[c] = struct{}{}
	}
	return out, nil
}

// RecordAccess implements Provider: folds a granted access into the baseline.
func (m *Memory) RecordAccess(_ context.Context, userID, deviceID string, geo *accessctx.GeoLocation, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.users[userID]
	if !ok {
		r = &record{
			knownDevices:   make(map[string]struct{}),
			knownCountries: make(map[string]struct{}),
			typicalHours:   accessctx.DefaultHourWindow(),
		}
		m.users[userID] = r
	}
	r.lastAccess = at.UTC()
	if deviceID != "" {
		r.knownDevices[deviceID] = struct{}{}
	}
	if geo != nil {
		loc := *geo
		r.lastLocation = &loc
		if geo.Country != "" {
			r.knownCountries[geo.Country] = struct{}{}
		}
	}
	return nil
}

// SetTypicalHours overrides the user's typical-hours baseline.
func (m *Memory) SetTypicalHours(userID string, hw accessctx.HourWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.users[userID]
	if !ok {
		r = &record{
			knownDevices:   make(map[string]struct{}),
			knownCountries: make(map[string]struct{}),
		}
		m.users[userID] = r
	}
	r.typicalHours = &hw
}
