package device

import (
	"sync"
	"time"

	"opensase/access-plane/internal/device/domain"
)

type record struct {
	device           domain.Device
	ownerID          string
	registeredAt     time.Time
	lastPostureCheck time.Time
}

// Registry is a concurrent device store keyed by device id, with an owner binding
// recorded for per-user listing. Upserts are idempotent.
type Registry struct {
	mu   sync.RWMutex
	m    map[string]*record
	nowF func() time.Time
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		m:    make(map[string]*record),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Register upserts the device keyed by its id and binds it to userID.
// Re-registering the same id replaces the stored device and owner.
func (r *Registry) Register(userID string, d *domain.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowF()
	if existing, ok := r.m[d.ID]; ok {
		existing.device = *d
		existing.ownerID = userID
		existing.lastPostureCheck = now
		return
	}
	r.m[d.ID] = &record{
		device:           *d,
		ownerID:          userID,
		registeredAt:     now,
		lastPostureCheck: now,
	}
}

// Get returns the device for id, or ok false when unknown.
func (r *Registry) Get(id string) (*domain.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.m[id]
	if !ok {
		return nil, false
	}
	cp := rec.device
	return &cp, true
}

// IsRegistered reports whether the device id is known.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.m[id]
	return ok
}

// UpdatePosture replaces the stored posture for a known device id.
// Unknown ids are ignored; posture for unregistered devices has nowhere to go.
func (r *Registry) UpdatePosture(id string, p domain.Posture) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.m[id]
	if !ok {
		return
	}
	rec.device.Posture = p
	rec.lastPostureCheck = r.nowF()
}

// UserDevices returns all devices bound to userID.
func (r *Registry) UserDevices(userID string) []*domain.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Device
	for _, rec := range r.m {
		if rec.ownerID == userID {
			cp := rec.device
			out = append(out, &cp)
		}
	}
	return out
}
