// Package resource holds the in-process face of the resource-registry collaborator:
// a concurrent catalog of protected resources keyed by id.
package resource

import (
	"sync"

	"opensase/access-plane/internal/resource/domain"
)

// Registry is a concurrent resource catalog.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*domain.Resource
}

// NewRegistry returns an empty resource catalog.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]*domain.Resource)}
}

// Upsert registers or replaces a catalog entry keyed by resource id.
func (r *Registry) Upsert(res *domain.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *res
	r.m[res.ID] = &cp
}

// Get returns the resource for id, or ok false when absent.
func (r *Registry) Get(id string) (*domain.Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.m[id]
	if !ok {
		return nil, false
	}
	cp := *res
	return &cp, true
}

// List returns all catalog entries in unspecified order.
func (r *Registry) List() []*domain.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Resource, 0, len(r.m))
	for _, res := range r.m {
		cp := *res
		out = append(out, &cp)
	}
	return out
}
