// Package engine evaluates access requests against ordered policies.
// The first enabled, matching policy wins; no match falls through to a default
// that must be deny (fail-closed).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	accessdomain "opensase/access-plane/internal/access/domain"
	"opensase/access-plane/internal/policy/domain"
)

// ErrInvalidPolicy is returned when a policy is rejected before storage
// (e.g. its Rego rule does not compile or its effect is not a decision).
var ErrInvalidPolicy = errors.New("invalid policy")

// Engine matches request attributes against ordered rules.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*storedPolicy
	// defaultDecision applies when no policy matches. Construction forces deny.
	defaultDecision accessdomain.Decision
}

type storedPolicy struct {
	policy domain.Policy
	rego   *regoCondition // nil when the policy has no Rego rule
}

// NewEngine returns an Engine with a fail-closed default: requests matching no
// policy are denied.
func NewEngine() *Engine {
	return &Engine{
		policies:        make(map[string]*storedPolicy),
		defaultDecision: accessdomain.DecisionDeny,
	}
}

// Upsert validates and stores the policy keyed by id. A Rego rule that fails to
// compile rejects the policy before any mutation.
func (e *Engine) Upsert(p domain.Policy) error {
	switch p.Effect {
	case accessdomain.DecisionAllow, accessdomain.DecisionDeny, accessdomain.DecisionChallenge:
	default:
		return fmt.Errorf("%w: effect %q", ErrInvalidPolicy, p.Effect)
	}
	var rc *regoCondition
	if p.RegoRule != "" {
		var err error
		rc, err = compileRegoCondition(p.ID, p.RegoRule)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.ID] = &storedPolicy{policy: p, rego: rc}
	return nil
}

// Remove deletes the policy with the given id. Unknown ids are a no-op.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.policies, id)
}

// List returns all policies ordered by ascending priority.
func (e *Engine) List() []domain.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Policy, 0, len(e.policies))
	for _, sp := range e.policies {
		out = append(out, sp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Evaluate returns the decision of the first enabled, matching policy in priority
// order (lower priority value first). A Rego evaluation failure is fail-closed for
// that policy: it is treated as non-matching.
func (e *Engine) Evaluate(ctx context.Context, req *accessdomain.AccessRequest) accessdomain.PolicyDecision {
	e.mu.RLock()
	ordered := make([]*storedPolicy, 0, len(e.policies))
	for _, sp := range e.policies {
		ordered = append(ordered, sp)
	}
	e.mu.RUnlock()
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].policy.Priority < ordered[j].policy.Priority })

	for _, sp := range ordered {
		p := &sp.policy
		if !p.Enabled {
			continue
		}
		if !p.Match.Matches(req) {
			continue
		}
		if sp.rego != nil {
			matched, err := sp.rego.eval(ctx, req)
			if err != nil {
				log.Printf("policy: rego eval failed for %s: %v", p.ID, err)
				continue
			}
			if !matched {
				continue
			}
		}
		return accessdomain.PolicyDecision{
			Decision:   p.Effect,
			Reasons:    []string{fmt.Sprintf("policy %q matched", p.Name)},
			Conditions: append([]accessdomain.Condition(nil), p.Conditions...),
		}
	}

	return accessdomain.PolicyDecision{
		Decision: e.defaultDecision,
		Reasons:  []string{"no matching policy; default deny"},
	}
}
