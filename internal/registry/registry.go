// Package registry holds per-agent static weights and per-domain expertise
// scores used by weighted and expert-aware aggregation.
//
// The registry is shared mutable state read by every aggregation. Expertise
// maps are replaced atomically under the lock (never mutated field by field),
// so a concurrent reader sees either the old map or the new one, never a
// torn mix. Profile mutations affect only aggregations finalized after the
// change; there is no retroactive recompute.
package registry

import (
	"fmt"
	"sync"
)

const (
	// DefaultWeight applies to agents with no registered profile.
	DefaultWeight = 1.0
	// DefaultExpertise applies to (agent, domain) pairs with no registered
	// score, so aggregation never fails due to missing profile data.
	DefaultExpertise = 0.5
)

// Profile is a snapshot of one agent's aggregation parameters.
type Profile struct {
	AgentID   string             `json:"agent_id"`
	Weight    float64            `json:"weight"`
	Expertise map[string]float64 `json:"expertise,omitempty"`
}

type entry struct {
	weight    float64
	expertise map[string]float64 // replaced wholesale, never mutated in place
}

// Registry is a concurrency-safe store of agent profiles.
// The zero value is not usable; construct with New.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{profiles: make(map[string]*entry)}
}

// SetWeight sets an agent's static vote weight. Weight must be > 0.
func (r *Registry) SetWeight(agentID string, weight float64) error {
	if weight <= 0 {
		return fmt.Errorf("registry: weight for %s must be > 0, got %v", agentID, weight)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.profiles[agentID]
	if e == nil {
		e = &entry{weight: DefaultWeight}
		r.profiles[agentID] = e
	}
	e.weight = weight
	return nil
}

// SetExpertise replaces the agent's full expertise map (not merged).
// Every score must be in [0,1]. The input map is copied.
func (r *Registry) SetExpertise(agentID string, scores map[string]float64) error {
	for domain, score := range scores {
		if score < 0 || score > 1 {
			return fmt.Errorf("registry: expertise %s/%s must be in [0,1], got %v", agentID, domain, score)
		}
	}
	copied := make(map[string]float64, len(scores))
	for domain, score := range scores {
		copied[domain] = score
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.profiles[agentID]
	if e == nil {
		e = &entry{weight: DefaultWeight}
		r.profiles[agentID] = e
	}
	e.expertise = copied
	return nil
}

// Weight returns the agent's vote weight, or DefaultWeight if unset.
func (r *Registry) Weight(agentID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.profiles[agentID]; ok {
		return e.weight
	}
	return DefaultWeight
}

// Expertise returns the agent's score for a domain, or DefaultExpertise
// if the agent or the domain is unset.
func (r *Registry) Expertise(agentID, domain string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.profiles[agentID]; ok {
		if score, ok := e.expertise[domain]; ok {
			return score
		}
	}
	return DefaultExpertise
}

// Profile returns a snapshot of one agent's profile and whether it exists.
func (r *Registry) Profile(agentID string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.profiles[agentID]
	if !ok {
		return Profile{AgentID: agentID, Weight: DefaultWeight}, false
	}
	p := Profile{AgentID: agentID, Weight: e.weight}
	if e.expertise != nil {
		p.Expertise = make(map[string]float64, len(e.expertise))
		for domain, score := range e.expertise {
			p.Expertise[domain] = score
		}
	}
	return p, true
}
