// Package rules holds the rule registry, the parallel evaluator with
// per-rule isolation, and the built-in workflow rules.
package rules

import (
	"sync"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// Registered pairs a rule definition with its behavior. Declaration order is
// preserved so reports stay diffable across runs.
type Registered struct {
	Def  contracts.RuleDefinition
	Rule contracts.Rule
}

// Registry is an ordered collection of rules keyed by id.
type Registry struct {
	mu    sync.RWMutex
	order []Registered
	byID  map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Register adds a rule. Registering a duplicate id or a nil rule errors.
func (r *Registry) Register(def contracts.RuleDefinition, rule contracts.Rule) error {
	if def.ID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "rule id is required")
	}
	if rule == nil {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "rule %s has no behavior", def.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[def.ID]; exists {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "rule %s already registered", def.ID)
	}
	r.byID[def.ID] = len(r.order)
	r.order = append(r.order, Registered{Def: def, Rule: rule})
	return nil
}

// All returns every rule in declaration order.
func (r *Registry) All() []Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registered, len(r.order))
	copy(out, r.order)
	return out
}

// Enabled resolves the enabled subset, preserving declaration order. An
// empty id list enables everything; an unknown id errors.
func (r *Registry) Enabled(ids []string) ([]Registered, error) {
	if len(ids) == 0 {
		return r.All(), nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, exists := r.byID[id]; !exists {
			return nil, contracts.NewCodedError(contracts.CodeInvalidInput, "unknown rule %s", id)
		}
		want[id] = true
	}

	out := make([]Registered, 0, len(want))
	for _, reg := range r.order {
		if want[reg.Def.ID] {
			out = append(out, reg)
		}
	}
	return out, nil
}

// Get returns the rule with the given id.
func (r *Registry) Get(id string) (Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return Registered{}, false
	}
	return r.order[idx], true
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
