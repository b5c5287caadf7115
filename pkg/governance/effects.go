package governance

import "sync"

// EffectRegistry knows the catalog of effect identifiers and which pairs
// are mutually exclusive. The conflict detector and the lifecycle manager
// both consult it; operators seed it from the policy pack.
type EffectRegistry struct {
	mu        sync.RWMutex
	effects   map[string]string              // id → description
	exclusive map[string]map[string]struct{} // symmetric adjacency
}

// NewEffectRegistry creates an empty registry.
func NewEffectRegistry() *EffectRegistry {
	return &EffectRegistry{
		effects:   make(map[string]string),
		exclusive: make(map[string]map[string]struct{}),
	}
}

// Register adds an effect and its exclusivity pairs. Exclusivity is
// symmetric: registering (a excludes b) also marks (b excludes a).
func (r *EffectRegistry) Register(id, description string, exclusiveWith ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects[id] = description
	for _, other := range exclusiveWith {
		r.link(id, other)
		r.link(other, id)
	}
}

func (r *EffectRegistry) link(a, b string) {
	set, ok := r.exclusive[a]
	if !ok {
		set = make(map[string]struct{})
		r.exclusive[a] = set
	}
	set[b] = struct{}{}
}

// Exclusive reports whether two effects may not both execute.
func (r *EffectRegistry) Exclusive(a, b string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if set, ok := r.exclusive[a]; ok {
		if _, bad := set[b]; bad {
			return true
		}
	}
	return false
}

// Known reports whether the effect id has been registered.
func (r *EffectRegistry) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.effects[id]
	return ok
}
