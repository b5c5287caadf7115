package override

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// MemoryStore is a transient Store for tests and single-process runs.
type MemoryStore struct {
	mu        sync.RWMutex
	overrides map[string]*contracts.EmergencyOverride
}

// NewMemoryStore creates an empty in-memory override store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{overrides: make(map[string]*contracts.EmergencyOverride)}
}

func clone(o *contracts.EmergencyOverride) *contracts.EmergencyOverride {
	cp := *o
	cp.AffectedPolicies = append([]string(nil), o.AffectedPolicies...)
	cp.OverrideRules = append([]contracts.Rule(nil), o.OverrideRules...)
	if o.ActivatedAt != nil {
		t := *o.ActivatedAt
		cp.ActivatedAt = &t
	}
	return &cp
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*contracts.EmergencyOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[id]
	if !ok {
		return nil, fmt.Errorf("override %s: %w", id, ErrNotFound)
	}
	return clone(o), nil
}

func (s *MemoryStore) Put(ctx context.Context, o *contracts.EmergencyOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[o.ID] = clone(o)
	return nil
}

func (s *MemoryStore) All(ctx context.Context) ([]contracts.EmergencyOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.EmergencyOverride, 0, len(s.overrides))
	for _, o := range s.overrides {
		out = append(out, *clone(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
