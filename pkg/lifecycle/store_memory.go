package lifecycle

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// MemoryStore is a transient ActionStore for tests and single-process runs.
type MemoryStore struct {
	mu      sync.RWMutex
	actions map[string]*contracts.Action
}

// NewMemoryStore creates an empty in-memory action store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]*contracts.Action)}
}

func cloneAction(a *contracts.Action) *contracts.Action {
	cp := *a
	if a.Explainability != nil {
		cp.Explainability = append([]byte(nil), a.Explainability...)
	}
	if a.Parameters != nil {
		cp.Parameters = maps.Clone(a.Parameters)
	}
	return &cp
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*contracts.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, fmt.Errorf("action %s: %w", id, ErrNotFound)
	}
	return cloneAction(a), nil
}

func (s *MemoryStore) Put(ctx context.Context, a *contracts.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[a.ID] = cloneAction(a)
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context) ([]contracts.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Action
	for _, a := range s.actions {
		if a.Status == contracts.StatusPending {
			out = append(out, *cloneAction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
