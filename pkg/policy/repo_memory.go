package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// MemoryRepository is a transient Repository for tests and single-process runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	heads   map[string]*contracts.Policy
	history map[string][]contracts.Policy
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		heads:   make(map[string]*contracts.Policy),
		history: make(map[string][]contracts.Policy),
	}
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*contracts.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.heads[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	return p.Clone(), nil
}

func (r *MemoryRepository) Put(ctx context.Context, p *contracts.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heads[p.ID] = p.Clone()
	return nil
}

func (r *MemoryRepository) SaveVersion(ctx context.Context, p *contracts.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[p.ID] = append(r.history[p.ID], *p.Clone())
	return nil
}

func (r *MemoryRepository) GetVersion(ctx context.Context, id string, version int) (*contracts.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if head, ok := r.heads[id]; ok && head.Version == version {
		return head.Clone(), nil
	}
	for _, p := range r.history[id] {
		if p.Version == version {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("policy %s version %d: %w", id, version, ErrNotFound)
}

func (r *MemoryRepository) History(ctx context.Context, id string) ([]contracts.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.history[id]
	out := make([]contracts.Policy, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r *MemoryRepository) All(ctx context.Context) ([]contracts.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contracts.Policy, 0, len(r.heads))
	for _, p := range r.heads {
		out = append(out, *p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
