package ledger

import (
	"context"
	"sync"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// MemoryStore is a transient Store for tests and single-process runs.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]contracts.AuditEntry
	sealed map[string]bool
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains: make(map[string][]contracts.AuditEntry),
		sealed: make(map[string]bool),
	}
}

func chainKey(resourceType, resourceID string) string {
	return resourceType + "/" + resourceID
}

func (s *MemoryStore) AppendEntry(ctx context.Context, entry contracts.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chainKey(entry.ResourceType, entry.ResourceID)
	s.chains[key] = append(s.chains[key], entry)
	return nil
}

func (s *MemoryStore) Entries(ctx context.Context, resourceType, resourceID string) ([]contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.chains[chainKey(resourceType, resourceID)]
	out := make([]contracts.AuditEntry, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) LastEntry(ctx context.Context, resourceType, resourceID string) (*contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.chains[chainKey(resourceType, resourceID)]
	if len(src) == 0 {
		return nil, nil
	}
	last := src[len(src)-1]
	return &last, nil
}

func (s *MemoryStore) IsSealed(ctx context.Context, resourceType, resourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed[chainKey(resourceType, resourceID)], nil
}

func (s *MemoryStore) MarkSealed(ctx context.Context, resourceType, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed[chainKey(resourceType, resourceID)] = true
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []contracts.AuditEntry
	for _, chain := range s.chains {
		for _, entry := range chain {
			if !matches(entry, filter) {
				continue
			}
			out = append(out, entry)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func matches(entry contracts.AuditEntry, f Filter) bool {
	if f.EventType != "" && entry.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && entry.Severity != f.Severity {
		return false
	}
	if f.ResourceType != "" && entry.ResourceType != f.ResourceType {
		return false
	}
	if !f.From.IsZero() && entry.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && entry.Timestamp.After(f.To) {
		return false
	}
	return true
}
