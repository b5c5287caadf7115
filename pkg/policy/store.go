// Package policy owns versioned policy storage and scope resolution.
//
// Edits never interleave: each policy carries a lock, and every update must
// supply the version it read. Prior versions are retained immutably so a
// bad edit can be rolled back without losing history.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/citygrid-labs/aegis/pkg/contracts"
	"github.com/citygrid-labs/aegis/pkg/ledger"
)

// Repository abstracts policy persistence (head + immutable history).
type Repository interface {
	Get(ctx context.Context, id string) (*contracts.Policy, error)
	Put(ctx context.Context, p *contracts.Policy) error
	SaveVersion(ctx context.Context, p *contracts.Policy) error
	GetVersion(ctx context.Context, id string, version int) (*contracts.Policy, error)
	History(ctx context.Context, id string) ([]contracts.Policy, error)
	All(ctx context.Context) ([]contracts.Policy, error)
}

// Store is the policy store: versioning, status transitions and scope
// resolution, with every change recorded in the audit ledger.
type Store struct {
	repo   Repository
	audit  *ledger.Ledger
	clock  func() time.Time
	schema *Validator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store over the given repository.
func NewStore(repo Repository, audit *ledger.Ledger) *Store {
	return &Store{
		repo:   repo,
		audit:  audit,
		clock:  time.Now,
		schema: NewValidator(),
		locks:  make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) policyLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

// Submit creates a new policy at version 1.
func (s *Store) Submit(ctx context.Context, p *contracts.Policy, actor contracts.Actor) (*contracts.Policy, error) {
	if err := s.schema.Validate(p); err != nil {
		return nil, err
	}

	lock := s.policyLock(p.ID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.repo.Get(ctx, p.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("policy %s: checking for duplicate: %w", p.ID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("policy %s already exists (use update)", p.ID)
	}

	now := s.clock().UTC()
	head := p.Clone()
	head.Version = 1
	head.CreatedAt = now
	head.UpdatedAt = now
	head.UpdatedBy = actor.ID
	if head.Status == "" {
		head.Status = contracts.PolicyDraft
	}

	if err := s.repo.Put(ctx, head); err != nil {
		return nil, fmt.Errorf("policy %s: persisting: %w", p.ID, err)
	}

	if _, err := s.audit.Append(ctx, ledger.Entry{
		EventType:    contracts.EventPolicyCreated,
		Severity:     contracts.SeverityInfo,
		Actor:        actor,
		ResourceType: contracts.ResourcePolicy,
		ResourceID:   head.ID,
		Description:  fmt.Sprintf("policy %q created at version 1 (scope %s)", head.Name, head.Scope),
	}); err != nil {
		return nil, err
	}
	return head.Clone(), nil
}

// Update replaces the head of a policy. readVersion must match the current
// head version or the edit fails with *StaleVersionError. The prior head
// is snapshotted into history before the new head is written.
func (s *Store) Update(ctx context.Context, p *contracts.Policy, readVersion int, actor contracts.Actor) (*contracts.Policy, error) {
	if err := s.schema.Validate(p); err != nil {
		return nil, err
	}

	lock := s.policyLock(p.ID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.repo.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if current.Version != readVersion {
		return nil, &StaleVersionError{PolicyID: p.ID, Supplied: readVersion, Current: current.Version}
	}

	if err := s.repo.SaveVersion(ctx, current); err != nil {
		return nil, fmt.Errorf("policy %s: snapshotting version %d: %w", p.ID, current.Version, err)
	}

	head := p.Clone()
	head.Version = current.Version + 1
	head.CreatedAt = current.CreatedAt
	head.UpdatedAt = s.clock().UTC()
	head.UpdatedBy = actor.ID
	if head.Status == "" {
		head.Status = current.Status
	}

	if err := s.repo.Put(ctx, head); err != nil {
		return nil, fmt.Errorf("policy %s: persisting version %d: %w", p.ID, head.Version, err)
	}

	if _, err := s.audit.Append(ctx, ledger.Entry{
		EventType:    contracts.EventPolicyUpdated,
		Severity:     contracts.SeverityInfo,
		Actor:        actor,
		ResourceType: contracts.ResourcePolicy,
		ResourceID:   head.ID,
		Description:  fmt.Sprintf("policy %q updated to version %d", head.Name, head.Version),
	}); err != nil {
		return nil, err
	}
	return head.Clone(), nil
}

// Deprecate is the logical delete: status becomes deprecated, history and
// audit trail remain.
func (s *Store) Deprecate(ctx context.Context, id string, readVersion int, actor contracts.Actor) (*contracts.Policy, error) {
	lock := s.policyLock(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != readVersion {
		return nil, &StaleVersionError{PolicyID: id, Supplied: readVersion, Current: current.Version}
	}

	if err := s.repo.SaveVersion(ctx, current); err != nil {
		return nil, fmt.Errorf("policy %s: snapshotting version %d: %w", id, current.Version, err)
	}

	head := current.Clone()
	head.Status = contracts.PolicyDeprecated
	head.Version = current.Version + 1
	head.UpdatedAt = s.clock().UTC()
	head.UpdatedBy = actor.ID

	if err := s.repo.Put(ctx, head); err != nil {
		return nil, fmt.Errorf("policy %s: persisting: %w", id, err)
	}

	if _, err := s.audit.Append(ctx, ledger.Entry{
		EventType:    contracts.EventPolicyDeprecated,
		Severity:     contracts.SeverityWarning,
		Actor:        actor,
		ResourceType: contracts.ResourcePolicy,
		ResourceID:   id,
		Description:  fmt.Sprintf("policy %q deprecated", head.Name),
	}); err != nil {
		return nil, err
	}
	return head.Clone(), nil
}

// Rollback restores a historical version as a new head. The version
// counter keeps increasing; rollback never rewrites history.
func (s *Store) Rollback(ctx context.Context, id string, toVersion int, actor contracts.Actor) (*contracts.Policy, error) {
	lock := s.policyLock(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	target, err := s.repo.GetVersion(ctx, id, toVersion)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveVersion(ctx, current); err != nil {
		return nil, fmt.Errorf("policy %s: snapshotting version %d: %w", id, current.Version, err)
	}

	head := target.Clone()
	head.Version = current.Version + 1
	head.UpdatedAt = s.clock().UTC()
	head.UpdatedBy = actor.ID

	if err := s.repo.Put(ctx, head); err != nil {
		return nil, fmt.Errorf("policy %s: persisting rollback: %w", id, err)
	}

	if _, err := s.audit.Append(ctx, ledger.Entry{
		EventType:    contracts.EventPolicyRolledBack,
		Severity:     contracts.SeverityWarning,
		Actor:        actor,
		ResourceType: contracts.ResourcePolicy,
		ResourceID:   id,
		Description:  fmt.Sprintf("policy %q rolled back to the content of version %d (now version %d)", head.Name, toVersion, head.Version),
	}); err != nil {
		return nil, err
	}
	return head.Clone(), nil
}

// Get returns the current head of a policy.
func (s *Store) Get(ctx context.Context, id string) (*contracts.Policy, error) {
	return s.repo.Get(ctx, id)
}

// History returns the immutable prior versions of a policy.
func (s *Store) History(ctx context.Context, id string) ([]contracts.Policy, error) {
	return s.repo.History(ctx, id)
}

// Resolve gathers the active policies applicable to a scope reference:
// global always, plus each named narrower scope. Broader scopes are
// evaluated in addition to narrower ones: union, not inheritance.
// Ordering is broad-to-narrow, then policy ID, so evaluation input is
// deterministic.
func (s *Store) Resolve(ctx context.Context, ref contracts.ScopeRef) ([]contracts.Policy, error) {
	all, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}

	var out []contracts.Policy
	for _, p := range all {
		if p.Status != contracts.PolicyActive {
			continue
		}
		if inScope(p, ref) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[j].Scope.Narrower(out[i].Scope)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func inScope(p contracts.Policy, ref contracts.ScopeRef) bool {
	switch p.Scope {
	case contracts.ScopeGlobal:
		return true
	case contracts.ScopeCity:
		return ref.City != "" && p.ScopeID == ref.City
	case contracts.ScopeDepartment:
		return ref.Department != "" && p.ScopeID == ref.Department
	case contracts.ScopeScenario:
		return ref.Scenario != "" && p.ScopeID == ref.Scenario
	}
	return false
}
