// Package override holds the emergency-override working set. Overrides
// are a precedence mechanism consulted by the rule evaluator before normal
// rules apply; they are not a separate action pipeline.
package override

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/citygrid-labs/aegis/pkg/contracts"
	"github.com/citygrid-labs/aegis/pkg/ledger"
)

// ErrNotFound is returned when an override does not exist.
var ErrNotFound = errors.New("override not found")

// ErrAlreadyActive rejects activating an override that is already active.
var ErrAlreadyActive = errors.New("override is already active")

// ErrNotActive rejects deactivating an override that is not active.
var ErrNotActive = errors.New("override is not active")

// Store abstracts override persistence.
type Store interface {
	Get(ctx context.Context, id string) (*contracts.EmergencyOverride, error)
	Put(ctx context.Context, o *contracts.EmergencyOverride) error
	All(ctx context.Context) ([]contracts.EmergencyOverride, error)
}

// Arbitrator owns override activation state. At most one activation or
// deactivation transition is in flight per override id.
type Arbitrator struct {
	store Store
	audit *ledger.Ledger
	clock func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewArbitrator creates an Arbitrator over the given store.
func NewArbitrator(store Store, audit *ledger.Ledger) *Arbitrator {
	return &Arbitrator{
		store: store,
		audit: audit,
		clock: time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for deterministic testing.
func (a *Arbitrator) WithClock(clock func() time.Time) *Arbitrator {
	a.clock = clock
	return a
}

func (a *Arbitrator) overrideLock(id string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.locks[id]
	if !ok {
		m = &sync.Mutex{}
		a.locks[id] = m
	}
	return m
}

// Register adds an inactive override definition to the working set.
func (a *Arbitrator) Register(ctx context.Context, o *contracts.EmergencyOverride) error {
	if o.ID == "" {
		return fmt.Errorf("override id is required")
	}
	cp := *o
	cp.IsActive = false
	cp.ActivatedAt = nil
	cp.ActivatedBy = ""
	if err := a.store.Put(ctx, &cp); err != nil {
		return fmt.Errorf("override %s: persisting: %w", o.ID, err)
	}
	return nil
}

// Activate flips an inactive override active. While active, all rules of
// its affected policies are suppressed in favor of its override rules.
func (a *Arbitrator) Activate(ctx context.Context, id string, actor contracts.Actor) (*contracts.EmergencyOverride, error) {
	lock := a.overrideLock(id)
	lock.Lock()
	defer lock.Unlock()

	o, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.IsActive {
		return nil, fmt.Errorf("override %s: %w", id, ErrAlreadyActive)
	}

	now := a.clock().UTC()
	o.IsActive = true
	o.ActivatedAt = &now
	o.ActivatedBy = actor.ID
	if err := a.store.Put(ctx, o); err != nil {
		return nil, fmt.Errorf("override %s: persisting activation: %w", id, err)
	}

	if _, err := a.audit.Append(ctx, ledger.Entry{
		EventType:    contracts.EventOverrideActivated,
		Severity:     contracts.SeverityCritical,
		Actor:        actor,
		ResourceType: contracts.ResourceOverride,
		ResourceID:   id,
		Description:  fmt.Sprintf("emergency override %q (%s) activated, superseding %d policies", o.Name, o.EmergencyType, len(o.AffectedPolicies)),
	}); err != nil {
		return nil, err
	}
	return o, nil
}

// Deactivate returns an active override to the inactive state.
func (a *Arbitrator) Deactivate(ctx context.Context, id string, actor contracts.Actor) (*contracts.EmergencyOverride, error) {
	lock := a.overrideLock(id)
	lock.Lock()
	defer lock.Unlock()

	o, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.IsActive {
		return nil, fmt.Errorf("override %s: %w", id, ErrNotActive)
	}

	o.IsActive = false
	o.ActivatedAt = nil
	o.ActivatedBy = ""
	if err := a.store.Put(ctx, o); err != nil {
		return nil, fmt.Errorf("override %s: persisting deactivation: %w", id, err)
	}

	if _, err := a.audit.Append(ctx, ledger.Entry{
		EventType:    contracts.EventOverrideDeactivated,
		Severity:     contracts.SeverityHigh,
		Actor:        actor,
		ResourceType: contracts.ResourceOverride,
		ResourceID:   id,
		Description:  fmt.Sprintf("emergency override %q (%s) deactivated", o.Name, o.EmergencyType),
	}); err != nil {
		return nil, err
	}
	return o, nil
}

// Get returns one override.
func (a *Arbitrator) Get(ctx context.Context, id string) (*contracts.EmergencyOverride, error) {
	return a.store.Get(ctx, id)
}

// Active returns the currently active overrides, the evaluator's input.
func (a *Arbitrator) Active(ctx context.Context) ([]contracts.EmergencyOverride, error) {
	all, err := a.store.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []contracts.EmergencyOverride
	for _, o := range all {
		if o.IsActive {
			out = append(out, o)
		}
	}
	return out, nil
}
