// Package lifecycle owns every proposed action's approval state machine.
//
// Legal edges:
//
//	(none) → pending              level 2 only
//	(none) → executing            level 1, auto
//	(none) → completed            level 0, observe-only
//	pending → approved → executing → completed
//	pending → denied              terminal
//	executing → failed            terminal
//
// A per-action lock guarantees at most one in-flight transition per
// action id; racing approve and deny yields exactly one winner.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/citygrid-labs/aegis/pkg/contracts"
	"github.com/citygrid-labs/aegis/pkg/ledger"
)

// ActionStore abstracts action persistence. Actions are never deleted;
// terminal states are retained for audit.
type ActionStore interface {
	Get(ctx context.Context, id string) (*contracts.Action, error)
	Put(ctx context.Context, a *contracts.Action) error
	ListPending(ctx context.Context) ([]contracts.Action, error)
}

// Gate decides whether an active emergency override blocks auto-execution
// of a level-1 action.
type Gate interface {
	Blocks(ctx context.Context, action *contracts.Action) (blocked bool, reason string, err error)
}

// Manager is the action lifecycle manager.
type Manager struct {
	store      ActionStore
	audit      *ledger.Ledger
	dispatcher Dispatcher
	gate       Gate
	clock      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager. gate may be nil, in which case level-1
// actions always auto-execute.
func NewManager(store ActionStore, audit *ledger.Ledger, dispatcher Dispatcher, gate Gate) *Manager {
	return &Manager{
		store:      store,
		audit:      audit,
		dispatcher: dispatcher,
		gate:       gate,
		clock:      time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

func (m *Manager) actionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Propose admits a new action into the lifecycle. Level-2 actions park in
// PENDING awaiting an operator; level-1 actions go straight to EXECUTING
// unless a conflicting active override blocks them; level-0 actions are
// recorded observe-only and complete immediately without dispatch.
func (m *Manager) Propose(ctx context.Context, a *contracts.Action) (*contracts.Action, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	lock := m.actionLock(a.ID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.Get(ctx, a.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("action %s: checking for duplicate: %w", a.ID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("action %s already proposed", a.ID)
	}

	now := m.clock().UTC()
	action := *a
	action.CreatedAt = now
	created := auditRecord{
		event:       contracts.EventActionCreated,
		severity:    contracts.SeverityInfo,
		actor:       contracts.Actor{ID: "recommendation-source", Type: contracts.ActorEngine},
		description: fmt.Sprintf("action %s proposed at autonomy level %d", action.ActionType, action.Level),
	}

	switch action.Level {
	case contracts.LevelHumanConfirm:
		action.Status = contracts.StatusPending
		if err := m.store.Put(ctx, &action); err != nil {
			return nil, fmt.Errorf("action %s: persisting: %w", action.ID, err)
		}
		if err := m.recordAll(ctx, &action, created); err != nil {
			return nil, err
		}
		return &action, nil

	case contracts.LevelObserve:
		// Observe-only: the history is the deliverable.
		action.Status = contracts.StatusCompleted
		action.CompletedAt = &now
		if err := m.store.Put(ctx, &action); err != nil {
			return nil, fmt.Errorf("action %s: persisting: %w", action.ID, err)
		}
		if err := m.recordAll(ctx, &action, created, auditRecord{
			event:       contracts.EventActionCompleted,
			severity:    contracts.SeverityInfo,
			actor:       contracts.SystemActor,
			description: "observe-only action recorded",
		}); err != nil {
			return nil, err
		}
		return &action, nil

	default: // LevelAutoExecute
		if m.gate != nil {
			blocked, reason, err := m.gate.Blocks(ctx, &action)
			if err != nil {
				return nil, fmt.Errorf("action %s: override gate: %w", action.ID, err)
			}
			if blocked {
				action.Status = contracts.StatusDenied
				action.DeniedBy = contracts.SystemActor.ID
				action.FailureReason = reason
				if err := m.store.Put(ctx, &action); err != nil {
					return nil, fmt.Errorf("action %s: persisting: %w", action.ID, err)
				}
				if err := m.recordAll(ctx, &action, created, auditRecord{
					event:       contracts.EventActionDenied,
					severity:    contracts.SeverityWarning,
					actor:       contracts.SystemActor,
					description: "auto-execution blocked: " + reason,
				}); err != nil {
					return nil, err
				}
				return &action, nil
			}
		}
		return m.startExecuting(ctx, &action, contracts.SystemActor, created)
	}
}

// auditRecord is a pending ledger entry held back until the state it
// describes has been persisted.
type auditRecord struct {
	event       contracts.EventType
	severity    contracts.Severity
	actor       contracts.Actor
	description string
}

// startExecuting moves an action into EXECUTING, persists it, then
// records the audit trail and emits the dispatch command. Entries in
// prior land before the executing entry so the chain reads in
// transition order. Caller holds the action lock.
func (m *Manager) startExecuting(ctx context.Context, action *contracts.Action, actor contracts.Actor, prior ...auditRecord) (*contracts.Action, error) {
	now := m.clock().UTC()
	action.Status = contracts.StatusExecuting
	action.ExecutedAt = &now
	if err := m.store.Put(ctx, action); err != nil {
		return nil, fmt.Errorf("action %s: persisting: %w", action.ID, err)
	}
	events := append(prior, auditRecord{
		event:       contracts.EventActionExecuting,
		severity:    contracts.SeverityInfo,
		actor:       actor,
		description: fmt.Sprintf("effect %s dispatched for execution", action.ActionType),
	})
	if err := m.recordAll(ctx, action, events...); err != nil {
		return nil, err
	}
	if m.dispatcher != nil {
		if err := m.dispatcher.Dispatch(ctx, action); err != nil {
			return nil, fmt.Errorf("action %s: dispatching: %w", action.ID, err)
		}
	}
	return action, nil
}

// Approve moves a PENDING action through APPROVED into EXECUTING. Only a
// human actor may approve; approved_by records who.
func (m *Manager) Approve(ctx context.Context, id string, actor contracts.Actor) (*contracts.Action, error) {
	if actor.Type != contracts.ActorHuman {
		return nil, fmt.Errorf("action %s: approval requires a human actor, got %s", id, actor.Type)
	}

	lock := m.actionLock(id)
	lock.Lock()
	defer lock.Unlock()

	action, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if action.Status != contracts.StatusPending {
		return nil, &InvalidTransitionError{ActionID: id, From: action.Status, Attempted: contracts.StatusApproved}
	}

	now := m.clock().UTC()
	action.ApprovedAt = &now
	action.ApprovedBy = actor.ID
	return m.startExecuting(ctx, action, actor, auditRecord{
		event:       contracts.EventActionApproved,
		severity:    contracts.SeverityInfo,
		actor:       actor,
		description: fmt.Sprintf("approved by %s", actor.ID),
	})
}

// Deny terminally rejects a PENDING action.
func (m *Manager) Deny(ctx context.Context, id string, actor contracts.Actor) (*contracts.Action, error) {
	lock := m.actionLock(id)
	lock.Lock()
	defer lock.Unlock()

	action, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if action.Status != contracts.StatusPending {
		return nil, &InvalidTransitionError{ActionID: id, From: action.Status, Attempted: contracts.StatusDenied}
	}

	action.Status = contracts.StatusDenied
	action.DeniedBy = actor.ID
	if err := m.store.Put(ctx, action); err != nil {
		return nil, fmt.Errorf("action %s: persisting: %w", id, err)
	}
	if err := m.record(ctx, action, contracts.EventActionDenied, contracts.SeverityInfo,
		actor, fmt.Sprintf("denied by %s", actor.ID)); err != nil {
		return nil, err
	}
	return action, nil
}

// MarkCompleted records the executor's success report.
func (m *Manager) MarkCompleted(ctx context.Context, id string) (*contracts.Action, error) {
	lock := m.actionLock(id)
	lock.Lock()
	defer lock.Unlock()

	action, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if action.Status != contracts.StatusExecuting {
		return nil, &InvalidTransitionError{ActionID: id, From: action.Status, Attempted: contracts.StatusCompleted}
	}

	now := m.clock().UTC()
	action.Status = contracts.StatusCompleted
	action.CompletedAt = &now
	if err := m.store.Put(ctx, action); err != nil {
		return nil, fmt.Errorf("action %s: persisting: %w", id, err)
	}
	if err := m.record(ctx, action, contracts.EventActionCompleted, contracts.SeverityInfo,
		contracts.SystemActor, "executor reported completion"); err != nil {
		return nil, err
	}
	return action, nil
}

// MarkFailed records the executor's failure report. Failure is terminal
// for this action; the executor may re-propose a fresh action with a new
// id.
func (m *Manager) MarkFailed(ctx context.Context, id, reason string) (*contracts.Action, error) {
	lock := m.actionLock(id)
	lock.Lock()
	defer lock.Unlock()

	action, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if action.Status != contracts.StatusExecuting {
		return nil, &InvalidTransitionError{ActionID: id, From: action.Status, Attempted: contracts.StatusFailed}
	}

	action.Status = contracts.StatusFailed
	action.FailureReason = reason
	if err := m.store.Put(ctx, action); err != nil {
		return nil, fmt.Errorf("action %s: persisting: %w", id, err)
	}
	if err := m.record(ctx, action, contracts.EventActionFailed, contracts.SeverityWarning,
		contracts.SystemActor, "executor reported failure: "+reason); err != nil {
		return nil, err
	}
	return action, nil
}

// Get returns one action.
func (m *Manager) Get(ctx context.Context, id string) (*contracts.Action, error) {
	return m.store.Get(ctx, id)
}

// ListPending returns actions awaiting operator decision.
func (m *Manager) ListPending(ctx context.Context) ([]contracts.Action, error) {
	return m.store.ListPending(ctx)
}

func (m *Manager) record(ctx context.Context, action *contracts.Action, event contracts.EventType,
	severity contracts.Severity, actor contracts.Actor, description string) error {
	_, err := m.audit.Append(ctx, ledger.Entry{
		EventType:    event,
		Severity:     severity,
		Actor:        actor,
		ResourceType: contracts.ResourceAction,
		ResourceID:   action.ID,
		Description:  description,
	})
	return err
}

func (m *Manager) recordAll(ctx context.Context, action *contracts.Action, records ...auditRecord) error {
	for _, r := range records {
		if err := m.record(ctx, action, r.event, r.severity, r.actor, r.description); err != nil {
			return err
		}
	}
	return nil
}
