package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// AutonomyLevel governs whether a proposed action needs human approval.
type AutonomyLevel int

const (
	// LevelObserve records the action without executing anything.
	LevelObserve AutonomyLevel = 0
	// LevelAutoExecute executes immediately, no human in the loop.
	LevelAutoExecute AutonomyLevel = 1
	// LevelHumanConfirm parks the action in PENDING until an operator decides.
	LevelHumanConfirm AutonomyLevel = 2
)

// ActionStatus is the lifecycle state of a proposed action.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusApproved  ActionStatus = "approved"
	StatusDenied    ActionStatus = "denied"
	StatusExecuting ActionStatus = "executing"
	StatusCompleted ActionStatus = "completed"
	StatusFailed    ActionStatus = "failed"
)

// Terminal reports whether no further transitions are accepted from s.
func (s ActionStatus) Terminal() bool {
	return s == StatusDenied || s == StatusCompleted || s == StatusFailed
}

// Action is a proposed unit of autonomous work, owned by the lifecycle
// manager from proposal to terminal state. Actions are never deleted.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Action struct {
	ID         string        `json:"id"`
	Category   string        `json:"category"`
	ActionType string        `json:"action_type"`
	Level      AutonomyLevel `json:"level"`
	RiskScore  float64       `json:"risk_score"` // [0,1]
	Priority   int           `json:"priority"`   // [1,10]
	Status     ActionStatus  `json:"status"`

	Parameters map[string]any `json:"parameters,omitempty"`

	// Explainability is attached by the recommendation source at creation
	// and stored verbatim. The governance core never inspects its shape.
	Explainability json.RawMessage `json:"explainability,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ApprovedBy is set iff the action transitioned through APPROVED
	// via a human actor.
	ApprovedBy    string `json:"approved_by,omitempty"`
	DeniedBy      string `json:"denied_by,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Validate checks the structural invariants of a newly proposed action.
func (a *Action) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("action id is required")
	}
	if a.ActionType == "" {
		return fmt.Errorf("action %s: action_type is required", a.ID)
	}
	switch a.Level {
	case LevelObserve, LevelAutoExecute, LevelHumanConfirm:
	default:
		return fmt.Errorf("action %s: invalid autonomy level %d", a.ID, a.Level)
	}
	if a.RiskScore < 0 || a.RiskScore > 1 {
		return fmt.Errorf("action %s: risk_score %v outside [0,1]", a.ID, a.RiskScore)
	}
	if a.Priority < 1 || a.Priority > 10 {
		return fmt.Errorf("action %s: priority %d outside [1,10]", a.ID, a.Priority)
	}
	return nil
}

// ActorType identifies the kind of entity behind an audited event.
type ActorType string

const (
	ActorHuman  ActorType = "human"
	ActorEngine ActorType = "ai_engine"
	ActorSystem ActorType = "system"
)

// Actor is the entity initiating a transition.
type Actor struct {
	ID   string    `json:"id"`
	Type ActorType `json:"type"`
	Name string    `json:"name,omitempty"`
}

// SystemActor is used for transitions the engine performs on its own.
var SystemActor = Actor{ID: "aegis", Type: ActorSystem, Name: "governance engine"}
