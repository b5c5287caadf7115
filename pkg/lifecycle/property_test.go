package lifecycle

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/citygrid-labs/aegis/pkg/contracts"
	"github.com/citygrid-labs/aegis/pkg/ledger"
)

// applyOp drives one lifecycle call by index; errors are expected and
// swallowed, only the resulting store state matters.
func applyOp(m *Manager, id string, op int) {
	ctx := context.Background()
	switch op {
	case 0:
		_, _ = m.Approve(ctx, id, operator)
	case 1:
		_, _ = m.Deny(ctx, id, operator)
	case 2:
		_, _ = m.MarkCompleted(ctx, id)
	case 3:
		_, _ = m.MarkFailed(ctx, id, "probe failure")
	}
}

func TestLifecycleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("terminal states are never left", prop.ForAll(
		func(level int, ops []int) bool {
			m := NewManager(NewMemoryStore(), ledger.New(ledger.NewMemoryStore()), nil, nil)
			ctx := context.Background()
			a := proposal("act-prop", contracts.AutonomyLevel(level))
			if _, err := m.Propose(ctx, a); err != nil {
				return false
			}
			sawTerminal := contracts.ActionStatus("")
			for _, op := range ops {
				applyOp(m, "act-prop", op)
				got, err := m.Get(ctx, "act-prop")
				if err != nil {
					return false
				}
				if sawTerminal != "" && got.Status != sawTerminal {
					return false
				}
				if got.Status.Terminal() {
					sawTerminal = got.Status
				}
			}
			return true
		},
		gen.IntRange(0, 2),
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.Property("level 0 and 1 actions are never pending", prop.ForAll(
		func(level int, ops []int) bool {
			m := NewManager(NewMemoryStore(), ledger.New(ledger.NewMemoryStore()), nil, nil)
			ctx := context.Background()
			if _, err := m.Propose(ctx, proposal("act-prop", contracts.AutonomyLevel(level))); err != nil {
				return false
			}
			for _, op := range append([]int{-1}, ops...) {
				if op >= 0 {
					applyOp(m, "act-prop", op)
				}
				got, err := m.Get(ctx, "act-prop")
				if err != nil {
					return false
				}
				if got.Status == contracts.StatusPending {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 1),
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.Property("approved_by is set iff a human approved", prop.ForAll(
		func(ops []int) bool {
			m := NewManager(NewMemoryStore(), ledger.New(ledger.NewMemoryStore()), nil, nil)
			ctx := context.Background()
			if _, err := m.Propose(ctx, proposal("act-prop", contracts.LevelHumanConfirm)); err != nil {
				return false
			}
			approved := false
			for _, op := range ops {
				before, _ := m.Get(ctx, "act-prop")
				applyOp(m, "act-prop", op)
				if op == 0 && before != nil && before.Status == contracts.StatusPending {
					approved = true
				}
			}
			got, err := m.Get(ctx, "act-prop")
			if err != nil {
				return false
			}
			return (got.ApprovedBy != "") == approved
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
