package governance

import (
	"context"
	"fmt"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// ActiveOverrides is the slice of the override arbitrator the gate needs.
type ActiveOverrides interface {
	Active(ctx context.Context) ([]contracts.EmergencyOverride, error)
}

// OverrideGate blocks auto-execution of level-1 actions while an active
// emergency override demands an effect the action's type cannot coexist
// with. Level-2 actions are unaffected: they wait for a human anyway.
type OverrideGate struct {
	overrides ActiveOverrides
	registry  *EffectRegistry
}

// NewOverrideGate creates the gate.
func NewOverrideGate(overrides ActiveOverrides, registry *EffectRegistry) *OverrideGate {
	return &OverrideGate{overrides: overrides, registry: registry}
}

// Blocks reports whether an active override rules out the action.
func (g *OverrideGate) Blocks(ctx context.Context, action *contracts.Action) (bool, string, error) {
	active, err := g.overrides.Active(ctx)
	if err != nil {
		return false, "", fmt.Errorf("listing active overrides: %w", err)
	}
	for _, o := range active {
		for _, r := range o.OverrideRules {
			if g.registry.Exclusive(r.Effect, action.ActionType) {
				return true, fmt.Sprintf(
					"active override %q demands effect %q, exclusive with %q",
					o.Name, r.Effect, action.ActionType), nil
			}
		}
	}
	return false, "", nil
}
