package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

type staticOverrides struct {
	active []contracts.EmergencyOverride
	err    error
}

func (s staticOverrides) Active(ctx context.Context) ([]contracts.EmergencyOverride, error) {
	return s.active, s.err
}

func holdOverride() contracts.EmergencyOverride {
	return contracts.EmergencyOverride{
		ID:       "ovr-1",
		Name:     "citywide hold",
		IsActive: true,
		OverrideRules: []contracts.Rule{
			{ID: "r1", Condition: "snapshot.emergency == 1.0", Effect: "hold_traffic", Priority: 1, Enabled: true},
		},
	}
}

func TestBlocks_ExclusiveEffect(t *testing.T) {
	gate := NewOverrideGate(staticOverrides{active: []contracts.EmergencyOverride{holdOverride()}}, trafficRegistry())

	blocked, reason, err := gate.Blocks(context.Background(), &contracts.Action{
		ID: "act-1", ActionType: "reroute_traffic", Level: contracts.LevelAutoExecute,
	})
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Contains(t, reason, "hold_traffic")
}

func TestBlocks_UnrelatedEffect(t *testing.T) {
	gate := NewOverrideGate(staticOverrides{active: []contracts.EmergencyOverride{holdOverride()}}, trafficRegistry())

	blocked, _, err := gate.Blocks(context.Background(), &contracts.Action{
		ID: "act-1", ActionType: "deploy_additional_units", Level: contracts.LevelAutoExecute,
	})
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlocks_NoActiveOverrides(t *testing.T) {
	gate := NewOverrideGate(staticOverrides{}, trafficRegistry())

	blocked, _, err := gate.Blocks(context.Background(), &contracts.Action{
		ID: "act-1", ActionType: "reroute_traffic",
	})
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlocks_StoreError(t *testing.T) {
	gate := NewOverrideGate(staticOverrides{err: errors.New("boom")}, trafficRegistry())

	_, _, err := gate.Blocks(context.Background(), &contracts.Action{ID: "act-1", ActionType: "reroute_traffic"})
	assert.Error(t, err)
}

func TestEffectRegistry_ExclusivityIsSymmetric(t *testing.T) {
	r := NewEffectRegistry()
	r.Register("a", "effect a", "b")

	assert.True(t, r.Exclusive("a", "b"))
	assert.True(t, r.Exclusive("b", "a"))
	assert.False(t, r.Exclusive("a", "c"))
	assert.True(t, r.Known("a"))
	assert.False(t, r.Known("c"))
}
