package override

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid-labs/aegis/pkg/contracts"
	"github.com/citygrid-labs/aegis/pkg/ledger"
)

var commander = contracts.Actor{ID: "commander-1", Type: contracts.ActorHuman}

func testArbitrator() (*Arbitrator, *ledger.Ledger) {
	audit := ledger.New(ledger.NewMemoryStore())
	a := NewArbitrator(NewMemoryStore(), audit).WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	})
	return a, audit
}

func floodOverride() *contracts.EmergencyOverride {
	return &contracts.EmergencyOverride{
		ID:               "ovr-flood",
		Name:             "Flood response",
		EmergencyType:    "flood",
		AffectedPolicies: []string{"pol-traffic"},
		OverrideRules: []contracts.Rule{
			{ID: "r1", Condition: "snapshot.flood_level > 0.0", Effect: "priority_corridor", Priority: 1, Enabled: true},
		},
	}
}

func TestRegister_ForcesInactive(t *testing.T) {
	a, _ := testArbitrator()
	ctx := context.Background()

	o := floodOverride()
	o.IsActive = true
	o.ActivatedBy = "smuggled"
	require.NoError(t, a.Register(ctx, o))

	got, err := a.Get(ctx, "ovr-flood")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Empty(t, got.ActivatedBy)
	assert.Nil(t, got.ActivatedAt)
}

func TestRegister_RequiresID(t *testing.T) {
	a, _ := testArbitrator()
	o := floodOverride()
	o.ID = ""
	assert.Error(t, a.Register(context.Background(), o))
}

func TestActivate(t *testing.T) {
	a, audit := testArbitrator()
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, floodOverride()))

	out, err := a.Activate(ctx, "ovr-flood", commander)
	require.NoError(t, err)
	assert.True(t, out.IsActive)
	assert.Equal(t, "commander-1", out.ActivatedBy)
	require.NotNil(t, out.ActivatedAt)

	coc, err := audit.ChainOfCustody(ctx, contracts.ResourceOverride, "ovr-flood")
	require.NoError(t, err)
	require.Len(t, coc.Entries, 1)
	assert.Equal(t, contracts.EventOverrideActivated, coc.Entries[0].EventType)
	assert.Equal(t, contracts.SeverityCritical, coc.Entries[0].Severity)
}

func TestActivate_AlreadyActive(t *testing.T) {
	a, _ := testArbitrator()
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, floodOverride()))

	_, err := a.Activate(ctx, "ovr-flood", commander)
	require.NoError(t, err)
	_, err = a.Activate(ctx, "ovr-flood", commander)
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestActivate_NotFound(t *testing.T) {
	a, _ := testArbitrator()
	_, err := a.Activate(context.Background(), "ovr-missing", commander)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeactivate(t *testing.T) {
	a, audit := testArbitrator()
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, floodOverride()))
	_, err := a.Activate(ctx, "ovr-flood", commander)
	require.NoError(t, err)

	out, err := a.Deactivate(ctx, "ovr-flood", commander)
	require.NoError(t, err)
	assert.False(t, out.IsActive)
	assert.Nil(t, out.ActivatedAt)
	assert.Empty(t, out.ActivatedBy)

	coc, err := audit.ChainOfCustody(ctx, contracts.ResourceOverride, "ovr-flood")
	require.NoError(t, err)
	require.Len(t, coc.Entries, 2)
	assert.Equal(t, contracts.EventOverrideDeactivated, coc.Entries[1].EventType)
}

func TestDeactivate_NotActive(t *testing.T) {
	a, _ := testArbitrator()
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, floodOverride()))

	_, err := a.Deactivate(ctx, "ovr-flood", commander)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestActive_FiltersInactive(t *testing.T) {
	a, _ := testArbitrator()
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, floodOverride()))
	second := floodOverride()
	second.ID = "ovr-earthquake"
	second.EmergencyType = "earthquake"
	require.NoError(t, a.Register(ctx, second))

	_, err := a.Activate(ctx, "ovr-earthquake", commander)
	require.NoError(t, err)

	active, err := a.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ovr-earthquake", active[0].ID)
}

func TestActivate_ConcurrentSingleWinner(t *testing.T) {
	a, _ := testArbitrator()
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, floodOverride()))

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = a.Activate(ctx, "ovr-flood", commander)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyActive)
		}
	}
	assert.Equal(t, 1, wins)
}
