package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid-labs/aegis/pkg/contracts"
	"github.com/citygrid-labs/aegis/pkg/ledger"
)

var testOperator = contracts.Actor{ID: "operator-1", Type: contracts.ActorHuman}

func testStore() (*Store, *ledger.Ledger) {
	audit := ledger.New(ledger.NewMemoryStore())
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var n int64
	clock := func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}
	return NewStore(NewMemoryRepository(), audit).WithClock(clock), audit
}

func congestionPolicy() *contracts.Policy {
	return &contracts.Policy{
		ID:     "pol-congestion",
		Name:   "Congestion response",
		Scope:  contracts.ScopeGlobal,
		Status: contracts.PolicyActive,
		Rules: []contracts.Rule{
			{ID: "rule-1", Condition: "snapshot.congestion_index > 0.7", Effect: "reroute_traffic", Priority: 5, Enabled: true},
		},
	}
}

func TestSubmit_CreatesVersionOne(t *testing.T) {
	s, audit := testStore()
	ctx := context.Background()

	out, err := s.Submit(ctx, congestionPolicy(), testOperator)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Version)
	assert.Equal(t, "operator-1", out.UpdatedBy)

	coc, err := audit.ChainOfCustody(ctx, contracts.ResourcePolicy, "pol-congestion")
	require.NoError(t, err)
	require.Len(t, coc.Entries, 1)
	assert.Equal(t, contracts.EventPolicyCreated, coc.Entries[0].EventType)
}

func TestSubmit_DuplicateID(t *testing.T) {
	s, _ := testStore()
	ctx := context.Background()

	_, err := s.Submit(ctx, congestionPolicy(), testOperator)
	require.NoError(t, err)
	_, err = s.Submit(ctx, congestionPolicy(), testOperator)
	assert.Error(t, err)
}

func TestUpdate_BumpsVersionAndKeepsHistory(t *testing.T) {
	s, _ := testStore()
	ctx := context.Background()

	created, err := s.Submit(ctx, congestionPolicy(), testOperator)
	require.NoError(t, err)

	edit := created.Clone()
	edit.Rules[0].Priority = 9
	updated, err := s.Update(ctx, edit, created.Version, testOperator)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 9, updated.Rules[0].Priority)

	history, err := s.History(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 5, history[0].Rules[0].Priority)
}

func TestUpdate_StaleVersion(t *testing.T) {
	s, _ := testStore()
	ctx := context.Background()

	created, err := s.Submit(ctx, congestionPolicy(), testOperator)
	require.NoError(t, err)

	first := created.Clone()
	first.Name = "edit A"
	_, err = s.Update(ctx, first, 1, testOperator)
	require.NoError(t, err)

	second := created.Clone()
	second.Name = "edit B"
	_, err = s.Update(ctx, second, 1, testOperator)
	var stale *StaleVersionError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, 1, stale.Supplied)
	assert.Equal(t, 2, stale.Current)
}

func TestDeprecate_IsLogicalDelete(t *testing.T) {
	s, _ := testStore()
	ctx := context.Background()

	created, err := s.Submit(ctx, congestionPolicy(), testOperator)
	require.NoError(t, err)

	out, err := s.Deprecate(ctx, created.ID, created.Version, testOperator)
	require.NoError(t, err)
	assert.Equal(t, contracts.PolicyDeprecated, out.Status)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.PolicyDeprecated, got.Status)

	history, err := s.History(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRollback_RestoresContentAsNewVersion(t *testing.T) {
	s, _ := testStore()
	ctx := context.Background()

	created, err := s.Submit(ctx, congestionPolicy(), testOperator)
	require.NoError(t, err)

	edit := created.Clone()
	edit.Rules[0].Condition = "snapshot.congestion_index > 0.9"
	updated, err := s.Update(ctx, edit, 1, testOperator)
	require.NoError(t, err)

	rolled, err := s.Rollback(ctx, created.ID, 1, testOperator)
	require.NoError(t, err)
	assert.Equal(t, 3, rolled.Version)
	assert.Equal(t, "snapshot.congestion_index > 0.7", rolled.Rules[0].Condition)

	// both prior heads are retained
	history, err := s.History(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	_ = updated
}

func TestRollback_UnknownVersion(t *testing.T) {
	s, _ := testStore()
	ctx := context.Background()

	created, err := s.Submit(ctx, congestionPolicy(), testOperator)
	require.NoError(t, err)

	_, err = s.Rollback(ctx, created.ID, 7, testOperator)
	assert.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	s, _ := testStore()
	_, err := s.Get(context.Background(), "pol-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_UnionsScopesBroadToNarrow(t *testing.T) {
	s, _ := testStore()
	ctx := context.Background()

	submit := func(id string, scope contracts.PolicyScope, scopeID string, status contracts.PolicyStatus) {
		t.Helper()
		_, err := s.Submit(ctx, &contracts.Policy{
			ID:      id,
			Name:    id,
			Scope:   scope,
			ScopeID: scopeID,
			Status:  status,
			Rules: []contracts.Rule{
				{ID: id + "-r1", Condition: "snapshot.x > 1.0", Effect: "reroute_traffic", Priority: 1, Enabled: true},
			},
		}, testOperator)
		require.NoError(t, err)
	}

	submit("pol-global", contracts.ScopeGlobal, "", contracts.PolicyActive)
	submit("pol-metropolis", contracts.ScopeCity, "metropolis", contracts.PolicyActive)
	submit("pol-transit", contracts.ScopeDepartment, "transit", contracts.PolicyActive)
	submit("pol-other-city", contracts.ScopeCity, "gotham", contracts.PolicyActive)
	submit("pol-draft", contracts.ScopeGlobal, "", contracts.PolicyDraft)

	out, err := s.Resolve(ctx, contracts.ScopeRef{City: "metropolis", Department: "transit"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "pol-global", out[0].ID)
	assert.Equal(t, "pol-metropolis", out[1].ID)
	assert.Equal(t, "pol-transit", out[2].ID)
}

func TestResolve_GlobalOnlyForEmptyRef(t *testing.T) {
	s, _ := testStore()
	ctx := context.Background()

	_, err := s.Submit(ctx, congestionPolicy(), testOperator)
	require.NoError(t, err)
	_, err = s.Submit(ctx, &contracts.Policy{
		ID:      "pol-city",
		Name:    "city policy",
		Scope:   contracts.ScopeCity,
		ScopeID: "metropolis",
		Status:  contracts.PolicyActive,
		Rules: []contracts.Rule{
			{ID: "r1", Condition: "snapshot.x > 1.0", Effect: "hold_traffic", Priority: 1, Enabled: true},
		},
	}, testOperator)
	require.NoError(t, err)

	out, err := s.Resolve(ctx, contracts.ScopeRef{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "pol-congestion", out[0].ID)
}

// faultyRepo wraps a Repository and fails reads on demand.
type faultyRepo struct {
	Repository
	getErr error
}

func (r *faultyRepo) Get(ctx context.Context, id string) (*contracts.Policy, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.Repository.Get(ctx, id)
}

func TestSubmit_RepoReadFailureDoesNotOverwrite(t *testing.T) {
	repo := &faultyRepo{Repository: NewMemoryRepository()}
	s := NewStore(repo, ledger.New(ledger.NewMemoryStore()))
	ctx := context.Background()

	_, err := s.Submit(ctx, congestionPolicy(), testOperator)
	require.NoError(t, err)

	repo.getErr = errors.New("disk i/o error")
	edited := congestionPolicy()
	edited.Name = "Smuggled rewrite"
	_, err = s.Submit(ctx, edited, testOperator)
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk i/o error")

	repo.getErr = nil
	got, err := s.Get(ctx, "pol-congestion")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, "Congestion response", got.Name,
		"a transient read failure must not replace an existing head")
}
