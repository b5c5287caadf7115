package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	require.NoError(t, err)
	return e.WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
}

func trafficPolicy() contracts.Policy {
	return contracts.Policy{
		ID:     "pol-traffic",
		Name:   "Traffic management",
		Scope:  contracts.ScopeGlobal,
		Status: contracts.PolicyActive,
		Rules: []contracts.Rule{
			{ID: "rule-congestion", Condition: "snapshot.congestion_index > 0.7", Effect: "reroute_traffic", Priority: 5, Enabled: true},
		},
		Thresholds: []contracts.Threshold{
			{ID: "thr-critical", Metric: "congestion_index", Operator: contracts.OpGreaterThan, Value: 0.95, ActionOnBreach: "deploy_additional_units"},
		},
	}
}

func TestEvaluate_RuleMatches(t *testing.T) {
	e := newTestEvaluator(t)

	res, err := e.Evaluate(context.Background(),
		[]contracts.Policy{trafficPolicy()}, nil,
		contracts.Snapshot{"congestion_index": 0.85})
	require.NoError(t, err)

	require.Len(t, res.MatchedRules, 1)
	assert.Equal(t, "rule-congestion", res.MatchedRules[0].RuleID)
	assert.Equal(t, "reroute_traffic", res.MatchedRules[0].Effect)
	assert.False(t, res.MatchedRules[0].FromOverride)
	assert.Empty(t, res.BreachedThresholds)
}

func TestEvaluate_RuleDoesNotMatch(t *testing.T) {
	e := newTestEvaluator(t)

	res, err := e.Evaluate(context.Background(),
		[]contracts.Policy{trafficPolicy()}, nil,
		contracts.Snapshot{"congestion_index": 0.5})
	require.NoError(t, err)

	assert.Empty(t, res.MatchedRules)
	assert.Empty(t, res.SkippedRules)
}

func TestEvaluate_ThresholdBreachIsIndependent(t *testing.T) {
	e := newTestEvaluator(t)

	res, err := e.Evaluate(context.Background(),
		[]contracts.Policy{trafficPolicy()}, nil,
		contracts.Snapshot{"congestion_index": 0.97})
	require.NoError(t, err)

	require.Len(t, res.MatchedRules, 1)
	require.Len(t, res.BreachedThresholds, 1)
	breach := res.BreachedThresholds[0]
	assert.Equal(t, "thr-critical", breach.ThresholdID)
	assert.Equal(t, 0.97, breach.Observed)
	assert.Equal(t, 0.95, breach.Limit)
	assert.Equal(t, "deploy_additional_units", breach.ActionOnBreach)
}

func TestEvaluate_DisabledRulesAreIgnored(t *testing.T) {
	e := newTestEvaluator(t)
	p := trafficPolicy()
	p.Rules[0].Enabled = false

	res, err := e.Evaluate(context.Background(),
		[]contracts.Policy{p}, nil,
		contracts.Snapshot{"congestion_index": 0.85})
	require.NoError(t, err)
	assert.Empty(t, res.MatchedRules)
}

func TestEvaluate_BadRuleSkippedOthersContinue(t *testing.T) {
	e := newTestEvaluator(t)
	p := trafficPolicy()
	p.Rules = append(p.Rules, contracts.Rule{
		ID:        "rule-broken",
		Condition: "snapshot.congestion_index >>> bogus(",
		Effect:    "hold_traffic",
		Priority:  9,
		Enabled:   true,
	})

	res, err := e.Evaluate(context.Background(),
		[]contracts.Policy{p}, nil,
		contracts.Snapshot{"congestion_index": 0.85})
	require.NoError(t, err)

	require.Len(t, res.SkippedRules, 1)
	assert.Equal(t, "rule-broken", res.SkippedRules[0].RuleID)
	require.Len(t, res.MatchedRules, 1)
	assert.Equal(t, "rule-congestion", res.MatchedRules[0].RuleID)
}

func TestEvaluate_NonBoolConditionIsSkipped(t *testing.T) {
	e := newTestEvaluator(t)
	p := trafficPolicy()
	p.Rules = []contracts.Rule{
		{ID: "rule-num", Condition: "snapshot.congestion_index", Effect: "hold_traffic", Priority: 1, Enabled: true},
	}

	res, err := e.Evaluate(context.Background(),
		[]contracts.Policy{p}, nil,
		contracts.Snapshot{"congestion_index": 0.85})
	require.NoError(t, err)
	require.Len(t, res.SkippedRules, 1)
	assert.Empty(t, res.MatchedRules)
}

func TestEvaluate_DeterministicOrdering(t *testing.T) {
	e := newTestEvaluator(t)
	p := contracts.Policy{
		ID:     "pol-multi",
		Status: contracts.PolicyActive,
		Rules: []contracts.Rule{
			{ID: "rule-b", Condition: "snapshot.x > 0.0", Effect: "effect_b", Priority: 5, Enabled: true},
			{ID: "rule-a", Condition: "snapshot.x > 0.0", Effect: "effect_a", Priority: 5, Enabled: true},
			{ID: "rule-c", Condition: "snapshot.x > 0.0", Effect: "effect_c", Priority: 9, Enabled: true},
		},
	}
	snap := contracts.Snapshot{"x": 1.0}

	first, err := e.Evaluate(context.Background(), []contracts.Policy{p}, nil, snap)
	require.NoError(t, err)
	require.Len(t, first.MatchedRules, 3)
	assert.Equal(t, "rule-c", first.MatchedRules[0].RuleID)
	assert.Equal(t, "rule-a", first.MatchedRules[1].RuleID)
	assert.Equal(t, "rule-b", first.MatchedRules[2].RuleID)

	for i := 0; i < 10; i++ {
		again, err := e.Evaluate(context.Background(), []contracts.Policy{p}, nil, snap)
		require.NoError(t, err)
		assert.Equal(t, first.MatchedRules, again.MatchedRules)
	}
}

func TestEvaluate_ActiveOverrideSupersedesPolicyRules(t *testing.T) {
	e := newTestEvaluator(t)
	now := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	flood := contracts.EmergencyOverride{
		ID:               "ovr-flood",
		Name:             "Flood response",
		EmergencyType:    "flood",
		IsActive:         true,
		ActivatedAt:      &now,
		AffectedPolicies: []string{"pol-traffic"},
		OverrideRules: []contracts.Rule{
			{ID: "ovr-corridor", Condition: "snapshot.flood_level > 0.0", Effect: "priority_corridor", Priority: 1, Enabled: true},
		},
	}

	res, err := e.Evaluate(context.Background(),
		[]contracts.Policy{trafficPolicy()},
		[]contracts.EmergencyOverride{flood},
		contracts.Snapshot{"congestion_index": 0.85, "flood_level": 1.2})
	require.NoError(t, err)

	require.Len(t, res.MatchedRules, 1)
	assert.Equal(t, "ovr-corridor", res.MatchedRules[0].RuleID)
	assert.True(t, res.MatchedRules[0].FromOverride)
	assert.Equal(t, []string{"ovr-flood"}, res.ActiveOverrides)
}

func TestEvaluate_InactiveOverrideHasNoEffect(t *testing.T) {
	e := newTestEvaluator(t)
	flood := contracts.EmergencyOverride{
		ID:               "ovr-flood",
		IsActive:         false,
		AffectedPolicies: []string{"pol-traffic"},
		OverrideRules: []contracts.Rule{
			{ID: "ovr-corridor", Condition: "snapshot.flood_level > 0.0", Effect: "priority_corridor", Priority: 1, Enabled: true},
		},
	}

	res, err := e.Evaluate(context.Background(),
		[]contracts.Policy{trafficPolicy()},
		[]contracts.EmergencyOverride{flood},
		contracts.Snapshot{"congestion_index": 0.85, "flood_level": 1.2})
	require.NoError(t, err)

	require.Len(t, res.MatchedRules, 1)
	assert.Equal(t, "rule-congestion", res.MatchedRules[0].RuleID)
	assert.Empty(t, res.ActiveOverrides)
}

func TestEvaluate_OverrideLeavesUnaffectedPoliciesAlone(t *testing.T) {
	e := newTestEvaluator(t)
	other := contracts.Policy{
		ID:     "pol-air",
		Status: contracts.PolicyActive,
		Rules: []contracts.Rule{
			{ID: "rule-aqi", Condition: "snapshot.air_quality_index > 150.0", Effect: "reduce_speed_limits", Priority: 6, Enabled: true},
		},
	}
	now := time.Now().UTC()
	flood := contracts.EmergencyOverride{
		ID:               "ovr-flood",
		IsActive:         true,
		ActivatedAt:      &now,
		AffectedPolicies: []string{"pol-traffic"},
		OverrideRules: []contracts.Rule{
			{ID: "ovr-corridor", Condition: "snapshot.flood_level > 0.0", Effect: "priority_corridor", Priority: 1, Enabled: true},
		},
	}

	res, err := e.Evaluate(context.Background(),
		[]contracts.Policy{trafficPolicy(), other},
		[]contracts.EmergencyOverride{flood},
		contracts.Snapshot{"congestion_index": 0.85, "air_quality_index": 180.0, "flood_level": 0.4})
	require.NoError(t, err)

	require.Len(t, res.MatchedRules, 2)
	// override rules sort first at maximum priority
	assert.Equal(t, "ovr-corridor", res.MatchedRules[0].RuleID)
	assert.Equal(t, "rule-aqi", res.MatchedRules[1].RuleID)
}

func TestEvaluate_ThresholdsSurviveOverride(t *testing.T) {
	e := newTestEvaluator(t)
	now := time.Now().UTC()
	flood := contracts.EmergencyOverride{
		ID:               "ovr-flood",
		IsActive:         true,
		ActivatedAt:      &now,
		AffectedPolicies: []string{"pol-traffic"},
		OverrideRules: []contracts.Rule{
			{ID: "ovr-corridor", Condition: "snapshot.flood_level > 0.0", Effect: "priority_corridor", Priority: 1, Enabled: true},
		},
	}

	res, err := e.Evaluate(context.Background(),
		[]contracts.Policy{trafficPolicy()},
		[]contracts.EmergencyOverride{flood},
		contracts.Snapshot{"congestion_index": 0.99, "flood_level": 1.0})
	require.NoError(t, err)

	require.Len(t, res.BreachedThresholds, 1)
	assert.Equal(t, "thr-critical", res.BreachedThresholds[0].ThresholdID)
}

func TestEvaluate_MissingMetricSkipsThreshold(t *testing.T) {
	e := newTestEvaluator(t)

	res, err := e.Evaluate(context.Background(),
		[]contracts.Policy{trafficPolicy()}, nil,
		contracts.Snapshot{"unrelated": 1.0})
	require.NoError(t, err)
	assert.Empty(t, res.BreachedThresholds)
}

func TestEvaluate_ThresholdOperators(t *testing.T) {
	cases := []struct {
		op       contracts.ThresholdOperator
		observed float64
		limit    float64
		breached bool
	}{
		{contracts.OpGreaterThan, 1.1, 1.0, true},
		{contracts.OpGreaterThan, 1.0, 1.0, false},
		{contracts.OpGreaterOrEqual, 1.0, 1.0, true},
		{contracts.OpLessThan, 0.5, 1.0, true},
		{contracts.OpLessOrEqual, 1.0, 1.0, true},
		{contracts.OpLessOrEqual, 1.1, 1.0, false},
		{contracts.OpEqual, 1.0, 1.0, true},
		{contracts.OpEqual, 1.01, 1.0, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.breached, breached(tc.op, tc.observed, tc.limit),
			"%s observed=%v limit=%v", tc.op, tc.observed, tc.limit)
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	e := newTestEvaluator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Evaluate(ctx, []contracts.Policy{trafficPolicy()}, nil,
		contracts.Snapshot{"congestion_index": 0.85})
	require.NoError(t, err)
	// conditions cannot run; the rule lands in skipped, not matched
	assert.Empty(t, res.MatchedRules)
	assert.Len(t, res.SkippedRules, 1)
}
