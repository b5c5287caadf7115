package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

func TestValidate_AcceptsWellFormedPolicy(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Validate(congestionPolicy()))
}

func TestValidate_RejectsMissingName(t *testing.T) {
	v := NewValidator()
	p := congestionPolicy()
	p.Name = ""
	assert.Error(t, v.Validate(p))
}

func TestValidate_RejectsUnknownScope(t *testing.T) {
	v := NewValidator()
	p := congestionPolicy()
	p.Scope = "continent"
	assert.Error(t, v.Validate(p))
}

func TestValidate_RequiresScopeIDBelowGlobal(t *testing.T) {
	v := NewValidator()
	p := congestionPolicy()
	p.Scope = contracts.ScopeCity
	p.ScopeID = ""
	assert.Error(t, v.Validate(p))

	p.ScopeID = "metropolis"
	assert.NoError(t, v.Validate(p))
}

func TestValidate_RejectsDuplicateRuleIDs(t *testing.T) {
	v := NewValidator()
	p := congestionPolicy()
	p.Rules = append(p.Rules, contracts.Rule{
		ID: "rule-1", Condition: "snapshot.x > 2.0", Effect: "hold_traffic", Priority: 2, Enabled: true,
	})
	err := v.Validate(p)
	assert.ErrorContains(t, err, "duplicate rule id")
}

func TestValidate_RejectsBadThresholdOperator(t *testing.T) {
	v := NewValidator()
	p := congestionPolicy()
	p.Thresholds = []contracts.Threshold{
		{ID: "t1", Metric: "congestion_index", Operator: "between", Value: 0.9, ActionOnBreach: "hold_traffic"},
	}
	assert.Error(t, v.Validate(p))
}
