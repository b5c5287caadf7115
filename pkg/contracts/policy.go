package contracts

import "time"

// PolicyScope is the hierarchical applicability of a policy.
// Resolution is gather-and-union: narrower scopes are evaluated in
// addition to broader ones, never instead of them.
type PolicyScope string

const (
	ScopeGlobal     PolicyScope = "global"
	ScopeCity       PolicyScope = "city"
	ScopeDepartment PolicyScope = "department"
	ScopeScenario   PolicyScope = "scenario"
)

// Narrower reports whether s is a strictly narrower scope than other.
func (s PolicyScope) Narrower(other PolicyScope) bool {
	return s.rank() > other.rank()
}

func (s PolicyScope) rank() int {
	switch s {
	case ScopeGlobal:
		return 0
	case ScopeCity:
		return 1
	case ScopeDepartment:
		return 2
	case ScopeScenario:
		return 3
	}
	return -1
}

// PolicyStatus is the publication state of a policy.
type PolicyStatus string

const (
	PolicyDraft      PolicyStatus = "draft"
	PolicyTesting    PolicyStatus = "testing"
	PolicyActive     PolicyStatus = "active"
	PolicyDeprecated PolicyStatus = "deprecated"
)

// Rule is a single condition → effect binding inside a policy.
// Condition is a CEL expression over the telemetry snapshot, e.g.
// `snapshot.congestion_index > 0.7`.
type Rule struct {
	ID        string `json:"id"`
	Condition string `json:"condition"`
	Effect    string `json:"effect"`
	Priority  int    `json:"priority"`
	Enabled   bool   `json:"enabled"`
}

// ThresholdOperator is the comparison applied to a threshold metric.
type ThresholdOperator string

const (
	OpGreaterThan    ThresholdOperator = "gt"
	OpGreaterOrEqual ThresholdOperator = "gte"
	OpLessThan       ThresholdOperator = "lt"
	OpLessOrEqual    ThresholdOperator = "lte"
	OpEqual          ThresholdOperator = "eq"
)

// Threshold is an operator-defined metric boundary, evaluated
// independently of rule conditions.
type Threshold struct {
	ID             string            `json:"id"`
	Metric         string            `json:"metric"`
	Operator       ThresholdOperator `json:"operator"`
	Value          float64           `json:"value"`
	Unit           string            `json:"unit,omitempty"`
	ActionOnBreach string            `json:"action_on_breach"`
}

// Policy is versioned operator-authored configuration. Edits bump Version;
// prior versions are retained immutably for rollback. Deletion is logical
// (status=deprecated), never physical.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Policy struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Scope      PolicyScope  `json:"scope"`
	ScopeID    string       `json:"scope_id,omitempty"`
	Rules      []Rule       `json:"rules"`
	Thresholds []Threshold  `json:"thresholds,omitempty"`
	Status     PolicyStatus `json:"status"`
	Version    int          `json:"version"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	UpdatedBy  string       `json:"updated_by,omitempty"`
}

// Clone returns a deep copy so readers never alias store-owned slices.
func (p *Policy) Clone() *Policy {
	cp := *p
	cp.Rules = append([]Rule(nil), p.Rules...)
	cp.Thresholds = append([]Threshold(nil), p.Thresholds...)
	return &cp
}

// ScopeRef selects the policy set applicable to an evaluation:
// the global scope plus each named narrower scope, unioned.
type ScopeRef struct {
	City       string `json:"city,omitempty"`
	Department string `json:"department,omitempty"`
	Scenario   string `json:"scenario,omitempty"`
}
