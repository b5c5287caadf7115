package contracts

import "time"

// EmergencyOverride is a precedence mechanism: while active, the rules of
// every policy in AffectedPolicies are suppressed and only OverrideRules
// are evaluated for those policies' scope. It is not a separate pipeline.
type EmergencyOverride struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	EmergencyType    string     `json:"emergency_type"`
	IsActive         bool       `json:"is_active"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	ActivatedBy      string     `json:"activated_by,omitempty"`
	AffectedPolicies []string   `json:"affected_policies"`
	// OverrideRules always evaluate at maximum priority.
	OverrideRules []Rule `json:"override_rules"`
}

// Affects reports whether the override supersedes the given policy.
func (o *EmergencyOverride) Affects(policyID string) bool {
	for _, id := range o.AffectedPolicies {
		if id == policyID {
			return true
		}
	}
	return false
}
