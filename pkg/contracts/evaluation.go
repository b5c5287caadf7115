package contracts

import "time"

// Snapshot is a point-in-time telemetry/scenario capture: metric or field
// name → numeric/string/bool value.
type Snapshot map[string]any

// RuleMatch records one rule whose condition held against a snapshot.
type RuleMatch struct {
	PolicyID     string `json:"policy_id"`
	RuleID       string `json:"rule_id"`
	Effect       string `json:"effect"`
	Priority     int    `json:"priority"`
	FromOverride bool   `json:"from_override,omitempty"`
}

// ThresholdBreach records one threshold whose comparison tripped.
type ThresholdBreach struct {
	PolicyID       string  `json:"policy_id"`
	ThresholdID    string  `json:"threshold_id"`
	Metric         string  `json:"metric"`
	Observed       float64 `json:"observed"`
	Limit          float64 `json:"limit"`
	ActionOnBreach string  `json:"action_on_breach"`
}

// RuleSkip records a rule whose condition could not be evaluated.
// One bad rule never blinds the rest of the policy.
type RuleSkip struct {
	PolicyID string `json:"policy_id"`
	RuleID   string `json:"rule_id"`
	Reason   string `json:"reason"`
}

// EvaluationResult is the fixed output shape of the rule evaluator.
// Matched rules and breached thresholds are two parallel outputs;
// reconciling an effect recommended by both is the executor's call.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type EvaluationResult struct {
	PolicyIDs          []string          `json:"policy_ids"`
	MatchedRules       []RuleMatch       `json:"matched_rules"`
	BreachedThresholds []ThresholdBreach `json:"breached_thresholds"`
	SkippedRules       []RuleSkip        `json:"skipped_rules,omitempty"`
	ActiveOverrides    []string          `json:"active_overrides,omitempty"`
	EvaluatedAt        time.Time         `json:"evaluated_at"`
}

// ConflictType classifies a detected policy conflict.
type ConflictType string

const (
	// ConflictExclusiveEffects marks two effects the registry declares
	// mutually exclusive.
	ConflictExclusiveEffects ConflictType = "exclusive_effects"
	// ConflictDuplicateEffect marks the same effect reachable from two
	// overlapping rules in different policies (double dispatch).
	ConflictDuplicateEffect ConflictType = "duplicate_effect"
)

// ConflictFinding is one advisory pairwise finding. The detector never
// mutates policy state; findings are surfaced for operator review only.
type ConflictFinding struct {
	PolicyA              string       `json:"policy_a"`
	PolicyB              string       `json:"policy_b"`
	RuleA                string       `json:"rule_a"`
	RuleB                string       `json:"rule_b"`
	ConflictType         ConflictType `json:"conflict_type"`
	Severity             Severity     `json:"severity"`
	ResolutionSuggestion string       `json:"resolution_suggestion,omitempty"`
}
