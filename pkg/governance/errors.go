package governance

import "fmt"

// EvaluationError reports a single rule whose condition failed to compile
// or evaluate. The rule is skipped and evaluation continues; one bad rule
// must not blind the rest of the policy.
type EvaluationError struct {
	RuleID string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %s: condition evaluation failed: %v", e.RuleID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
