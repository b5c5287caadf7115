package policy

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a policy or version does not exist.
var ErrNotFound = errors.New("policy not found")

// StaleVersionError is the optimistic-concurrency conflict on a policy
// edit: the caller must re-read the policy and resubmit.
type StaleVersionError struct {
	PolicyID string
	Supplied int
	Current  int
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("policy %s: supplied version %d is stale (current %d)", e.PolicyID, e.Supplied, e.Current)
}
