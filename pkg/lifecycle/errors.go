package lifecycle

import (
	"errors"
	"fmt"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// ErrNotFound is returned when an action does not exist.
var ErrNotFound = errors.New("action not found")

// InvalidTransitionError rejects a lifecycle move that is not legal from
// the action's current state. It is always surfaced to the caller and
// never retried automatically.
type InvalidTransitionError struct {
	ActionID  string
	From      contracts.ActionStatus
	Attempted contracts.ActionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %s: cannot transition %s → %s", e.ActionID, e.From, e.Attempted)
}
