package lifecycle

import (
	"context"
	"log/slog"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// Dispatcher carries an "execute this effect" command to the external
// executor when an action reaches EXECUTING. The executor reports the
// outcome back through MarkCompleted or MarkFailed; the manager never
// retries on its own.
type Dispatcher interface {
	Dispatch(ctx context.Context, action *contracts.Action) error
}

// LogDispatcher writes dispatch commands to the structured log. It stands
// in for a real executor integration in tests and single-node runs.
type LogDispatcher struct {
	log *slog.Logger
}

// NewLogDispatcher creates a LogDispatcher over the given logger.
func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, action *contracts.Action) error {
	d.log.InfoContext(ctx, "dispatching action effect",
		"action_id", action.ID,
		"action_type", action.ActionType,
		"category", action.Category,
		"level", int(action.Level),
		"risk_score", action.RiskScore,
	)
	return nil
}
