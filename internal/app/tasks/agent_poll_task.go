package tasks

import (
	"context"
	"fmt"

	"github.com/edgard/intake/internal/database"
)

// newAgentPollTask nudges the coalescer when messages are waiting for the
// agent but nothing armed a run, for example after a restart.
func newAgentPollTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", AgentPollTask)

	return func(ctx context.Context) error {
		counts, err := deps.Store.CountMessagesByStatus(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Failed to count messages", "error", err)
			return fmt.Errorf("agent poll failed: %w", err)
		}

		ready := counts[database.StatusReadyForAgent]
		if ready == 0 {
			return nil
		}

		log.DebugContext(ctx, "Messages waiting for agent", "count", ready)
		deps.Coalescer.Nudge()
		return nil
	}
}
