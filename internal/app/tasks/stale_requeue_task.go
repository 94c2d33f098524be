package tasks

import (
	"context"
	"fmt"
)

// newStaleRequeueTask returns AGENT_PROCESSING messages whose run lease
// (agent.stale_after) expired to READY_FOR_AGENT and asks for a new run.
func newStaleRequeueTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", StaleRequeueTask)

	return func(ctx context.Context) error {
		cutoff := deps.now().Add(-deps.Config.Agent.StaleAfter)

		moved, err := deps.Store.RequeueStale(ctx, cutoff)
		if err != nil {
			log.ErrorContext(ctx, "Failed to requeue stale messages", "error", err)
			return fmt.Errorf("stale requeue failed: %w", err)
		}
		if len(moved) == 0 {
			log.DebugContext(ctx, "No stale agent messages")
			return nil
		}

		log.WarnContext(ctx, "Recovered messages from an abandoned agent run", "count", len(moved), "cutoff", cutoff)
		if deps.Coalescer != nil {
			deps.Coalescer.Nudge()
		}
		return nil
	}
}
