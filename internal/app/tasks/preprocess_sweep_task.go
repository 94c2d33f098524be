package tasks

import (
	"context"
	"fmt"

	"github.com/edgard/intake/internal/database"
)

// newPreprocessSweepTask resubmits UNPROCESSED messages that the intake path
// could not queue, or that were left behind by a restart.
func newPreprocessSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", PreprocessSweepTask)

	return func(ctx context.Context) error {
		messages, err := deps.Store.ListMessagesByStatus(ctx, database.StatusUnprocessed)
		if err != nil {
			log.ErrorContext(ctx, "Failed to list unprocessed messages", "error", err)
			return fmt.Errorf("preprocess sweep failed: %w", err)
		}
		if len(messages) == 0 {
			return nil
		}

		queued := 0
		for _, m := range messages {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if deps.Preprocessor.Submit(m.MessageID) {
				queued++
			}
		}

		log.InfoContext(ctx, "Swept unprocessed messages", "found", len(messages), "queued", queued)
		return nil
	}
}
