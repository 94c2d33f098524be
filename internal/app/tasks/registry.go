package tasks

import (
	"context"
)

// ScheduledTaskFunc defines the standard signature for all scheduled tasks.
// The context provided by the scheduler should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// Task names as used in the scheduler.tasks configuration section.
const (
	StaleRequeueTask    = "stale_requeue"
	PreprocessSweepTask = "preprocess_sweep"
	AgentPollTask       = "agent_poll"
	SQLMaintenanceTask  = "sql_maintenance"
)

// RegisterAllTasks initializes and returns a map of all registered scheduled tasks.
// The keys match the keys of the scheduler.tasks configuration section.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		StaleRequeueTask:    newStaleRequeueTask(deps),
		PreprocessSweepTask: newPreprocessSweepTask(deps),
		AgentPollTask:       newAgentPollTask(deps),
		SQLMaintenanceTask:  newSQLMaintenanceTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
