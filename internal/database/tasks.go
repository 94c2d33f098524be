package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/edgard/intake/internal/errors"
)

const (
	// DefaultTaskListLimit applies when a list request has no limit.
	DefaultTaskListLimit = 100
	// MaxTaskListLimit caps a single page.
	MaxTaskListLimit = 1000
)

const taskColumns = `task_id, task_name, task_context, status, task_or_event, task_type,
        event_start_time, event_end_time, task_due_time, completed_at, source_message_id,
        created_by_agent, created_at, updated_at`

// CreateTask inserts a task. Missing id, status and kind are defaulted.
func (s *sqlxStore) CreateTask(ctx context.Context, task *Task) error {
	if task == nil || strings.TrimSpace(task.TaskName) == "" {
		return apperrors.NewValidationError("task_name is required", nil)
	}

	err := s.withTx(ctx, "create_task", func(tx *sqlx.Tx) error {
		return insertTaskTx(ctx, tx, task, s.now())
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating task", "task_name", task.TaskName, "error", err)
		return err
	}

	s.logger.DebugContext(ctx, "Task created", "task_id", task.TaskID, "created_by_agent", task.CreatedByAgent)
	return nil
}

func insertTaskTx(ctx context.Context, tx *sqlx.Tx, task *Task, now time.Time) error {
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = TaskStatusOpen
	}
	if task.TaskOrEvent == "" {
		task.TaskOrEvent = TaskKindTask
	}
	if task.Status == TaskStatusCompleted && task.CompletedAt == nil {
		completed := now
		task.CompletedAt = &completed
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	query := tx.Rebind(`
        INSERT INTO tasks (` + taskColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
    `)
	_, err := tx.ExecContext(ctx, query, taskArgs(task)...)
	if err != nil {
		return classifyError(fmt.Sprintf("failed to insert task %s", task.TaskID), err)
	}
	return nil
}

func taskArgs(t *Task) []any {
	var taskType sql.NullString
	if t.TaskType != nil {
		taskType = sql.NullString{String: string(*t.TaskType), Valid: true}
	}
	return []any{
		t.TaskID, t.TaskName, nullString(t.TaskContext), string(t.Status), string(t.TaskOrEvent), taskType,
		nullTime(t.EventStartTime), nullTime(t.EventEndTime), nullTime(t.TaskDueTime), nullTime(t.CompletedAt),
		nullString(t.SourceMessageID), t.CreatedByAgent, t.CreatedAt, t.UpdatedAt,
	}
}

// GetTask retrieves a task by id.
func (s *sqlxStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	return getTask(ctx, s.db, taskID)
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getTask(ctx context.Context, q queryer, taskID string) (*Task, error) {
	var t Task
	query := q.Rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE task_id = ?;`)
	if err := sqlx.GetContext(ctx, q, &t, query, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("task %s not found", taskID))
		}
		return nil, classifyError(fmt.Sprintf("failed to get task %s", taskID), err)
	}
	return &t, nil
}

// ListTasks returns tasks matching filter, newest first.
func (s *sqlxStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.TaskOrEvent != "" {
		where = append(where, "task_or_event = ?")
		args = append(args, string(filter.TaskOrEvent))
	}
	if filter.TaskType != "" {
		where = append(where, "task_type = ?")
		args = append(args, string(filter.TaskType))
	}
	if filter.CreatedByAgent != nil {
		where = append(where, "created_by_agent = ?")
		args = append(args, *filter.CreatedByAgent)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultTaskListLimit
	} else if limit > MaxTaskListLimit {
		limit = MaxTaskListLimit
	}
	skip := filter.Skip
	if skip < 0 {
		skip = 0
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + taskColumns + ` FROM tasks`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC, task_id ASC LIMIT ? OFFSET ?;")
	args = append(args, limit, skip)

	tasks := []*Task{}
	if err := s.db.SelectContext(ctx, &tasks, s.db.Rebind(sb.String()), args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing tasks", "error", err)
		return nil, classifyError("failed to list tasks", err)
	}
	return tasks, nil
}

// UpdateTask applies a partial update and returns the stored result.
func (s *sqlxStore) UpdateTask(ctx context.Context, taskID string, update TaskUpdate) (*Task, error) {
	if update.TaskName != nil && strings.TrimSpace(*update.TaskName) == "" {
		return nil, apperrors.NewValidationError("task_name must not be empty", nil)
	}

	var updated *Task
	err := s.withTx(ctx, "update_task", func(tx *sqlx.Tx) error {
		task, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		task.Apply(update, s.now())

		query := tx.Rebind(`
            UPDATE tasks
            SET task_name = ?, task_context = ?, status = ?, task_or_event = ?, task_type = ?,
                event_start_time = ?, event_end_time = ?, task_due_time = ?, completed_at = ?, updated_at = ?
            WHERE task_id = ?;
        `)
		args := taskArgs(task)
		// task_name .. completed_at, then updated_at and the key.
		setArgs := append(append([]any{}, args[1:10]...), task.UpdatedAt, task.TaskID)
		if _, err := tx.ExecContext(ctx, query, setArgs...); err != nil {
			return classifyError(fmt.Sprintf("failed to update task %s", taskID), err)
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask removes a task.
func (s *sqlxStore) DeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM tasks WHERE task_id = ?;`), taskID)
	if err != nil {
		return classifyError(fmt.Sprintf("failed to delete task %s", taskID), err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("task %s not found", taskID))
	}
	return nil
}
