package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/intake/internal/logger"
)

// Store defines the interface for database operations.
// Methods should accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// CreateMessage normalizes the sender, roster and chat, then inserts the
	// message with status UNPROCESSED, all in one transaction. A repeated
	// message id fails with a duplicate key error and changes nothing.
	CreateMessage(ctx context.Context, in *NewMessage) (*Message, error)

	// GetMessage returns one message or a not found error.
	GetMessage(ctx context.Context, messageID string) (*Message, error)

	// ListMessagesByStatus returns messages in status, oldest first.
	ListMessagesByStatus(ctx context.Context, status MessageStatus) ([]*Message, error)

	// CountMessagesByStatus returns the number of messages per status.
	CountMessagesByStatus(ctx context.Context) (map[MessageStatus]int, error)

	// BulkSetStatus moves the listed messages currently in from to status to,
	// in one transaction, and returns the ids it actually moved.
	BulkSetStatus(ctx context.Context, ids []string, from, to MessageStatus) ([]string, error)

	// RequeueStale returns AGENT_PROCESSING messages whose status is older
	// than olderThan to READY_FOR_AGENT.
	RequeueStale(ctx context.Context, olderThan time.Time) ([]string, error)

	// CompleteAgentRun moves the cohort from AGENT_PROCESSING to PROCESSED
	// and stores the tasks generated from the moved messages.
	CompleteAgentRun(ctx context.Context, ids []string, tasks []*Task) ([]string, error)

	// GetUser, GetChat and ListChatMembers read the normalized participants.
	GetUser(ctx context.Context, userID string) (*User, error)
	GetChat(ctx context.Context, chatID string) (*Chat, error)
	ListChatMembers(ctx context.Context, chatID string) ([]string, error)

	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, taskID string) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	UpdateTask(ctx context.Context, taskID string, update TaskUpdate) (*Task, error)
	DeleteTask(ctx context.Context, taskID string) error

	// AppendAgentLog records one entry of an agent run trace.
	AppendAgentLog(ctx context.Context, entry *AgentLog) error
	ListAgentLogs(ctx context.Context, sessionID string) ([]*AgentLog, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// StoreOption customises a store.
type StoreOption func(*sqlxStore)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *sqlxStore) {
		s.now = func() time.Time { return now().UTC() }
	}
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, log *slog.Logger, opts ...StoreOption) Store {
	if log == nil {
		log = logger.Discard()
	}
	s := &sqlxStore{
		db:     db,
		logger: log.With("component", "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction and commits when fn succeeds.
func (s *sqlxStore) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction", "op", op, "error", err)
		return classifyError("failed to begin transaction", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "op", op, "error", rollbackErr)
				}
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "op", op, "error", err)
		return classifyError("failed to commit transaction", err)
	}
	tx = nil
	return nil
}

// RunSQLMaintenance compacts a sqlite database with VACUUM, or refreshes
// planner statistics on postgres.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting maintenance", "error", ctx.Err())
		return ctx.Err()
	}

	statements := []string{"PRAGMA optimize;", "VACUUM;"}
	if s.db.DriverName() == sqlDriverPostgres {
		statements = []string{"ANALYZE;"}
	}

	s.logger.InfoContext(ctx, "Starting database maintenance...", "driver", s.db.DriverName())
	startTime := time.Now()

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.logger.WarnContext(ctx, "Database maintenance timed out", "statement", stmt)
				return fmt.Errorf("maintenance timed out: %w", err)
			}
			s.logger.ErrorContext(ctx, "Database maintenance failed", "statement", stmt, "error", err)
			return classifyError(fmt.Sprintf("failed to run %q", stmt), err)
		}
	}

	s.logger.InfoContext(ctx, "Database maintenance completed", "duration", time.Since(startTime))
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
