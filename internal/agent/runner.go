// Package agent implements the batch agent run: it claims the messages that
// are ready, extracts tasks from them and completes them as one cohort.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/intake/internal/database"
	"github.com/edgard/intake/internal/logger"
)

const (
	defaultRunTimeout = 5 * time.Minute
	requeueTimeout    = 10 * time.Second
	logPreviewLimit   = 100
)

// Store is the part of the message store a run needs.
type Store interface {
	ListMessagesByStatus(ctx context.Context, status database.MessageStatus) ([]*database.Message, error)
	BulkSetStatus(ctx context.Context, ids []string, from, to database.MessageStatus) ([]string, error)
	CompleteAgentRun(ctx context.Context, ids []string, tasks []*database.Task) ([]string, error)
	AppendAgentLog(ctx context.Context, entry *database.AgentLog) error
}

// IdleWaiter is implemented by the pre-processor.
type IdleWaiter interface {
	WaitIdle(ctx context.Context) error
}

// Options configures a Runner.
type Options struct {
	Logger *slog.Logger
	// Preprocessor, when set, is waited on for up to WaitTimeout before the
	// cohort is read.
	Preprocessor    IdleWaiter
	WaitTimeout     time.Duration
	ProcessingDelay time.Duration
	RunTimeout      time.Duration
}

// Runner executes batch runs. It is not safe for concurrent use; the
// coalescer guarantees a single caller.
type Runner struct {
	store     Store
	extractor Extractor
	logger    *slog.Logger
	opts      Options
}

// Result summarises one run.
type Result struct {
	SessionID string
	Processed []string
	Tasks     int
}

// NewRunner creates a Runner. A nil extractor falls back to KeywordExtractor.
func NewRunner(store Store, extractor Extractor, opts Options) *Runner {
	if extractor == nil {
		extractor = KeywordExtractor{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	return &Runner{
		store:     store,
		extractor: extractor,
		logger:    opts.Logger.With("component", "agent_runner"),
		opts:      opts,
	}
}

// Run performs one batch run and has the signature the coalescer expects.
func (r *Runner) Run(ctx context.Context) error {
	_, err := r.RunOnce(ctx)
	return err
}

// RunOnce claims every READY_FOR_AGENT message, extracts tasks from them
// and marks them PROCESSED together with the tasks. Messages that become
// ready after the claim are left for the next run. On failure the claimed
// cohort is returned to READY_FOR_AGENT.
func (r *Runner) RunOnce(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.RunTimeout)
	defer cancel()

	r.waitForPreprocessor(ctx)

	ready, err := r.store.ListMessagesByStatus(ctx, database.StatusReadyForAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready messages: %w", err)
	}
	if len(ready) == 0 {
		r.logger.DebugContext(ctx, "No messages ready for agent")
		return &Result{}, nil
	}

	ids := make([]string, 0, len(ready))
	for _, m := range ready {
		ids = append(ids, m.MessageID)
	}

	claimed, err := r.store.BulkSetStatus(ctx, ids, database.StatusReadyForAgent, database.StatusAgentProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to claim cohort: %w", err)
	}
	if len(claimed) == 0 {
		return &Result{}, nil
	}

	session := uuid.NewString()
	log := r.logger.With("session_id", session)
	startTime := time.Now()
	log.InfoContext(ctx, "Starting agent run", "messages", len(claimed))
	r.trace(ctx, session, database.AgentLogThought, "info", fmt.Sprintf("Starting run over %d messages", len(claimed)), nil)

	cohort := selectCohort(ready, claimed)
	tasks, err := r.process(ctx, session, cohort)
	if err == nil {
		var done []string
		done, err = r.store.CompleteAgentRun(ctx, claimed, tasks)
		if err == nil {
			log.InfoContext(ctx, "Agent run completed",
				"processed", len(done), "tasks", len(tasks), "duration", time.Since(startTime))
			r.trace(ctx, session, database.AgentLogDecision, "info",
				fmt.Sprintf("Processed %d messages, generated %d tasks", len(done), len(tasks)), nil)
			return &Result{SessionID: session, Processed: done, Tasks: len(tasks)}, nil
		}
	}

	log.ErrorContext(ctx, "Agent run failed, returning cohort", "error", err, "duration", time.Since(startTime))
	r.trace(ctx, session, database.AgentLogError, "error", fmt.Sprintf("Run failed: %v", err), nil)
	r.requeue(ctx, log, claimed)
	return nil, fmt.Errorf("agent run %s failed: %w", session, err)
}

func (r *Runner) waitForPreprocessor(ctx context.Context) {
	if r.opts.Preprocessor == nil || r.opts.WaitTimeout <= 0 {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.opts.WaitTimeout)
	defer cancel()
	if err := r.opts.Preprocessor.WaitIdle(waitCtx); err != nil {
		r.logger.WarnContext(ctx, "Preprocessor still busy, running with what is ready", "error", err)
	}
}

func (r *Runner) process(ctx context.Context, session string, cohort []*database.Message) ([]*database.Task, error) {
	if d := r.opts.ProcessingDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	var tasks []*database.Task
	for _, msg := range cohort {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.trace(ctx, session, database.AgentLogAction, "info",
			"Processing message: "+summarize(msg.TextContent, logPreviewLimit), &msg.MessageID)

		drafts, err := r.extractor.Extract(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("extraction failed for message %s: %w", msg.MessageID, err)
		}

		for _, d := range drafts {
			task := d.toTask(msg.MessageID)
			if task == nil {
				r.logger.WarnContext(ctx, "Dropping unnamed task draft", "message_id", msg.MessageID)
				continue
			}
			tasks = append(tasks, task)
			r.trace(ctx, session, database.AgentLogAction, "info", "Created task: "+task.TaskName, &msg.MessageID)
		}
	}
	return tasks, nil
}

// requeue returns the cohort to READY_FOR_AGENT even when ctx has expired.
func (r *Runner) requeue(ctx context.Context, log *slog.Logger, ids []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()

	moved, err := r.store.BulkSetStatus(ctx, ids, database.StatusAgentProcessing, database.StatusReadyForAgent)
	if err != nil {
		log.ErrorContext(ctx, "Failed to requeue cohort, leaving it to the stale sweep", "error", err, "count", len(ids))
		return
	}
	log.WarnContext(ctx, "Cohort requeued", "count", len(moved))
}

// trace writes an agent log row. Failures are logged and otherwise ignored.
func (r *Runner) trace(ctx context.Context, session string, kind database.AgentLogType, level, message string, source *string) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	err := r.store.AppendAgentLog(ctx, &database.AgentLog{
		SessionID:       session,
		LogType:         kind,
		Level:           level,
		Message:         message,
		SourceMessageID: source,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.WarnContext(ctx, "Failed to write agent log", "session_id", session, "error", err)
	}
}

// selectCohort keeps the listed messages whose ids were claimed, in list
// order.
func selectCohort(listed []*database.Message, claimed []string) []*database.Message {
	keep := make(map[string]bool, len(claimed))
	for _, id := range claimed {
		keep[id] = true
	}
	cohort := make([]*database.Message, 0, len(claimed))
	for _, m := range listed {
		if keep[m.MessageID] {
			cohort = append(cohort, m)
		}
	}
	return cohort
}

func (d TaskDraft) toTask(messageID string) *database.Task {
	if d.Name == "" {
		return nil
	}
	kind := d.Kind
	if kind == "" {
		kind = database.TaskKindTask
	}
	source := messageID
	return &database.Task{
		TaskName:        d.Name,
		TaskContext:     d.Context,
		Status:          database.TaskStatusOpen,
		TaskOrEvent:     kind,
		TaskType:        d.Type,
		TaskDueTime:     d.DueTime,
		EventStartTime:  d.EventStart,
		EventEndTime:    d.EventEnd,
		SourceMessageID: &source,
		CreatedByAgent:  true,
	}
}
