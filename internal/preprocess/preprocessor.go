// Package preprocess promotes freshly stored messages from UNPROCESSED to
// READY_FOR_AGENT on a bounded pool of workers.
package preprocess

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/edgard/intake/internal/database"
	"github.com/edgard/intake/internal/logger"
)

const jobTimeout = 30 * time.Second

// ErrStopped is returned by Stop when called twice.
var ErrStopped = errors.New("preprocessor already stopped")

// StatusMover is the part of the store the pre-processor needs.
type StatusMover interface {
	BulkSetStatus(ctx context.Context, ids []string, from, to database.MessageStatus) ([]string, error)
}

// Options sizes the pool.
type Options struct {
	Workers   int
	QueueSize int
	// Delay is applied to each message before it is promoted.
	Delay  time.Duration
	Logger *slog.Logger
}

// Preprocessor owns a fixed set of workers draining a bounded queue.
type Preprocessor struct {
	store  StatusMover
	logger *slog.Logger
	delay  time.Duration

	queue  chan string
	wg     conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]struct{}
	idle    chan struct{}
	stopped bool
}

// New starts the workers.
func New(store StatusMover, opts Options) *Preprocessor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	p := &Preprocessor{
		store:   store,
		logger:  log.With("component", "preprocessor"),
		delay:   opts.Delay,
		queue:   make(chan string, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]struct{}),
		idle:    idle,
	}
	for i := 0; i < opts.Workers; i++ {
		p.wg.Go(p.work)
	}

	p.logger.Info("Preprocessor started", "workers", opts.Workers, "queue_size", opts.QueueSize, "delay", opts.Delay)
	return p
}

// Submit queues a message id. It never blocks: ids already queued or in
// flight are ignored and a full queue drops the id, leaving it for the
// periodic sweep. It reports whether the id was queued.
func (p *Preprocessor) Submit(messageID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}
	if _, ok := p.pending[messageID]; ok {
		return false
	}

	select {
	case p.queue <- messageID:
	default:
		p.logger.Warn("Preprocess queue full, message left for sweep", "message_id", messageID)
		return false
	}

	if len(p.pending) == 0 {
		p.idle = make(chan struct{})
	}
	p.pending[messageID] = struct{}{}
	return true
}

// Pending reports the number of queued or in-flight messages.
func (p *Preprocessor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// WaitIdle blocks until nothing is queued or in flight.
func (p *Preprocessor) WaitIdle(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new submissions, lets the workers drain the queue and joins
// them. If ctx expires first, in-flight jobs are cancelled and ctx's error
// is returned once the workers exit.
func (p *Preprocessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	joined := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
		p.cancel()
		p.logger.Info("Preprocessor stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-joined
		p.logger.Warn("Preprocessor stopped before draining its queue", "error", ctx.Err())
		return ctx.Err()
	}
}

func (p *Preprocessor) work() {
	for id := range p.queue {
		var pc panics.Catcher
		pc.Try(func() { p.prepare(id) })
		if r := pc.Recovered(); r != nil {
			p.logger.Error("Preprocessing panicked", "message_id", id, "panic", r.String())
		}
		p.done(id)
	}
}

func (p *Preprocessor) prepare(id string) {
	ctx, cancel := context.WithTimeout(p.ctx, jobTimeout)
	defer cancel()

	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			p.logger.Warn("Preprocessing cancelled", "message_id", id, "error", ctx.Err())
			return
		}
	}

	moved, err := p.store.BulkSetStatus(ctx, []string{id}, database.StatusUnprocessed, database.StatusReadyForAgent)
	if err != nil {
		p.logger.Error("Failed to mark message ready", "message_id", id, "error", err)
		return
	}
	if len(moved) == 0 {
		p.logger.Debug("Message was not UNPROCESSED, skipped", "message_id", id)
		return
	}
	p.logger.Debug("Message ready for agent", "message_id", id)
}

func (p *Preprocessor) done(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.pending, id)
	if len(p.pending) == 0 {
		close(p.idle)
	}
}
