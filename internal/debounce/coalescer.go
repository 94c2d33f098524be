// Package debounce collapses bursts of trigger events into single delayed
// runs of a function, never running it concurrently with itself.
package debounce

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/panics"

	"github.com/edgard/intake/internal/logger"
)

// State is the observable state of a Coalescer.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRunning
	StateRunningRerunPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateRunningRerunPending:
		return "running_rerun_pending"
	default:
		return "unknown"
	}
}

// RunFunc is the work a Coalescer schedules.
type RunFunc func(ctx context.Context) error

// ErrAlreadyStarted is returned when Run is called twice.
var ErrAlreadyStarted = errors.New("coalescer loop already started")

// Coalescer schedules RunFunc a quiet interval after the last Arm. The
// pending fire is plain data (deadline and generation) read by the single
// loop started with Run, so re-arming only rewrites that data.
type Coalescer struct {
	clock    clockwork.Clock
	interval time.Duration
	run      RunFunc
	logger   *slog.Logger

	mu         sync.Mutex
	deadline   time.Time
	generation uint64
	armed      bool
	running    bool
	rerun      bool
	shutdown   bool
	started    bool

	wake chan struct{}
	done chan struct{}
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coalescer) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coalescer) {
		if log != nil {
			c.logger = log
		}
	}
}

// New creates a Coalescer. A negative interval disables scheduling: Arm
// and Nudge become no-ops.
func New(interval time.Duration, run RunFunc, opts ...Option) *Coalescer {
	c := &Coalescer{
		clock:    clockwork.NewRealClock(),
		interval: interval,
		run:      run,
		logger:   logger.Discard(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "coalescer")
	return c
}

// Disabled reports whether automatic scheduling is turned off.
func (c *Coalescer) Disabled() bool {
	return c.interval < 0
}

// Arm pushes the fire deadline to now plus the interval. While a run is in
// flight it only requests one more run after the current one. Arm never
// blocks.
func (c *Coalescer) Arm() {
	if c.Disabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return
	}
	if c.running {
		c.rerun = true
		return
	}
	c.deadline = c.clock.Now().Add(c.interval)
	c.armed = true
	c.generation++
	c.signal()
}

// Nudge asks for a run without waiting for a quiet period. It does not
// move the deadline of an already armed window.
func (c *Coalescer) Nudge() {
	if c.Disabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.shutdown, c.armed:
		return
	case c.running:
		c.rerun = true
	default:
		c.deadline = c.clock.Now()
		c.armed = true
		c.generation++
		c.signal()
	}
}

// signal wakes the loop. Callers hold mu.
func (c *Coalescer) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// State reports the current state.
func (c *Coalescer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.running && c.rerun:
		return StateRunningRerunPending
	case c.running:
		return StateRunning
	case c.armed:
		return StateArmed
	default:
		return StateIdle
	}
}

// Generation counts how many times a window was armed.
func (c *Coalescer) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Run drives the coalescer until ctx is cancelled or Shutdown is called.
// Runs execute on this goroutine, which is what keeps them exclusive.
func (c *Coalescer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()
	defer close(c.done)

	c.logger.Info("Coalescer started", "interval", c.interval, "disabled", c.Disabled())

	for {
		c.mu.Lock()
		if c.shutdown {
			c.mu.Unlock()
			c.logger.Info("Coalescer stopped")
			return nil
		}

		var timer clockwork.Timer
		if c.armed {
			wait := c.deadline.Sub(c.clock.Now())
			if wait <= 0 {
				c.armed = false
				c.running = true
				gen := c.generation
				c.mu.Unlock()
				c.execute(ctx, gen)
				continue
			}
			timer = c.clock.NewTimer(wait)
		}
		c.mu.Unlock()

		var fired <-chan time.Time
		if timer != nil {
			fired = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			c.mu.Lock()
			c.shutdown = true
			c.armed = false
			c.mu.Unlock()
			c.logger.Info("Coalescer stopped", "reason", ctx.Err())
			return nil
		case <-c.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fired:
		}
	}
}

// execute runs the function, then keeps rerunning while reruns were
// requested and shutdown was not.
func (c *Coalescer) execute(ctx context.Context, gen uint64) {
	runCtx := context.WithoutCancel(ctx)

	for {
		c.invoke(runCtx, gen)

		c.mu.Lock()
		if c.rerun && !c.shutdown {
			c.rerun = false
			c.mu.Unlock()
			c.logger.Debug("Messages arrived during run, running again", "generation", gen)
			continue
		}
		c.rerun = false
		c.running = false
		c.mu.Unlock()
		return
	}
}

func (c *Coalescer) invoke(ctx context.Context, gen uint64) {
	startTime := c.clock.Now()

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = c.run(ctx) })

	if r := pc.Recovered(); r != nil {
		c.logger.Error("Scheduled run panicked", "generation", gen, "panic", r.String())
		return
	}
	if err != nil {
		c.logger.Error("Scheduled run failed", "generation", gen, "error", err, "duration", c.clock.Since(startTime))
		return
	}
	c.logger.Debug("Scheduled run finished", "generation", gen, "duration", c.clock.Since(startTime))
}

// Shutdown cancels any armed window and makes future Arm calls no-ops. It
// waits for an in-flight run to finish, or for ctx to expire.
func (c *Coalescer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shutdown = true
	c.armed = false
	started := c.started
	c.signal()
	c.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
