// Package app wires the intake service together and manages the lifecycle
// of its components: the HTTP server, the agent coalescer loop, the
// pre-processor pool and the maintenance scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/intake/internal/agent"
	"github.com/edgard/intake/internal/api"
	"github.com/edgard/intake/internal/app/tasks"
	"github.com/edgard/intake/internal/config"
	"github.com/edgard/intake/internal/database"
	"github.com/edgard/intake/internal/debounce"
	"github.com/edgard/intake/internal/gemini"
	"github.com/edgard/intake/internal/preprocess"
)

// Version is reported by the root endpoint and the version command. It is
// set at build time with -ldflags.
var Version = "dev"

// App represents the service and manages its components' lifecycle.
type App struct {
	logger       *slog.Logger
	cfg          *config.Config
	db           *sqlx.DB
	store        database.Store
	preprocessor *preprocess.Preprocessor
	coalescer    *debounce.Coalescer
	runner       *agent.Runner
	scheduler    *Scheduler
	server       *http.Server
}

// Option customises New.
type Option func(*options)

type options struct {
	extractor agent.Extractor
	coalescer []debounce.Option
}

// WithExtractor overrides the extractor selected by agent.extractor.
func WithExtractor(e agent.Extractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithCoalescerOptions passes options to the coalescer, e.g. a fake clock.
func WithCoalescerOptions(opts ...debounce.Option) Option {
	return func(o *options) { o.coalescer = append(o.coalescer, opts...) }
}

// New opens the database, applies migrations and constructs every
// component once. Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := database.NewStore(db, logger)

	extractor := o.extractor
	if extractor == nil {
		extractor, err = newExtractor(ctx, cfg, logger)
		if err != nil {
			database.CloseDB(db)
			return nil, err
		}
	}

	pre := preprocess.New(store, preprocess.Options{
		Workers:   cfg.Preprocess.Workers,
		QueueSize: cfg.Preprocess.QueueSize,
		Delay:     cfg.Preprocess.Delay,
		Logger:    logger,
	})

	runner := agent.NewRunner(store, extractor, agent.Options{
		Logger:          logger,
		Preprocessor:    pre,
		WaitTimeout:     cfg.Preprocess.WaitTimeout,
		ProcessingDelay: cfg.Agent.ProcessingDelay,
		RunTimeout:      cfg.Agent.RunTimeout,
	})

	coalescerOpts := append([]debounce.Option{debounce.WithLogger(logger)}, o.coalescer...)
	coalescer := debounce.New(cfg.Agent.DebounceInterval(), runner.Run, coalescerOpts...)

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:       logger,
		Store:        store,
		Preprocessor: pre,
		Coalescer:    coalescer,
		Config:       cfg,
	})
	scheduler, err := NewScheduler(logger, &cfg.Scheduler, taskMap)
	if err != nil {
		_ = pre.Stop(ctx)
		database.CloseDB(db)
		return nil, err
	}

	router := api.NewRouter(api.Deps{
		Logger:    logger,
		Intake:    NewIntakeService(store, pre, coalescer, logger),
		Store:     store,
		Scheduler: coalescer,
		Config:    cfg.HTTP,
		Version:   Version,
	})

	return &App{
		logger:       logger.With("component", "app"),
		cfg:          cfg,
		db:           db,
		store:        store,
		preprocessor: pre,
		coalescer:    coalescer,
		runner:       runner,
		scheduler:    scheduler,
		server: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      router,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

func newExtractor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agent.Extractor, error) {
	switch cfg.Agent.Extractor {
	case "gemini":
		e, err := gemini.NewExtractor(ctx, cfg.Gemini, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini extractor: %w", err)
		}
		return e, nil
	default:
		return agent.KeywordExtractor{}, nil
	}
}

// Handler returns the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Store returns the message store.
func (a *App) Store() database.Store {
	return a.store
}

// Run starts all components and blocks until ctx is cancelled or one of
// them fails, then shuts everything down in order.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting intake service...", "version", Version)

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server...", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", "error", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.coalescer.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping components...")
		return a.shutdown()
	})

	a.logger.Info("Intake service running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Intake service stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Intake service stopped gracefully.")
	return nil
}

// shutdown stops intake first so no new work arrives, then drains the
// agent run, the pre-processor and the scheduler.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.coalescer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("coalescer shutdown: %w", err))
	}
	if err := a.preprocessor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("preprocessor stop: %w", err))
	}
	if err := a.scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases the database. Call it after Run returns.
func (a *App) Close() {
	database.CloseDB(a.db)
}
