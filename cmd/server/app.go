package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/phrazzld/taskqueue/internal/config"
	"github.com/phrazzld/taskqueue/internal/maintenance"
	"github.com/phrazzld/taskqueue/internal/platform/redis"
	"github.com/phrazzld/taskqueue/internal/service/auth"
	"github.com/phrazzld/taskqueue/internal/task"
	"github.com/phrazzld/taskqueue/internal/tracing"
	"golang.org/x/sync/errgroup"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	backend  *storeBackend
	notifier task.Notifier

	queue      *task.Queue
	registry   *task.Registry
	pool       *task.WorkerPool
	runner     *task.Runner
	reporter   *task.Reporter
	retention  *maintenance.Retention
	jwtService auth.JWTService
	apiKeys    *auth.APIKeyVerifier

	shutdownTracer tracing.ShutdownFunc
}

// newApplication creates a new application instance with all dependencies initialized.
// Partially built resources are released when initialization fails.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *application, err error) {
	app := &application{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	app.shutdownTracer, err = tracing.InitTracer(ctx, tracing.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app.backend, err = openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate && app.backend.migrate != nil {
		if err := app.backend.migrate(ctx, app.backend.db, "up"); err != nil {
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	if cfg.Redis.URL != "" {
		app.notifier, err = redis.NewNotifier(ctx, cfg.Redis.URL, cfg.Redis.Channel, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis notifier: %w", err)
		}
		logger.Info("redis enqueue notifications enabled", "channel", cfg.Redis.Channel)
	} else {
		app.notifier = task.NewLocalNotifier()
	}

	if err := app.setupAuth(); err != nil {
		return nil, err
	}

	app.registry = task.NewRegistry()
	if err := registerBuiltinHandlers(app.registry, cfg.Handlers.HTTPRequest); err != nil {
		return nil, fmt.Errorf("failed to register handlers: %w", err)
	}

	app.queue = task.NewQueue(app.backend.store, task.QueueConfig{
		MinPriority:       cfg.Queue.MinPriority,
		MaxPriority:       cfg.Queue.MaxPriority,
		DefaultPriority:   cfg.Queue.DefaultPriority,
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
		MaxRetriesLimit:   cfg.Queue.MaxRetriesLimit,
		StrictTaskTypes:   cfg.Queue.StrictTaskTypes,
	},
		task.WithRetryPolicy(task.RetryPolicy{
			BaseDelay: cfg.Retry.BaseDelay,
			MaxDelay:  cfg.Retry.MaxDelay,
			Jitter:    cfg.Retry.Jitter,
		}),
		task.WithRegistry(app.registry),
		task.WithNotifier(app.notifier),
		task.WithLogger(logger),
	)

	app.setupWorkers()

	app.reporter = task.NewReporter(app.queue, app.pool, cfg.Metrics.RefreshInterval, logger)

	if cfg.Retention.Enabled {
		app.retention, err = maintenance.NewRetention(app.queue, maintenance.RetentionConfig{
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.Retention.MaxAge,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure retention: %w", err)
		}
	}

	logger.Info("application initialized successfully",
		"handlers", app.registry.Types())
	return app, nil
}

func (app *application) setupAuth() error {
	authCfg := app.config.Auth
	if authCfg.JWTSecret != "" {
		svc, err := auth.NewJWTService(authCfg.JWTSecret,
			time.Duration(authCfg.TokenLifetimeMinutes)*time.Minute)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		app.jwtService = svc
	}
	if len(authCfg.APIKeyHashes) > 0 {
		keys, err := auth.NewAPIKeyVerifier(authCfg.APIKeyHashes)
		if err != nil {
			return fmt.Errorf("failed to load API key hashes: %w", err)
		}
		app.apiKeys = keys
	}
	if !authCfg.Enabled() {
		app.logger.Warn("authentication disabled; task routes are open")
	}
	return nil
}

// setupWorkers builds the worker pool, dispatcher and runner.
func (app *application) setupWorkers() {
	cfg := app.config.Worker

	prefix := cfg.IDPrefix
	if host, err := os.Hostname(); err == nil && host != "" {
		prefix = prefix + "-" + host
	}

	poolCfg := task.DefaultWorkerPoolConfig()
	poolCfg.WorkerCount = cfg.Count
	poolCfg.IDPrefix = prefix
	poolCfg.TaskTimeout = cfg.TaskTimeout
	poolCfg.ReportAttempts = cfg.ReportAttempts
	app.pool = task.NewWorkerPool(app.queue, app.registry, poolCfg, app.logger)

	dispatcherCfg := task.DefaultDispatcherConfig()
	dispatcherCfg.PollInterval = cfg.PollInterval
	dispatcherCfg.ClaimRate = cfg.ClaimRate
	dispatcher := task.NewDispatcher(app.queue, app.pool, app.notifier, dispatcherCfg, app.logger)

	app.runner = task.NewRunner(app.queue, app.pool, dispatcher, task.RunnerConfig{
		StuckTaskAge:           cfg.StuckTaskAge,
		StuckTaskCheckInterval: cfg.StuckTaskCheckInterval,
	}, app.logger)
}

// Run starts the workers, the background jobs and the HTTP server, and
// blocks until ctx is cancelled or one of them fails. Shutdown stops the
// HTTP server first so that no new tasks arrive, then drains the workers.
func (app *application) Run(ctx context.Context) error {
	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	if app.retention != nil {
		app.retention.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	if app.config.Metrics.Enabled {
		g.Go(func() error {
			return app.reporter.Run(gctx)
		})
	}

	g.Go(func() error {
		return app.startHTTPServer(gctx, app.setupRouter())
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if app.retention != nil {
		if stopErr := app.retention.Stop(shutdownCtx); stopErr != nil {
			app.logger.Error("retention job did not stop cleanly", "error", stopErr)
		}
	}
	if stopErr := app.runner.Stop(shutdownCtx); stopErr != nil {
		app.logger.Error("task runner did not stop cleanly", "error", stopErr)
		err = errors.Join(err, stopErr)
	}
	return err
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.notifier != nil {
		if err := app.notifier.Close(); err != nil {
			app.logger.Error("error closing notifier", "error", err)
		}
	}

	if app.backend != nil {
		if err := app.backend.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	if app.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.shutdownTracer(ctx); err != nil {
			app.logger.Error("error flushing traces", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
