package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RunnerConfig holds configuration for the task runner.
type RunnerConfig struct {
	// StuckTaskAge is how long a task may stay running before its worker is
	// presumed dead and the task is failed with LeaseExpiredMessage.
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval defines how often to check for stuck tasks.
	// If zero, defaults to 1 minute.
	StuckTaskCheckInterval time.Duration

	// CancelGrace bounds how long Stop waits for cancelled handlers once the
	// shutdown deadline has passed. Tasks still running after it stay
	// running in the store and are recovered on the next start.
	// If zero, defaults to 5 seconds.
	CancelGrace time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		StuckTaskAge:           30 * time.Minute,
		StuckTaskCheckInterval: time.Minute,
		CancelGrace:            5 * time.Second,
	}
}

// Runner owns the background side of the queue: the dispatcher, the worker
// pool and the stuck task monitor.
type Runner struct {
	queue      *Queue
	pool       *WorkerPool
	dispatcher *Dispatcher
	cfg        RunnerConfig
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(queue *Queue, pool *WorkerPool, dispatcher *Dispatcher, cfg RunnerConfig, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if cfg.StuckTaskCheckInterval <= 0 {
		cfg.StuckTaskCheckInterval = time.Minute
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 5 * time.Second
	}
	return &Runner{
		queue:      queue,
		pool:       pool,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     log.With("component", "task_runner"),
	}
}

// Pool returns the worker pool.
func (r *Runner) Pool() *WorkerPool {
	return r.pool
}

// Start recovers tasks left running by a previous process and starts the
// dispatcher and the stuck task monitor. It returns immediately.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrRunnerStarted
	}
	r.started = true

	if r.cfg.StuckTaskAge > 0 {
		n, err := r.queue.RecoverStale(ctx, r.cfg.StuckTaskAge)
		if err != nil {
			// Not fatal: the monitor retries on its next tick.
			r.logger.Error("failed to recover stuck tasks at startup", "error", err)
		} else if n > 0 {
			r.logger.Info("recovered stuck tasks at startup", "count", n)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.dispatcher.Run(runCtx)
	}()

	if r.cfg.StuckTaskAge > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.stuckTaskMonitor(runCtx)
		}()
	}

	r.logger.Info("task runner started",
		"workers", r.pool.Size(),
		"stuck_task_age", r.cfg.StuckTaskAge)
	return nil
}

// Stop stops claiming new tasks and waits for running tasks to report. If ctx
// expires first, running handlers are cancelled and Stop waits up to
// CancelGrace for them to report before returning ctx's error.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started || r.cancel == nil {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("stopping task runner", "busy_workers", r.pool.Busy())
	cancel()
	r.wg.Wait()

	if err := r.pool.Wait(ctx); err != nil {
		r.logger.Warn("shutdown deadline reached, cancelling running tasks",
			"busy_workers", r.pool.Busy())
		r.pool.CancelRunning()

		graceCtx, cancelGrace := context.WithTimeout(context.Background(), r.cfg.CancelGrace)
		defer cancelGrace()
		if graceErr := r.pool.Wait(graceCtx); graceErr != nil {
			r.logger.Error("handlers ignored cancellation, abandoning them",
				"busy_workers", r.pool.Busy(),
				"grace", r.cfg.CancelGrace)
		}
		return err
	}

	r.logger.Info("task runner stopped")
	return nil
}

// stuckTaskMonitor periodically fails tasks that have been running for too long.
func (r *Runner) stuckTaskMonitor(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.queue.RecoverStale(ctx, r.cfg.StuckTaskAge)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error("failed to check for stuck tasks", "error", err)
				}
				continue
			}
			if n > 0 {
				r.logger.Info("recovered stuck tasks", "count", n)
			}
		}
	}
}
