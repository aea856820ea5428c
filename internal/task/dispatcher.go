package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/taskqueue/internal/metrics"
	"golang.org/x/time/rate"
)

// DispatcherConfig tunes the claim loop.
type DispatcherConfig struct {
	// PollInterval is the longest an idle dispatcher waits before looking
	// for eligible tasks again; notifications usually wake it sooner.
	PollInterval time.Duration
	// ClaimRate limits claims per second. Zero means unlimited.
	ClaimRate float64
	// ErrorBaseDelay and ErrorMaxDelay bound the backoff after claim errors.
	ErrorBaseDelay time.Duration
	ErrorMaxDelay  time.Duration
}

// DefaultDispatcherConfig returns the default loop settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval:   2 * time.Second,
		ErrorBaseDelay: 100 * time.Millisecond,
		ErrorMaxDelay:  10 * time.Second,
	}
}

// Dispatcher matches eligible tasks to idle workers.
type Dispatcher struct {
	queue    *Queue
	pool     *WorkerPool
	notifier Notifier
	limiter  *rate.Limiter
	cfg      DispatcherConfig
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. notifier may be nil, in which case the
// dispatcher relies on polling alone.
func NewDispatcher(queue *Queue, pool *WorkerPool, notifier Notifier, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	defaults := DefaultDispatcherConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.ErrorBaseDelay <= 0 {
		cfg.ErrorBaseDelay = defaults.ErrorBaseDelay
	}
	if cfg.ErrorMaxDelay <= 0 {
		cfg.ErrorMaxDelay = defaults.ErrorMaxDelay
	}

	d := &Dispatcher{
		queue:    queue,
		pool:     pool,
		notifier: notifier,
		cfg:      cfg,
		logger:   log.With("component", "dispatcher"),
	}
	if cfg.ClaimRate > 0 {
		burst := int(cfg.ClaimRate)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.ClaimRate), burst)
	}
	return d
}

// Run claims and dispatches tasks until ctx is cancelled. Store errors are
// logged and retried with backoff; Run only returns when ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		"workers", d.pool.Size(),
		"poll_interval", d.cfg.PollInterval,
		"claim_rate", d.cfg.ClaimRate)
	defer d.logger.Info("dispatcher stopped")

	var wake <-chan struct{}
	if d.notifier != nil {
		wake = d.notifier.Wake()
	}

	failures := 0
	for {
		w, err := d.pool.Acquire(ctx)
		if err != nil {
			return nil
		}

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				d.pool.Release(w)
				return nil
			}
		}

		t, err := d.queue.ClaimNext(ctx, w.ID())
		if err != nil {
			d.pool.Release(w)
			if ctx.Err() != nil {
				return nil
			}
			failures++
			metrics.ClaimErrorsTotal.Inc()
			delay := exponential(d.cfg.ErrorBaseDelay, d.cfg.ErrorMaxDelay, failures)
			d.logger.Error("failed to claim task",
				"error", err,
				"consecutive_failures", failures,
				"retry_in", delay)
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		failures = 0

		if t == nil {
			d.pool.Release(w)
			if !d.waitForWork(ctx, wake) {
				return nil
			}
			continue
		}

		d.logger.Debug("dispatching task",
			"task_id", t.ID,
			"task_type", t.TaskType,
			"priority", t.Priority,
			"worker_id", w.ID())
		d.pool.Dispatch(w, t)
	}
}

// waitForWork blocks until a notification, the poll interval or shutdown.
func (d *Dispatcher) waitForWork(ctx context.Context, wake <-chan struct{}) bool {
	timer := time.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wake:
		return true
	case <-timer.C:
		return true
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
