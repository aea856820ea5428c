// Package maintenance runs periodic housekeeping jobs on the task store.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger deletes terminal tasks older than maxAge.
type Purger interface {
	PurgeFinished(ctx context.Context, maxAge time.Duration) (int64, error)
}

// RetentionConfig configures the retention job.
type RetentionConfig struct {
	// Schedule is a standard five-field cron expression or a descriptor
	// such as "@hourly" or "@every 30m".
	Schedule string
	// MaxAge is how long completed, failed and cancelled tasks are kept.
	MaxAge time.Duration
	// Timeout bounds one purge run. Zero means one minute.
	Timeout time.Duration
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Retention periodically deletes finished tasks.
type Retention struct {
	purger Purger
	cfg    RetentionConfig
	logger *slog.Logger

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

// NewRetention validates cfg and returns a stopped retention job.
func NewRetention(purger Purger, cfg RetentionConfig, log *slog.Logger) (*Retention, error) {
	if purger == nil {
		return nil, errors.New("retention requires a purger")
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", cfg.MaxAge)
	}
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retention{
		purger: purger,
		cfg:    cfg,
		logger: log.With("component", "retention"),
	}, nil
}

// RunOnce purges finished tasks older than the configured max age.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	n, err := r.purger.PurgeFinished(ctx, r.cfg.MaxAge)
	if err != nil {
		r.logger.Error("failed to purge finished tasks", "error", err)
		return 0, err
	}
	r.logger.Info("purged finished tasks",
		"deleted", n,
		"max_age", r.cfg.MaxAge,
		"duration_ms", time.Since(start).Milliseconds())
	return n, nil
}

// Start schedules the job. Runs that overlap a still-running purge are skipped.
func (r *Retention) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.c = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	// The schedule was validated by NewRetention.
	_, _ = r.c.AddFunc(r.cfg.Schedule, func() {
		_, _ = r.RunOnce(runCtx)
	})
	r.c.Start()
	r.logger.Info("retention job scheduled", "schedule", r.cfg.Schedule, "max_age", r.cfg.MaxAge)
}

// Stop unschedules the job and waits for a running purge until ctx is done.
func (r *Retention) Stop(ctx context.Context) error {
	r.mu.Lock()
	c, cancel := r.c, r.cancel
	r.c, r.cancel = nil, nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	stopped := c.Stop()
	select {
	case <-stopped.Done():
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}
