package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/metrics"
)

// Stats is the read-only summary served to monitoring clients.
type Stats struct {
	Counts      map[domain.TaskStatus]int `json:"counts"`
	Total       int                       `json:"total"`
	BusyWorkers int                       `json:"busy_workers"`
	Workers     []WorkerStatus            `json:"workers"`
	CollectedAt time.Time                 `json:"collected_at"`
}

// Reporter answers status queries and keeps the per-status gauges current.
type Reporter struct {
	queue    *Queue
	pool     *WorkerPool
	interval time.Duration
	logger   *slog.Logger
}

// NewReporter creates a Reporter. pool may be nil when the process runs no
// workers, e.g. an API-only replica.
func NewReporter(queue *Queue, pool *WorkerPool, interval time.Duration, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reporter{
		queue:    queue,
		pool:     pool,
		interval: interval,
		logger:   log.With("component", "reporter"),
	}
}

// Stats collects task counts and the worker snapshot.
func (r *Reporter) Stats(ctx context.Context) (*Stats, error) {
	counts, err := r.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stats{Counts: counts, CollectedAt: time.Now().UTC(), Workers: []WorkerStatus{}}
	for _, n := range counts {
		s.Total += n
	}
	if r.pool != nil {
		s.Workers = r.pool.Snapshot()
		for _, w := range s.Workers {
			if w.State == WorkerRunning {
				s.BusyWorkers++
			}
		}
	}
	return s, nil
}

// Refresh updates the taskqueue_tasks gauges once.
func (r *Reporter) Refresh(ctx context.Context) error {
	counts, err := r.queue.Stats(ctx)
	if err != nil {
		return err
	}
	for status, n := range counts {
		metrics.Tasks.WithLabelValues(string(status)).Set(float64(n))
	}
	return nil
}

// Run refreshes the gauges every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("failed to refresh task gauges", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
