package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/metrics"
	"github.com/phrazzld/taskqueue/internal/platform/logger"
	"github.com/phrazzld/taskqueue/internal/store"
	"github.com/phrazzld/taskqueue/internal/tracing"
)

// LeaseExpiredMessage is recorded on running tasks recovered by RecoverStale.
const LeaseExpiredMessage = "worker lease expired"

// QueueConfig bounds the values accepted by Enqueue.
type QueueConfig struct {
	MinPriority       int
	MaxPriority       int
	DefaultPriority   int
	DefaultMaxRetries int
	MaxRetriesLimit   int
	// StrictTaskTypes rejects task types without a registered handler.
	StrictTaskTypes bool
}

// DefaultQueueConfig returns the default bounds.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MinPriority:       0,
		MaxPriority:       10,
		DefaultPriority:   5,
		DefaultMaxRetries: 3,
		MaxRetriesLimit:   25,
	}
}

// EnqueueParams describes a task submitted by a producer. Nil Priority and
// MaxRetries select the configured defaults.
type EnqueueParams struct {
	TaskType   string
	Payload    json.RawMessage
	Priority   *int
	MaxRetries *int
}

// Queue is the entry point for every task state transition. It validates
// input, applies the retry policy and delegates atomicity to the store.
type Queue struct {
	store    store.TaskStore
	cfg      QueueConfig
	policy   RetryPolicy
	registry *Registry
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// QueueOption customizes a Queue.
type QueueOption func(*Queue)

// WithRetryPolicy sets the backoff applied to failed tasks.
func WithRetryPolicy(p RetryPolicy) QueueOption {
	return func(q *Queue) { q.policy = p }
}

// WithRegistry sets the registry consulted when StrictTaskTypes is on.
func WithRegistry(r *Registry) QueueOption {
	return func(q *Queue) { q.registry = r }
}

// WithNotifier sets the notifier signalled after every enqueue.
func WithNotifier(n Notifier) QueueOption {
	return func(q *Queue) { q.notifier = n }
}

// WithClock replaces time.Now. Used in tests.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the queue's logger.
func WithLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// NewQueue creates a Queue over s.
func NewQueue(s store.TaskStore, cfg QueueConfig, opts ...QueueOption) *Queue {
	q := &Queue{
		store:  s,
		cfg:    cfg,
		policy: DefaultRetryPolicy(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "task_queue")
	return q
}

// Config returns the queue bounds.
func (q *Queue) Config() QueueConfig {
	return q.cfg
}

// Ping checks that the store is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}

// Enqueue validates p and inserts a pending task.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*domain.Task, error) {
	priority := q.cfg.DefaultPriority
	if p.Priority != nil {
		priority = *p.Priority
	}
	if priority < q.cfg.MinPriority || priority > q.cfg.MaxPriority {
		return nil, fmt.Errorf("%w: priority %d outside [%d, %d]",
			domain.ErrValidation, priority, q.cfg.MinPriority, q.cfg.MaxPriority)
	}

	maxRetries := q.cfg.DefaultMaxRetries
	if p.MaxRetries != nil {
		maxRetries = *p.MaxRetries
	}
	if maxRetries < 1 || maxRetries > q.cfg.MaxRetriesLimit {
		return nil, fmt.Errorf("%w: max_retries %d outside [1, %d]",
			domain.ErrValidation, maxRetries, q.cfg.MaxRetriesLimit)
	}

	if q.cfg.StrictTaskTypes && q.registry != nil {
		if _, ok := q.registry.Lookup(p.TaskType); !ok {
			return nil, fmt.Errorf("%w: %w: %q", domain.ErrValidation, ErrHandlerNotFound, p.TaskType)
		}
	}

	t, err := domain.NewTask(p.TaskType, p.Payload, priority, maxRetries, q.now())
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.TaskSpan(ctx, "enqueue", t.ID.String(), t.TaskType)
	defer span.End()

	if err := q.store.Create(ctx, t); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.TasksEnqueuedTotal.WithLabelValues(t.TaskType).Inc()
	logger.FromContextOrDefault(ctx, q.logger).Debug("task enqueued",
		"task_id", t.ID,
		"task_type", t.TaskType,
		"priority", t.Priority,
		"max_retries", t.MaxRetries)

	if q.notifier != nil {
		if err := q.notifier.Notify(ctx, t.TaskType); err != nil {
			// The task is stored; dispatchers will find it on their next poll.
			q.logger.Warn("failed to notify dispatchers", "task_id", t.ID, "error", err)
		}
	}
	return t, nil
}

// ClaimNext claims the most urgent eligible task for workerID.
// It returns (nil, nil) when nothing is eligible.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*domain.Task, error) {
	return q.store.ClaimNext(ctx, workerID, q.now())
}

// Complete records a successful attempt. An empty workerID skips the
// ownership check.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage) (*domain.Task, error) {
	if len(result) > 0 && !json.Valid(result) {
		return nil, fmt.Errorf("%w: result is not valid JSON", domain.ErrValidation)
	}
	now := q.now()
	t, err := q.store.Update(ctx, id, func(t *domain.Task) error {
		return t.Complete(workerID, result, now)
	})
	if err != nil {
		return nil, err
	}
	metrics.TaskAttemptsTotal.WithLabelValues(t.TaskType, metrics.OutcomeCompleted).Inc()
	return t, nil
}

// Fail records a failed attempt and applies the retry policy. The boolean
// reports whether the task was scheduled for another attempt.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, workerID, errorMessage string) (*domain.Task, bool, error) {
	now := q.now()
	var retried bool
	t, err := q.store.Update(ctx, id, func(t *domain.Task) error {
		var err error
		retried, err = t.Fail(workerID, errorMessage, now, q.policy.Delay)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	outcome := metrics.OutcomeFailed
	if retried {
		outcome = metrics.OutcomeRetried
		if q.notifier != nil && !t.NextEligibleAt.After(now) {
			_ = q.notifier.Notify(ctx, t.TaskType)
		}
	}
	metrics.TaskAttemptsTotal.WithLabelValues(t.TaskType, outcome).Inc()
	return t, retried, nil
}

// Cancel cancels a pending task.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	now := q.now()
	t, err := q.store.Update(ctx, id, func(t *domain.Task) error {
		return t.Cancel(now)
	})
	if err != nil {
		return nil, err
	}
	metrics.TasksCancelledTotal.Inc()
	return t, nil
}

// Get returns a task snapshot.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return q.store.Get(ctx, id)
}

// List returns one page of tasks and the total number of matches.
func (q *Queue) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, int, error) {
	return q.store.List(ctx, filter)
}

// Stats returns the number of tasks per status.
func (q *Queue) Stats(ctx context.Context) (map[domain.TaskStatus]int, error) {
	return q.store.CountByStatus(ctx)
}

// PurgeFinished deletes terminal tasks that finished more than maxAge ago.
func (q *Queue) PurgeFinished(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := q.store.DeleteFinishedBefore(ctx, q.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	metrics.TasksPurgedTotal.Add(float64(n))
	return n, nil
}

var errNotStale = errors.New("task no longer stale")

// staleBatchSize bounds how many tasks one RecoverStale pass examines.
const staleBatchSize = 100

// RecoverStale fails running tasks whose current attempt started more than
// olderThan ago, on the assumption that their worker died. The failure goes
// through the retry policy like any other. It returns the number of tasks
// recovered.
func (q *Queue) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.now().Add(-olderThan)
	ids, err := q.store.ListStale(ctx, cutoff, staleBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale tasks: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		now := q.now()
		var retried bool
		t, err := q.store.Update(ctx, id, func(t *domain.Task) error {
			// Re-check under the store's lock: the worker may have reported
			// between the listing and this update.
			if t.Status != domain.TaskStatusRunning || t.StartedAt == nil || !t.StartedAt.Before(cutoff) {
				return errNotStale
			}
			var err error
			retried, err = t.Fail("", LeaseExpiredMessage, now, q.policy.Delay)
			return err
		})
		if errors.Is(err, errNotStale) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			q.logger.Error("failed to recover stale task", "task_id", id, "error", err)
			continue
		}

		recovered++
		metrics.StaleTasksRecoveredTotal.Inc()
		outcome := metrics.OutcomeFailed
		if retried {
			outcome = metrics.OutcomeRetried
		}
		metrics.TaskAttemptsTotal.WithLabelValues(t.TaskType, outcome).Inc()
		q.logger.Warn("recovered stale task",
			"task_id", t.ID,
			"task_type", t.TaskType,
			"retry_count", t.RetryCount,
			"status", t.Status)
	}
	return recovered, nil
}
