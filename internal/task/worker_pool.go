package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/metrics"
	"github.com/phrazzld/taskqueue/internal/platform/logger"
	"github.com/phrazzld/taskqueue/internal/store"
	"github.com/phrazzld/taskqueue/internal/tracing"
)

// WorkerState is the observable state of a worker.
type WorkerState string

// Worker states
const (
	WorkerIdle    WorkerState = "idle"
	WorkerRunning WorkerState = "running"
)

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	ID        string      `json:"id"`
	State     WorkerState `json:"state"`
	TaskID    *uuid.UUID  `json:"task_id,omitempty"`
	TaskType  string      `json:"task_type,omitempty"`
	Since     time.Time   `json:"since"`
	Processed int64       `json:"processed"`
}

// Worker is one execution slot of the pool.
type Worker struct {
	id string

	// Guarded by WorkerPool.mu.
	state     WorkerState
	task      *domain.Task
	since     time.Time
	processed int64
}

// ID returns the identifier recorded as the task's assigned_worker.
func (w *Worker) ID() string {
	return w.id
}

// WorkerPoolConfig holds configuration options for the worker pool.
type WorkerPoolConfig struct {
	// WorkerCount is the fixed number of workers. If zero or negative, defaults to 1.
	WorkerCount int
	// IDPrefix prefixes worker IDs. Include something unique per process
	// (e.g. hostname) when several processes share a store.
	IDPrefix string
	// TaskTimeout bounds a single handler execution. Zero disables it.
	TaskTimeout time.Duration
	// ReportAttempts is how many times a worker tries to record an outcome
	// when the store reports a transient error.
	ReportAttempts int
	// ReportBaseDelay is the first wait between report attempts.
	ReportBaseDelay time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:     2,
		IDPrefix:        "worker",
		TaskTimeout:     5 * time.Minute,
		ReportAttempts:  5,
		ReportBaseDelay: 100 * time.Millisecond,
	}
}

const maxReportDelay = 5 * time.Second

// WorkerPool owns a fixed set of workers. The dispatcher reserves an idle
// worker with Acquire, then either hands it a claimed task with Dispatch or
// gives it back with Release.
type WorkerPool struct {
	queue    *Queue
	registry *Registry
	cfg      WorkerPoolConfig
	logger   *slog.Logger
	now      func() time.Time

	idle    chan *Worker
	workers []*Worker

	mu sync.Mutex
	wg sync.WaitGroup

	// taskCtx is the parent of every handler context; cancelling it
	// interrupts running handlers.
	taskCtx    context.Context
	cancelRuns context.CancelFunc
}

// NewWorkerPool creates a new worker pool with the specified configuration.
func NewWorkerPool(queue *Queue, registry *Registry, cfg WorkerPoolConfig, log *slog.Logger) *WorkerPool {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "worker_pool")

	if cfg.WorkerCount <= 0 {
		log.Warn("invalid worker count specified, using default",
			"specified_count", cfg.WorkerCount,
			"default_count", 1)
		cfg.WorkerCount = 1
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "worker"
	}
	if cfg.ReportAttempts < 1 {
		cfg.ReportAttempts = 1
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		queue:      queue,
		registry:   registry,
		cfg:        cfg,
		logger:     log,
		now:        time.Now,
		idle:       make(chan *Worker, cfg.WorkerCount),
		taskCtx:    taskCtx,
		cancelRuns: cancel,
	}

	started := p.now()
	for i := 0; i < cfg.WorkerCount; i++ {
		w := &Worker{id: fmt.Sprintf("%s-%d", cfg.IDPrefix, i+1), state: WorkerIdle, since: started}
		p.workers = append(p.workers, w)
		p.idle <- w
	}
	return p
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return len(p.workers)
}

// Acquire blocks until a worker is idle or ctx is done.
func (p *WorkerPool) Acquire(ctx context.Context) (*Worker, error) {
	select {
	case w := <-p.idle:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns an acquired worker that received no task.
func (p *WorkerPool) Release(w *Worker) {
	p.idle <- w
}

// Dispatch runs t on the acquired worker w in a new goroutine. t must have
// been claimed for w.ID(). The worker returns to the idle set once the
// outcome has been reported.
func (p *WorkerPool) Dispatch(w *Worker, t *domain.Task) {
	p.setState(w, WorkerRunning, t)
	metrics.WorkersBusy.Inc()

	p.wg.Add(1)
	go func() {
		defer func() {
			p.setState(w, WorkerIdle, nil)
			metrics.WorkersBusy.Dec()
			p.wg.Done()
			p.idle <- w
		}()
		p.run(w, t)
	}()
}

// Wait blocks until every dispatched task has been reported or ctx is done.
func (p *WorkerPool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelRunning cancels the context of every running handler.
func (p *WorkerPool) CancelRunning() {
	p.cancelRuns()
}

// Snapshot returns the state of every worker.
func (p *WorkerPool) Snapshot() []WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]WorkerStatus, 0, len(p.workers))
	for _, w := range p.workers {
		s := WorkerStatus{ID: w.id, State: w.state, Since: w.since, Processed: w.processed}
		if w.task != nil {
			id := w.task.ID
			s.TaskID = &id
			s.TaskType = w.task.TaskType
		}
		out = append(out, s)
	}
	return out
}

// Busy returns the number of running workers.
func (p *WorkerPool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.workers {
		if w.state == WorkerRunning {
			n++
		}
	}
	return n
}

func (p *WorkerPool) setState(w *Worker, state WorkerState, t *domain.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state == WorkerIdle && w.state == WorkerRunning {
		w.processed++
	}
	w.state = state
	w.task = t
	w.since = p.now()
}

// run executes t and reports the outcome. Every path ends in Complete or Fail.
func (p *WorkerPool) run(w *Worker, t *domain.Task) {
	attempt := t.RetryCount + 1
	log := p.logger.With(
		"task_id", t.ID,
		"task_type", t.TaskType,
		"worker_id", w.id,
		"attempt", attempt,
	)

	ctx := logger.WithLogger(p.taskCtx, log)
	ctx = WithInfo(ctx, Info{
		ID:         t.ID,
		TaskType:   t.TaskType,
		Attempt:    attempt,
		MaxRetries: t.MaxRetries,
		WorkerID:   w.id,
	})
	ctx, span := tracing.TaskSpan(ctx, "execute", t.ID.String(), t.TaskType)
	defer span.End()

	log.Info("processing task")
	start := time.Now()
	result, execErr := p.execute(ctx, t, attempt)
	metrics.TaskDurationSeconds.WithLabelValues(t.TaskType).Observe(time.Since(start).Seconds())

	// Reporting must survive shutdown cancellation of the handler context.
	reportCtx := context.WithoutCancel(ctx)

	if execErr == nil {
		err := p.report(reportCtx, log, func(ctx context.Context) error {
			_, err := p.queue.Complete(ctx, t.ID, w.id, result)
			return err
		})
		if err != nil {
			return
		}
		log.Info("task completed successfully", "duration_ms", time.Since(start).Milliseconds())
		return
	}

	tracing.RecordError(span, execErr)
	log.Error("task execution failed", "error", execErr)

	message := execErr.Error()
	var ee *ExecutionError
	if errors.As(execErr, &ee) {
		message = ee.Message()
	}

	var (
		retried bool
		updated *domain.Task
	)
	err := p.report(reportCtx, log, func(ctx context.Context) error {
		var err error
		updated, retried, err = p.queue.Fail(ctx, t.ID, w.id, message)
		return err
	})
	if err != nil {
		return
	}
	if retried {
		log.Info("task scheduled for retry",
			"retry_count", updated.RetryCount,
			"next_eligible_at", updated.NextEligibleAt)
	} else {
		log.Warn("task failed permanently", "retry_count", updated.RetryCount)
	}
}

// execute looks up the handler and runs it under the task timeout,
// converting every failure, panics included, into an *ExecutionError.
func (p *WorkerPool) execute(ctx context.Context, t *domain.Task, attempt int) (result json.RawMessage, err error) {
	fail := func(cause error) error {
		return &ExecutionError{TaskID: t.ID, TaskType: t.TaskType, Attempt: attempt, Err: cause}
	}

	h, ok := p.registry.Lookup(t.TaskType)
	if !ok {
		return nil, fail(fmt.Errorf("%w: %q", ErrHandlerNotFound, t.TaskType))
	}

	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fail(fmt.Errorf("handler panic: %v", r))
		}
	}()

	result, err = h.Handle(ctx, t.Payload)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fail(fmt.Errorf("task timed out after %s: %w", p.cfg.TaskTimeout, err))
		}
		return nil, fail(err)
	}
	if len(result) > 0 && !json.Valid(result) {
		return nil, fail(errors.New("handler returned a result that is not valid JSON"))
	}
	return result, nil
}

// report calls fn, retrying transient store errors with backoff. A task whose
// outcome cannot be recorded stays running and is recovered by the stale
// task monitor.
func (p *WorkerPool) report(ctx context.Context, log *slog.Logger, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !store.IsTransientError(err) || attempt >= p.cfg.ReportAttempts {
			metrics.ReportErrorsTotal.Inc()
			log.Error("failed to record task outcome",
				"error", err,
				"report_attempts", attempt)
			return err
		}

		delay := exponential(p.cfg.ReportBaseDelay, maxReportDelay, attempt)
		log.Warn("transient error recording task outcome, retrying",
			"error", err,
			"report_attempt", attempt,
			"retry_in", delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
