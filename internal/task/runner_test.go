package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(q *Queue, registry *Registry, cfg RunnerConfig) *Runner {
	log := logger.NewDiscard()
	pool := NewWorkerPool(q, registry, WorkerPoolConfig{WorkerCount: 2}, log)
	d := NewDispatcher(q, pool, nil, DispatcherConfig{PollInterval: 5 * time.Millisecond}, log)
	return NewRunner(q, pool, d, cfg, log)
}

func TestRunner_ProcessesTasks(t *testing.T) {
	t.Parallel()

	q, _, _ := newTestQueue(t, DefaultQueueConfig())
	registry := NewRegistry()
	require.NoError(t, registry.Register("job", HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})))

	r := newTestRunner(q, registry, DefaultRunnerConfig())
	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrRunnerStarted)

	task := enqueue(t, q, "job", 5, 1)
	require.Eventually(t, func() bool {
		return statusOf(q, task.ID) == domain.TaskStatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop(context.Background()))
	require.NoError(t, r.Stop(context.Background()), "stopping twice is a no-op")
}

func TestRunner_StopWaitsForRunningTasks(t *testing.T) {
	t.Parallel()

	q, _, _ := newTestQueue(t, DefaultQueueConfig())
	registry := NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, registry.Register("job", HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
		close(started)
		<-release
		return nil, nil
	})))

	r := newTestRunner(q, registry, DefaultRunnerConfig())
	task := enqueue(t, q, "job", 5, 1)
	require.NoError(t, r.Start(context.Background()))
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	assert.Equal(t, domain.TaskStatusCompleted, statusOf(q, task.ID))
}

func TestRunner_StopDeadlineCancelsHandlers(t *testing.T) {
	t.Parallel()

	q, _, _ := newTestQueue(t, DefaultQueueConfig())
	registry := NewRegistry()
	started := make(chan struct{})
	require.NoError(t, registry.Register("job", HandlerFunc(func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	r := newTestRunner(q, registry, DefaultRunnerConfig())
	task := enqueue(t, q, "job", 5, 1)
	require.NoError(t, r.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Stop(ctx), context.DeadlineExceeded)

	got := mustGet(t, q, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status, "the interrupted attempt is still reported")
	assert.Equal(t, context.Canceled.Error(), got.ErrorMessage)
}

func TestRunner_StopAbandonsHandlersIgnoringCancellation(t *testing.T) {
	t.Parallel()

	q, _, _ := newTestQueue(t, DefaultQueueConfig())
	registry := NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	require.NoError(t, registry.Register("job", HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
		close(started)
		<-release
		return nil, nil
	})))

	cfg := DefaultRunnerConfig()
	cfg.CancelGrace = 20 * time.Millisecond
	r := newTestRunner(q, registry, cfg)
	task := enqueue(t, q, "job", 5, 1)
	require.NoError(t, r.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(ctx) }()

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on a handler that ignores its context")
	}
	assert.Equal(t, domain.TaskStatusRunning, statusOf(q, task.ID), "left for stale recovery")
}

func TestRunner_RecoversStaleTasksAtStartup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t, DefaultQueueConfig(),
		WithRetryPolicy(RetryPolicy{BaseDelay: time.Hour, MaxDelay: time.Hour}))
	task := enqueue(t, q, "job", 5, 2)
	_, err := q.ClaimNext(ctx, "previous-process-1")
	require.NoError(t, err)
	clock.Advance(time.Hour)

	r := newTestRunner(q, NewRegistry(), RunnerConfig{StuckTaskAge: 30 * time.Minute, StuckTaskCheckInterval: time.Hour})
	require.NoError(t, r.Start(ctx))
	t.Cleanup(func() { _ = r.Stop(context.Background()) })

	got := mustGet(t, q, task.ID)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, LeaseExpiredMessage, got.ErrorMessage)
	assert.Equal(t, clock.Now().Add(time.Hour), got.NextEligibleAt)
}

func TestRunner_StuckTaskMonitor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t, DefaultQueueConfig())
	task := enqueue(t, q, "job", 5, 1)
	_, err := q.ClaimNext(ctx, "ghost-1")
	require.NoError(t, err)

	r := newTestRunner(q, NewRegistry(), RunnerConfig{StuckTaskAge: 30 * time.Minute, StuckTaskCheckInterval: 5 * time.Millisecond})
	require.NoError(t, r.Start(ctx))
	t.Cleanup(func() { _ = r.Stop(context.Background()) })

	assert.Equal(t, domain.TaskStatusRunning, statusOf(q, task.ID), "fresh attempts are not recovered")
	clock.Advance(time.Hour)

	require.Eventually(t, func() bool {
		return statusOf(q, task.ID) == domain.TaskStatusFailed
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, LeaseExpiredMessage, mustGet(t, q, task.ID).ErrorMessage)
}
