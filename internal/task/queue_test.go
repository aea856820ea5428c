package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueDefaults(t *testing.T) {
	t.Parallel()

	q, _, _ := newTestQueue(t, DefaultQueueConfig())
	task, err := q.Enqueue(context.Background(), EnqueueParams{TaskType: "email.send"})
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, 5, task.Priority)
	assert.Equal(t, 3, task.MaxRetries)
	assert.JSONEq(t, `{}`, string(task.Payload))
	assert.Equal(t, testStart, task.CreatedAt)

	stored := mustGet(t, q, task.ID)
	assert.Equal(t, task.ID, stored.ID)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params EnqueueParams
	}{
		{"missing type", EnqueueParams{}},
		{"invalid type", EnqueueParams{TaskType: "Email Send"}},
		{"priority below range", EnqueueParams{TaskType: "a", Priority: intPtr(-1)}},
		{"priority above range", EnqueueParams{TaskType: "a", Priority: intPtr(11)}},
		{"zero max retries", EnqueueParams{TaskType: "a", MaxRetries: intPtr(0)}},
		{"max retries above limit", EnqueueParams{TaskType: "a", MaxRetries: intPtr(26)}},
		{"invalid payload", EnqueueParams{TaskType: "a", Payload: json.RawMessage(`{"x":`)}},
	}

	q, s, _ := newTestQueue(t, DefaultQueueConfig())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := q.Enqueue(context.Background(), tc.params)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	counts, err := s.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts[domain.TaskStatusPending], "rejected tasks must not be stored")
}

func TestQueue_StrictTaskTypes(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register("known", HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})))

	cfg := DefaultQueueConfig()
	cfg.StrictTaskTypes = true
	q, _, _ := newTestQueue(t, cfg, WithRegistry(registry))

	_, err := q.Enqueue(context.Background(), EnqueueParams{TaskType: "known"})
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), EnqueueParams{TaskType: "unknown"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestQueue_EnqueueNotifies(t *testing.T) {
	t.Parallel()

	n := NewLocalNotifier()
	q, _, _ := newTestQueue(t, DefaultQueueConfig(), WithNotifier(n))

	enqueue(t, q, "email.send", 5, 1)
	enqueue(t, q, "email.send", 5, 1)

	select {
	case <-n.Wake():
	default:
		t.Fatal("expected a pending wake-up")
	}
	select {
	case <-n.Wake():
		t.Fatal("notifications should coalesce")
	default:
	}
}

func TestQueue_FailWithoutRetriesLeft(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t, DefaultQueueConfig())
	task := enqueue(t, q, "email.send", 5, 1)

	claimed, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, domain.TaskStatusRunning, claimed.Status)

	failed, retried, err := q.Fail(ctx, task.ID, "worker-1", "boom")
	require.NoError(t, err)
	assert.False(t, retried)
	assert.Equal(t, domain.TaskStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Equal(t, "boom", failed.ErrorMessage)
	assert.NotNil(t, failed.CompletedAt)

	next, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, next, "a failed task is never claimed again")
}

func TestQueue_RetryHonorsBackoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t, DefaultQueueConfig(),
		WithRetryPolicy(RetryPolicy{BaseDelay: time.Minute, MaxDelay: time.Hour}))
	task := enqueue(t, q, "email.send", 5, 3)

	_, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	updated, retried, err := q.Fail(ctx, task.ID, "worker-1", "temporary")
	require.NoError(t, err)
	require.True(t, retried)
	assert.Equal(t, domain.TaskStatusPending, updated.Status)
	assert.Equal(t, testStart.Add(time.Minute), updated.NextEligibleAt)

	next, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, next, "task is not eligible during backoff")

	clock.Advance(time.Minute)
	next, err = q.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "worker-2", next.AssignedWorker)
	assert.Equal(t, 1, next.RetryCount)

	updated, retried, err = q.Fail(ctx, task.ID, "worker-2", "temporary")
	require.NoError(t, err)
	require.True(t, retried)
	assert.Equal(t, clock.Now().Add(2*time.Minute), updated.NextEligibleAt)
}

func TestQueue_OwnershipAndState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t, DefaultQueueConfig())
	task := enqueue(t, q, "email.send", 5, 1)

	_, err := q.Complete(ctx, task.ID, "worker-1", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "pending tasks cannot complete")

	_, err = q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	_, err = q.Complete(ctx, task.ID, "worker-2", nil)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = q.Cancel(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "running tasks cannot be cancelled")

	_, err = q.Complete(ctx, task.ID, "worker-1", json.RawMessage(`{"sent`))
	assert.ErrorIs(t, err, domain.ErrValidation)

	done, err := q.Complete(ctx, task.ID, "worker-1", json.RawMessage(`{"sent":true}`))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, done.Status)
	assert.JSONEq(t, `{"sent":true}`, string(done.Result))

	_, _, err = q.Fail(ctx, task.ID, "worker-1", "late")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = q.Complete(ctx, uuid.New(), "", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueue_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t, DefaultQueueConfig())
	task := enqueue(t, q, "email.send", 5, 1)

	cancelled, err := q.Cancel(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)

	next, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = q.Cancel(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestQueue_RecoverStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t, DefaultQueueConfig())
	retryable := enqueue(t, q, "email.send", 1, 2)
	final := enqueue(t, q, "email.send", 2, 1)

	_, err := q.ClaimNext(ctx, "dead-worker")
	require.NoError(t, err)
	_, err = q.ClaimNext(ctx, "dead-worker")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	fresh := enqueue(t, q, "email.send", 3, 1)
	_, err = q.ClaimNext(ctx, "live-worker")
	require.NoError(t, err)

	n, err := q.RecoverStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := mustGet(t, q, retryable.ID)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, LeaseExpiredMessage, got.ErrorMessage)

	got = mustGet(t, q, final.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, LeaseExpiredMessage, got.ErrorMessage)

	got = mustGet(t, q, fresh.ID)
	assert.Equal(t, domain.TaskStatusRunning, got.Status, "recent attempts are left alone")

	n, err = q.RecoverStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_PurgeFinished(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t, DefaultQueueConfig())
	old := enqueue(t, q, "email.send", 5, 1)
	_, err := q.Cancel(ctx, old.ID)
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	recent := enqueue(t, q, "email.send", 5, 1)
	_, err = q.Cancel(ctx, recent.ID)
	require.NoError(t, err)
	pending := enqueue(t, q, "email.send", 5, 1)

	n, err := q.PurgeFinished(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = q.Get(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	mustGet(t, q, recent.ID)
	mustGet(t, q, pending.ID)
}

func TestQueue_ListAndStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t, DefaultQueueConfig())
	enqueue(t, q, "email.send", 5, 1)
	enqueue(t, q, "report.render", 5, 1)
	cancelled := enqueue(t, q, "email.send", 5, 1)
	_, err := q.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)

	tasks, total, err := q.List(ctx, store.TaskFilter{TaskType: "email.send"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, tasks, 2)

	counts, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.TaskStatusPending])
	assert.Equal(t, 1, counts[domain.TaskStatusCancelled])
	assert.Equal(t, 0, counts[domain.TaskStatusRunning])

	assert.NoError(t, q.Ping(ctx))
}
