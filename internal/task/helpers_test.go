package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/platform/logger"
	"github.com/phrazzld/taskqueue/internal/platform/memory"
	"github.com/phrazzld/taskqueue/internal/store"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testStart}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestQueue returns a queue over a fresh memory store with a manual clock
// and no retry delay.
func newTestQueue(t *testing.T, cfg QueueConfig, opts ...QueueOption) (*Queue, *memory.TaskStore, *testClock) {
	t.Helper()
	s := memory.NewTaskStore()
	clock := newTestClock()
	base := []QueueOption{
		WithClock(clock.Now),
		WithRetryPolicy(RetryPolicy{}),
		WithLogger(logger.NewDiscard()),
	}
	return NewQueue(s, cfg, append(base, opts...)...), s, clock
}

func intPtr(v int) *int {
	return &v
}

func enqueue(t *testing.T, q *Queue, taskType string, priority, maxRetries int) *domain.Task {
	t.Helper()
	task, err := q.Enqueue(context.Background(), EnqueueParams{
		TaskType:   taskType,
		Priority:   intPtr(priority),
		MaxRetries: intPtr(maxRetries),
	})
	require.NoError(t, err)
	return task
}

func mustGet(t *testing.T, q *Queue, id uuid.UUID) *domain.Task {
	t.Helper()
	task, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}

// statusOf is safe to call from require.Eventually conditions.
func statusOf(q *Queue, id uuid.UUID) domain.TaskStatus {
	task, err := q.Get(context.Background(), id)
	if err != nil {
		return ""
	}
	return task.Status
}

// flakyStore fails a number of Update or ClaimNext calls with a transient
// error before delegating to the wrapped store.
type flakyStore struct {
	store.TaskStore
	updateFailures atomic.Int32
	claimFailures  atomic.Int32
	updateCalls    atomic.Int32
}

func (f *flakyStore) Update(ctx context.Context, id uuid.UUID, fn store.UpdateFn) (*domain.Task, error) {
	f.updateCalls.Add(1)
	if f.updateFailures.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: connection reset", store.ErrTransient)
	}
	return f.TaskStore.Update(ctx, id, fn)
}

func (f *flakyStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (*domain.Task, error) {
	if f.claimFailures.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: connection reset", store.ErrTransient)
	}
	return f.TaskStore.ClaimNext(ctx, workerID, now)
}
