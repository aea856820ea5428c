// Package storetest holds the behavioral tests every store.TaskStore
// implementation must pass. Backends call Run from their own test files.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.TaskStore

// Base is the reference instant used by the suite. It has no sub-microsecond
// component so that every backend stores it exactly.
var Base = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// NewTask builds a pending task created at the given instant.
func NewTask(t *testing.T, taskType string, priority int, createdAt time.Time) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(taskType, json.RawMessage(`{"n":1}`), priority, 2, createdAt)
	require.NoError(t, err)
	return task
}

// Run executes the full conformance suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.TaskStore)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"GetUnknown", testGetUnknown},
		{"ClaimEmpty", testClaimEmpty},
		{"ClaimPriorityOrder", testClaimPriorityOrder},
		{"ClaimFIFOTieBreak", testClaimFIFOTieBreak},
		{"ClaimSequenceTieBreak", testClaimSequenceTieBreak},
		{"ClaimRespectsNextEligibleAt", testClaimRespectsNextEligibleAt},
		{"ConcurrentClaimIsExclusive", testConcurrentClaimIsExclusive},
		{"UpdateAppliesTransition", testUpdateAppliesTransition},
		{"UpdateFnErrorLeavesTaskUntouched", testUpdateFnError},
		{"UpdateRejectsInvalidTask", testUpdateRejectsInvalidTask},
		{"UpdateUnknown", testUpdateUnknown},
		{"RetryCycle", testRetryCycle},
		{"List", testList},
		{"CountByStatus", testCountByStatus},
		{"ListStale", testListStale},
		{"DeleteFinishedBefore", testDeleteFinishedBefore},
		{"Ping", testPing},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func create(t *testing.T, s store.TaskStore, tasks ...*domain.Task) {
	t.Helper()
	for _, task := range tasks {
		require.NoError(t, s.Create(context.Background(), task))
	}
}

func testCreateAndGet(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	a := NewTask(t, "email.send", 4, Base)
	b := NewTask(t, "email.send", 4, Base)
	create(t, s, a, b)
	assert.Greater(t, b.Seq, a.Seq, "sequence must increase with insertion order")

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "email.send", got.TaskType)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 4, got.Priority)
	assert.Equal(t, 2, got.MaxRetries)
	assert.Zero(t, got.RetryCount)
	assert.True(t, Base.Equal(got.CreatedAt), "created_at %s", got.CreatedAt)
	assert.True(t, Base.Equal(got.NextEligibleAt))
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.AssignedWorker)
	assert.Equal(t, a.Seq, got.Seq)
}

func testGetUnknown(t *testing.T, s store.TaskStore) {
	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testClaimEmpty(t *testing.T, s store.TaskStore) {
	task, err := s.ClaimNext(context.Background(), "worker-1", Base)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func claimAll(t *testing.T, s store.TaskStore, now time.Time) []*domain.Task {
	t.Helper()
	var claimed []*domain.Task
	for {
		task, err := s.ClaimNext(context.Background(), "worker-1", now)
		require.NoError(t, err)
		if task == nil {
			return claimed
		}
		claimed = append(claimed, task)
	}
}

func testClaimPriorityOrder(t *testing.T, s store.TaskStore) {
	p3 := NewTask(t, "job", 3, Base)
	p1 := NewTask(t, "job", 1, Base.Add(time.Second))
	p2 := NewTask(t, "job", 2, Base.Add(2*time.Second))
	create(t, s, p3, p1, p2)

	now := Base.Add(time.Minute)
	claimed := claimAll(t, s, now)
	require.Len(t, claimed, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{claimed[0].Priority, claimed[1].Priority, claimed[2].Priority})

	first := claimed[0]
	assert.Equal(t, domain.TaskStatusRunning, first.Status)
	assert.Equal(t, "worker-1", first.AssignedWorker)
	require.NotNil(t, first.StartedAt)
	assert.True(t, now.Equal(*first.StartedAt))
	assert.Nil(t, first.CompletedAt)
}

func testClaimFIFOTieBreak(t *testing.T, s store.TaskStore) {
	late := NewTask(t, "job", 5, Base.Add(time.Second))
	early := NewTask(t, "job", 5, Base)
	create(t, s, late, early)

	claimed := claimAll(t, s, Base.Add(time.Minute))
	require.Len(t, claimed, 2)
	assert.Equal(t, early.ID, claimed[0].ID)
	assert.Equal(t, late.ID, claimed[1].ID)
}

func testClaimSequenceTieBreak(t *testing.T, s store.TaskStore) {
	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		task := NewTask(t, "job", 5, Base)
		create(t, s, task)
		ids = append(ids, task.ID)
	}

	claimed := claimAll(t, s, Base)
	require.Len(t, claimed, 4)
	for i, task := range claimed {
		assert.Equal(t, ids[i], task.ID, "claim %d", i)
	}
}

func testClaimRespectsNextEligibleAt(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	deferred := NewTask(t, "job", 0, Base)
	deferred.NextEligibleAt = Base.Add(time.Hour)
	ready := NewTask(t, "job", 9, Base)
	create(t, s, deferred, ready)

	got, err := s.ClaimNext(ctx, "worker-1", Base.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ready.ID, got.ID, "a more urgent task that is not yet eligible must be skipped")

	got, err = s.ClaimNext(ctx, "worker-1", Base.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.ClaimNext(ctx, "worker-1", Base.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, deferred.ID, got.ID)
}

func testConcurrentClaimIsExclusive(t *testing.T, s store.TaskStore) {
	const (
		tasks   = 20
		callers = 50
	)
	for i := 0; i < tasks; i++ {
		create(t, s, NewTask(t, "job", i%3, Base.Add(time.Duration(i)*time.Millisecond)))
	}

	var (
		mu      sync.Mutex
		seen    = make(map[uuid.UUID]string)
		dupes   []uuid.UUID
		errs    []error
		wg      sync.WaitGroup
		claimed int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			<-start
			task, err := s.ClaimNext(context.Background(), worker, Base.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if task == nil {
				return
			}
			claimed++
			if _, ok := seen[task.ID]; ok {
				dupes = append(dupes, task.ID)
			}
			seen[task.ID] = worker
		}(uuid.NewString())
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		// Lock contention may surface as a transient error; it must never be
		// anything else.
		assert.True(t, store.IsTransientError(err), "unexpected claim error: %v", err)
	}
	assert.Empty(t, dupes, "a task was claimed twice")
	assert.LessOrEqual(t, claimed, tasks)
	if len(errs) == 0 {
		assert.Equal(t, tasks, claimed)
	}

	for id, worker := range seen {
		got, err := s.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusRunning, got.Status)
		assert.Equal(t, worker, got.AssignedWorker)
	}
}

func testUpdateAppliesTransition(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	create(t, s, NewTask(t, "job", 5, Base))
	claimed, err := s.ClaimNext(ctx, "worker-1", Base)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	done := Base.Add(time.Second)
	updated, err := s.Update(ctx, claimed.ID, func(task *domain.Task) error {
		return task.Complete("worker-1", json.RawMessage(`{"ok":true}`), done)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, updated.Status)

	got, err := s.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))
	assert.Empty(t, got.AssignedWorker)
	assert.NoError(t, got.Validate())
}

func testUpdateFnError(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	task := NewTask(t, "job", 5, Base)
	create(t, s, task)

	_, err := s.Update(ctx, task.ID, func(tk *domain.Task) error {
		tk.Priority = 0
		return tk.Complete("", nil, Base)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	sentinel := errors.New("abort")
	_, err = s.Update(ctx, task.ID, func(tk *domain.Task) error {
		tk.Priority = 0
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
}

func testUpdateRejectsInvalidTask(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	task := NewTask(t, "job", 5, Base)
	create(t, s, task)

	_, err := s.Update(ctx, task.ID, func(tk *domain.Task) error {
		tk.RetryCount = tk.MaxRetries + 1
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RetryCount)
}

func testUpdateUnknown(t *testing.T, s store.TaskStore) {
	_, err := s.Update(context.Background(), uuid.New(), func(*domain.Task) error { return nil })
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func testRetryCycle(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	task := NewTask(t, "job", 5, Base)
	create(t, s, task)
	backoff := func(int) time.Duration { return time.Minute }

	now := Base
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := s.ClaimNext(ctx, "worker-1", now)
		require.NoError(t, err)
		if attempt == 3 {
			assert.Nil(t, claimed, "a terminally failed task must not be claimed again")
			break
		}
		require.NotNil(t, claimed, "attempt %d", attempt)

		updated, err := s.Update(ctx, task.ID, func(tk *domain.Task) error {
			_, err := tk.Fail("worker-1", "boom", now, backoff)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, attempt, updated.RetryCount)

		retried, err := s.ClaimNext(ctx, "worker-1", now)
		require.NoError(t, err)
		assert.Nil(t, retried, "a retried task is not eligible before its backoff expires")
		now = now.Add(time.Minute)
	}

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
	assert.NotNil(t, got.StartedAt, "started_at describes the last attempt")
}

func testList(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	var all []*domain.Task
	for i := 0; i < 5; i++ {
		taskType := "email.send"
		if i%2 == 1 {
			taskType = "report.render"
		}
		task := NewTask(t, taskType, 5, Base.Add(time.Duration(i)*time.Second))
		create(t, s, task)
		all = append(all, task)
	}
	_, err := s.Update(ctx, all[0].ID, func(tk *domain.Task) error { return tk.Cancel(Base) })
	require.NoError(t, err)

	tasks, total, err := s.List(ctx, store.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, tasks, 5)
	assert.Equal(t, all[4].ID, tasks[0].ID, "newest first")
	assert.Equal(t, all[0].ID, tasks[4].ID)

	tasks, total, err = s.List(ctx, store.TaskFilter{TaskType: "report.render"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, task := range tasks {
		assert.Equal(t, "report.render", task.TaskType)
	}

	tasks, total, err = s.List(ctx, store.TaskFilter{Status: domain.TaskStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, tasks, 1)
	assert.Equal(t, all[0].ID, tasks[0].ID)

	tasks, total, err = s.List(ctx, store.TaskFilter{Status: domain.TaskStatusPending, TaskType: "email.send"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, tasks, 2)

	tasks, total, err = s.List(ctx, store.TaskFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, tasks, 2)
	assert.Equal(t, all[3].ID, tasks[0].ID)
	assert.Equal(t, all[2].ID, tasks[1].ID)

	tasks, total, err = s.List(ctx, store.TaskFilter{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, tasks)
}

func testCountByStatus(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, counts, len(domain.AllTaskStatuses))

	create(t, s,
		NewTask(t, "job", 5, Base),
		NewTask(t, "job", 5, Base),
		NewTask(t, "job", 5, Base))
	_, err = s.ClaimNext(ctx, "worker-1", Base)
	require.NoError(t, err)

	counts, err = s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.TaskStatusPending])
	assert.Equal(t, 1, counts[domain.TaskStatusRunning])
	assert.Equal(t, 0, counts[domain.TaskStatusFailed])
}

func testListStale(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	create(t, s, NewTask(t, "job", 1, Base), NewTask(t, "job", 2, Base), NewTask(t, "job", 3, Base))

	old, err := s.ClaimNext(ctx, "worker-1", Base)
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx, "worker-2", Base.Add(time.Hour))
	require.NoError(t, err)

	ids, err := s.ListStale(ctx, Base.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{old.ID}, ids)

	ids, err = s.ListStale(ctx, Base.Add(2*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func testDeleteFinishedBefore(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	oldCancelled := NewTask(t, "job", 5, Base)
	newCancelled := NewTask(t, "job", 5, Base)
	pending := NewTask(t, "job", 5, Base)
	running := NewTask(t, "job", 9, Base)
	create(t, s, oldCancelled, newCancelled, pending, running)

	_, err := s.Update(ctx, oldCancelled.ID, func(tk *domain.Task) error { return tk.Cancel(Base) })
	require.NoError(t, err)
	_, err = s.Update(ctx, newCancelled.ID, func(tk *domain.Task) error { return tk.Cancel(Base.Add(2 * time.Hour)) })
	require.NoError(t, err)
	_, err = s.Update(ctx, running.ID, func(tk *domain.Task) error { return tk.Claim("worker-1", Base) })
	require.NoError(t, err)

	n, err := s.DeleteFinishedBefore(ctx, Base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, oldCancelled.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	for _, id := range []uuid.UUID{newCancelled.ID, pending.ID, running.ID} {
		_, err = s.Get(ctx, id)
		assert.NoError(t, err)
	}
}

func testPing(t *testing.T, s store.TaskStore) {
	assert.NoError(t, s.Ping(context.Background()))
}
