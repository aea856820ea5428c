// Package memory provides a process-local store.TaskStore used by tests and
// by single-process deployments that do not need durability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/store"
)

// TaskStore keeps tasks in a map guarded by a single mutex. Every operation
// works on copies, so callers never share memory with the store.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
	seq   int64
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore returns an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

// Create inserts a copy of task and assigns its sequence number.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return store.NewStoreError("task", "create", "task id already exists", store.ErrDuplicate)
	}
	s.seq++
	task.Seq = s.seq
	s.tasks[task.ID] = task.Clone()
	return nil
}

// ClaimNext scans for the most urgent eligible pending task and claims it
// while holding the lock.
func (s *TaskStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.Task
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusPending || t.NextEligibleAt.After(now) {
			continue
		}
		if next == nil || t.Less(next) {
			next = t
		}
	}
	if next == nil {
		return nil, nil
	}
	if err := next.Claim(workerID, now); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Update applies fn to a copy and stores it only when fn and validation succeed.
func (s *TaskStore) Update(ctx context.Context, id uuid.UUID, fn store.UpdateFn) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	if err := working.Validate(); err != nil {
		return nil, err
	}
	working.ID = current.ID
	working.Seq = current.Seq
	s.tasks[id] = working
	return working.Clone(), nil
}

// Get returns a copy of the task.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// List returns one page of matching tasks, newest first.
func (s *TaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, int, error) {
	filter = filter.Normalize()

	s.mu.Lock()
	matched := make([]*domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.TaskType != "" && t.TaskType != filter.TaskType {
			continue
		}
		matched = append(matched, t.Clone())
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Seq > b.Seq
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*domain.Task{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

// CountByStatus returns the number of tasks in every status.
func (s *TaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := store.EmptyStatusCounts()
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// ListStale returns running tasks whose current attempt started before cutoff,
// oldest first.
func (s *TaskStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	var stale []*domain.Task
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusRunning && t.StartedAt != nil && t.StartedAt.Before(cutoff) {
			stale = append(stale, t)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].StartedAt.Before(*stale[j].StartedAt) })
	ids := make([]uuid.UUID, 0, len(stale))
	for _, t := range stale {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, t.ID)
	}
	s.mu.Unlock()
	return ids, nil
}

// DeleteFinishedBefore removes terminal tasks completed before cutoff.
func (s *TaskStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tasks {
		if t.Status.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

// Ping always succeeds.
func (s *TaskStore) Ping(ctx context.Context) error {
	return nil
}
