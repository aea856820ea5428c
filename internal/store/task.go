package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/domain"
)

// DefaultListLimit and MaxListLimit bound TaskFilter pagination.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// TaskFilter narrows a task listing. Zero values mean "no filter".
type TaskFilter struct {
	Status   domain.TaskStatus
	TaskType string
	Limit    int
	Offset   int
}

// Normalize applies pagination defaults and bounds.
func (f TaskFilter) Normalize() TaskFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// UpdateFn mutates a task inside an atomic read-modify-write. Returning an
// error aborts the update and leaves the stored task untouched.
type UpdateFn func(t *domain.Task) error

// TaskStore defines the interface for task persistence.
// Every method must be safe for concurrent use; ClaimNext and Update must be
// atomic with respect to each other and to concurrent callers on other
// processes sharing the same database.
type TaskStore interface {
	// Create inserts a new task. The store assigns Seq.
	Create(ctx context.Context, task *domain.Task) error

	// ClaimNext atomically selects the most urgent pending task whose
	// NextEligibleAt is not after now, ordered by (priority, created_at, seq),
	// and moves it to running on behalf of workerID.
	// Returns (nil, nil) when no task is eligible.
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*domain.Task, error)

	// Update loads the task, applies fn and persists the result atomically.
	// Returns ErrTaskNotFound if the task does not exist and fn's error if fn fails.
	Update(ctx context.Context, id uuid.UUID, fn UpdateFn) (*domain.Task, error)

	// Get retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List returns the tasks matching the filter, newest first, together with
	// the total number of matching tasks ignoring pagination.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, int, error)

	// CountByStatus returns the number of tasks per status. Every status is
	// present in the result, with zero when no task has it.
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)

	// ListStale returns up to limit IDs of running tasks started before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// DeleteFinishedBefore removes completed, failed and cancelled tasks whose
	// completed_at is before cutoff and returns how many were removed.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// EmptyStatusCounts returns a count map with every status set to zero.
func EmptyStatusCounts() map[domain.TaskStatus]int {
	counts := make(map[domain.TaskStatus]int, len(domain.AllTaskStatuses))
	for _, s := range domain.AllTaskStatuses {
		counts[s] = 0
	}
	return counts
}
