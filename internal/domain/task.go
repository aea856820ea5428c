package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// AllTaskStatuses lists every status in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusRunning,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusCancelled,
}

// MaxTaskTypeLength bounds the length of a task type tag.
const MaxTaskTypeLength = 128

var taskTypePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.:-]*$`)

// IsValid reports whether s is a known status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a final status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// ParseTaskStatus converts a string into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

// Task is a persisted unit of work with lifecycle state.
//
// Priority follows the "lower value is more urgent" convention. Ties are
// broken by CreatedAt and then by Seq, the insertion sequence assigned by the
// store, which makes the claim order total.
type Task struct {
	ID             uuid.UUID       `json:"id"`
	TaskType       string          `json:"task_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         TaskStatus      `json:"status"`
	Priority       int             `json:"priority"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	NextEligibleAt time.Time       `json:"next_eligible_at"`
	AssignedWorker string          `json:"assigned_worker,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Seq            int64           `json:"-"`
}

// TimestampPrecision is the resolution of every stored task timestamp. It
// matches PostgreSQL's timestamptz so that all backends return the values
// the domain produced.
const TimestampPrecision = time.Microsecond

// Timestamp normalizes t to UTC at TimestampPrecision.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(TimestampPrecision)
}

// NewTask creates a pending task. Range checks on priority and max retries
// depend on configuration and are done by the caller; NewTask only enforces
// the rules every task must satisfy.
func NewTask(taskType string, payload json.RawMessage, priority, maxRetries int, now time.Time) (*Task, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage(`{}`)
	}
	now = Timestamp(now)
	t := &Task{
		ID:             uuid.New(),
		TaskType:       taskType,
		Payload:        payload,
		Status:         TaskStatusPending,
		Priority:       priority,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
		NextEligibleAt: now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ValidateTaskType checks the task type tag.
func ValidateTaskType(taskType string) error {
	if taskType == "" {
		return fmt.Errorf("%w: task_type is required", ErrValidation)
	}
	if len(taskType) > MaxTaskTypeLength {
		return fmt.Errorf("%w: task_type exceeds %d characters", ErrValidation, MaxTaskTypeLength)
	}
	if !taskTypePattern.MatchString(taskType) {
		return fmt.Errorf("%w: task_type %q contains invalid characters", ErrValidation, taskType)
	}
	return nil
}

// Validate checks the structural invariants of the task.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if err := ValidateTaskType(t.TaskType); err != nil {
		return err
	}
	if !json.Valid(t.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrValidation)
	}
	if !t.Status.IsValid() {
		return ErrInvalidStatus
	}
	if t.MaxRetries < 1 {
		return fmt.Errorf("%w: max_retries must be at least 1", ErrValidation)
	}
	if t.RetryCount < 0 || t.RetryCount > t.MaxRetries {
		return fmt.Errorf("%w: retry_count %d outside [0, %d]", ErrValidation, t.RetryCount, t.MaxRetries)
	}
	if t.Status.IsTerminal() != (t.CompletedAt != nil) {
		return fmt.Errorf("%w: completed_at inconsistent with status %s", ErrValidation, t.Status)
	}
	return nil
}

// Claim moves a pending task to running on behalf of workerID.
func (t *Task) Claim(workerID string, now time.Time) error {
	if t.Status != TaskStatusPending {
		return fmt.Errorf("%w: cannot claim task in status %s", ErrInvalidState, t.Status)
	}
	if now.Before(t.NextEligibleAt) {
		return fmt.Errorf("%w: task not eligible before %s", ErrInvalidState, t.NextEligibleAt.Format(time.RFC3339Nano))
	}
	now = Timestamp(now)
	t.Status = TaskStatusRunning
	t.AssignedWorker = workerID
	t.StartedAt = &now
	t.UpdatedAt = now
	return nil
}

// Complete moves a running task to completed and stores its result.
// An empty workerID skips the ownership check.
func (t *Task) Complete(workerID string, result json.RawMessage, now time.Time) error {
	if err := t.checkRunning(workerID, "complete"); err != nil {
		return err
	}
	now = Timestamp(now)
	t.Status = TaskStatusCompleted
	t.Result = result
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.AssignedWorker = ""
	return nil
}

// Fail records a failed attempt. The retry counter is incremented; while it
// stays below MaxRetries the task goes back to pending and becomes eligible
// again after backoff(RetryCount). Otherwise the task is terminally failed.
// It returns true when the task was scheduled for another attempt.
func (t *Task) Fail(workerID, errorMessage string, now time.Time, backoff func(attempt int) time.Duration) (bool, error) {
	if err := t.checkRunning(workerID, "fail"); err != nil {
		return false, err
	}
	now = Timestamp(now)
	t.RetryCount++
	t.ErrorMessage = errorMessage
	t.AssignedWorker = ""
	t.UpdatedAt = now

	if t.RetryCount < t.MaxRetries {
		var delay time.Duration
		if backoff != nil {
			delay = backoff(t.RetryCount)
		}
		t.Status = TaskStatusPending
		t.StartedAt = nil
		t.NextEligibleAt = Timestamp(now.Add(delay))
		return true, nil
	}

	t.Status = TaskStatusFailed
	t.CompletedAt = &now
	return false, nil
}

// Cancel moves a pending task to cancelled. Running tasks cannot be
// cancelled; their handlers observe cancellation through their context only.
func (t *Task) Cancel(now time.Time) error {
	if t.Status != TaskStatusPending {
		return fmt.Errorf("%w: cannot cancel task in status %s", ErrInvalidState, t.Status)
	}
	now = Timestamp(now)
	t.Status = TaskStatusCancelled
	t.CompletedAt = &now
	t.UpdatedAt = now
	return nil
}

func (t *Task) checkRunning(workerID, op string) error {
	if t.Status != TaskStatusRunning {
		return fmt.Errorf("%w: cannot %s task in status %s", ErrInvalidState, op, t.Status)
	}
	if workerID != "" && t.AssignedWorker != workerID {
		return fmt.Errorf("%w (held by %q, reported by %q)", ErrNotOwner, t.AssignedWorker, workerID)
	}
	return nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// Less reports whether t must be claimed before o.
func (t *Task) Less(o *Task) bool {
	if t.Priority != o.Priority {
		return t.Priority < o.Priority
	}
	if !t.CreatedAt.Equal(o.CreatedAt) {
		return t.CreatedAt.Before(o.CreatedAt)
	}
	return t.Seq < o.Seq
}
