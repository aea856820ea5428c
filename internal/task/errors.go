package task

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrHandlerNotFound is returned when no handler is registered for a task type.
var ErrHandlerNotFound = errors.New("no handler registered for task type")

// ErrRunnerStarted is returned when Start is called twice.
var ErrRunnerStarted = errors.New("task runner already started")

// ExecutionError describes a failed execution attempt. It never escapes a
// worker; its cause becomes the task's error_message.
type ExecutionError struct {
	TaskID   uuid.UUID
	TaskType string
	Attempt  int
	Err      error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s (%s) attempt %d failed: %v", e.TaskID, e.TaskType, e.Attempt, e.Err)
}

// Unwrap returns the cause.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Message is the text recorded on the task.
func (e *ExecutionError) Message() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}
