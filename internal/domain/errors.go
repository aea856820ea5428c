package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a task fails validation.
	// It is always wrapped with a message naming the offending field.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is returned when a lifecycle operation is attempted on a
	// task whose current status does not allow it, e.g. completing a task that
	// is already completed or cancelling a running task.
	ErrInvalidState = errors.New("invalid task state")

	// ErrNotOwner is returned when a worker reports on a task that is held by
	// a different worker. It wraps ErrInvalidState.
	ErrNotOwner = fmt.Errorf("%w: task is held by another worker", ErrInvalidState)

	// ErrInvalidStatus is returned when a status string is not a known status.
	ErrInvalidStatus = fmt.Errorf("%w: unknown task status", ErrValidation)
)
