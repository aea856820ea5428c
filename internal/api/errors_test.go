package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/taskqueue/internal/api/shared"
	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/service/auth"
	"github.com/phrazzld/taskqueue/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusInternalServerError},
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized},
		{"invalid api key", fmt.Errorf("auth: %w", auth.ErrInvalidAPIKey), http.StatusUnauthorized},
		{"validation", fmt.Errorf("%w: priority 11 outside [0, 10]", domain.ErrValidation), http.StatusBadRequest},
		{"unknown status", domain.ErrInvalidStatus, http.StatusBadRequest},
		{"constraint", fmt.Errorf("failed to enqueue task: %w", store.ErrInvalidEntity), http.StatusBadRequest},
		{"not found", store.ErrTaskNotFound, http.StatusNotFound},
		{"invalid state", fmt.Errorf("%w: cannot cancel task in status running", domain.ErrInvalidState), http.StatusConflict},
		{"not owner", domain.ErrNotOwner, http.StatusConflict},
		{"duplicate", store.ErrDuplicate, http.StatusConflict},
		{"transient", fmt.Errorf("%w: deadlock", store.ErrTransient), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "An unexpected error occurred"},
		{"validation detail", fmt.Errorf("%w: priority 11 outside [0, 10]", domain.ErrValidation), "Priority 11 outside [0, 10]"},
		{"bare validation", domain.ErrValidation, "Validation error"},
		{"constraint detail hidden", fmt.Errorf("%w: violates check tasks_priority_check", store.ErrInvalidEntity), "Invalid task data"},
		{"not found", store.ErrTaskNotFound, "Task not found"},
		{"invalid state", domain.ErrNotOwner, "Task state does not allow this operation"},
		{"transient", store.ErrTransient, "Service temporarily unavailable"},
		{"internal detail hidden", errors.New("pq: password authentication failed"), "An unexpected error occurred"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GetSafeErrorMessage(tc.err))
		})
	}
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	err := shared.ValidateRequest(CreateTaskRequest{})
	assert.Equal(t, "Invalid task_type: required field", SanitizeValidationError(err))

	zero := 0
	err = shared.ValidateRequest(CreateTaskRequest{TaskType: "a", MaxRetries: &zero})
	assert.Equal(t, "Invalid max_retries: must be at least 1", SanitizeValidationError(err))

	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("other")))
}

func TestHandleAPIError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	HandleAPIError(w, httptest.NewRequest(http.MethodGet, "/tasks/x", nil), errors.New("db exploded"), "Failed to load task")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp shared.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Failed to load task", resp.Error)

	w = httptest.NewRecorder()
	HandleAPIError(w, httptest.NewRequest(http.MethodGet, "/tasks/x", nil), store.ErrTaskNotFound, "Failed to load task")
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Task not found", resp.Error)
}
