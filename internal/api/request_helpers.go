package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/store"
)

// getPathUUID parses the named chi path parameter as a UUID.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	raw := chi.URLParam(r, paramName)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrValidation, paramName)
	}
	return id, nil
}

// parseTaskFilter reads status, task_type, limit and offset from the query
// string. Limits above store.MaxListLimit are clamped.
func parseTaskFilter(r *http.Request) (store.TaskFilter, error) {
	q := r.URL.Query()
	var f store.TaskFilter

	if s := q.Get("status"); s != "" {
		status, err := domain.ParseTaskStatus(s)
		if err != nil {
			return f, err
		}
		f.Status = status
	}

	if tt := q.Get("task_type"); tt != "" {
		if err := domain.ValidateTaskType(tt); err != nil {
			return f, err
		}
		f.TaskType = tt
	}

	var err error
	if f.Limit, err = queryInt(q.Get("limit"), "limit", 1); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(q.Get("offset"), "offset", 0); err != nil {
		return f, err
	}
	return f.Normalize(), nil
}

func queryInt(raw, name string, min int) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return 0, fmt.Errorf("%w: %s must be an integer >= %d", domain.ErrValidation, name, min)
	}
	return v, nil
}
