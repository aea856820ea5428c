package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/task"
)

// CreateTaskRequest defines the payload for POST /tasks. Omitted priority and
// max_retries take the configured defaults; range checks against the
// configured bounds happen in the queue.
type CreateTaskRequest struct {
	TaskType   string          `json:"task_type"             validate:"required,max=128"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   *int            `json:"priority,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty" validate:"omitempty,gte=1"`
}

// toParams converts the request; an explicit null payload becomes the default.
func (r CreateTaskRequest) toParams() task.EnqueueParams {
	payload := r.Payload
	if bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = nil
	}
	return task.EnqueueParams{
		TaskType:   r.TaskType,
		Payload:    payload,
		Priority:   r.Priority,
		MaxRetries: r.MaxRetries,
	}
}

// TaskResponse is the wire form of a task snapshot.
type TaskResponse struct {
	ID             string          `json:"id"`
	TaskType       string          `json:"task_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	Priority       int             `json:"priority"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
	NextEligibleAt time.Time       `json:"next_eligible_at"`
	AssignedWorker *string         `json:"assigned_worker"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   *string         `json:"error_message"`
}

// ListTasksResponse is the response of GET /tasks.
type ListTasksResponse struct {
	Tasks  []TaskResponse `json:"tasks"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:             t.ID.String(),
		TaskType:       t.TaskType,
		Payload:        t.Payload,
		Status:         string(t.Status),
		Priority:       t.Priority,
		RetryCount:     t.RetryCount,
		MaxRetries:     t.MaxRetries,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
		NextEligibleAt: t.NextEligibleAt,
		Result:         t.Result,
	}
	if t.AssignedWorker != "" {
		w := t.AssignedWorker
		resp.AssignedWorker = &w
	}
	if t.ErrorMessage != "" {
		msg := t.ErrorMessage
		resp.ErrorMessage = &msg
	}
	return resp
}

func tasksToResponse(tasks []*domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	return out
}
