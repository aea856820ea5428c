package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/api/shared"
	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/platform/logger"
	"github.com/phrazzld/taskqueue/internal/store"
	"github.com/phrazzld/taskqueue/internal/task"
)

// TaskService is the part of the queue the API exposes.
type TaskService interface {
	Enqueue(ctx context.Context, p task.EnqueueParams) (*domain.Task, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, int, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// StatsService reports queue statistics.
type StatsService interface {
	Stats(ctx context.Context) (*task.Stats, error)
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	tasks  TaskService
	stats  StatsService
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks TaskService, stats StatsService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	return &TaskHandler{
		tasks:  tasks,
		stats:  stats,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// Mount registers the task routes on r.
func (h *TaskHandler) Mount(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.CreateTask)
		r.Get("/", h.ListTasks)
		r.Get("/stats", h.GetStats)
		r.Get("/{id}", h.GetTask)
		r.Delete("/{id}", h.CancelTask)
	})
}

// CreateTask handles POST /tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	t, err := h.tasks.Enqueue(r.Context(), req.toParams())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	subject, _ := shared.GetSubject(r.Context())
	log.Info("task created",
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", t.TaskType),
		slog.Int("priority", t.Priority),
		slog.String("subject", subject))

	w.Header().Set("Location", "/tasks/"+t.ID.String())
	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(t))
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid task ID", err)
		return
	}

	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// ListTasks handles GET /tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks, total, err := h.tasks.List(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ListTasksResponse{
		Tasks:  tasksToResponse(tasks),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// CancelTask handles DELETE /tasks/{id}. Only pending tasks can be cancelled.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid task ID", err)
		return
	}

	t, err := h.tasks.Cancel(r.Context(), id)
	if errors.Is(err, domain.ErrInvalidState) {
		shared.RespondWithErrorAndLog(w, r, http.StatusConflict, "Only pending tasks can be cancelled", err)
		return
	}
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel task")
		return
	}

	log.Info("task cancelled", slog.String("task_id", t.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// GetStats handles GET /tasks/stats.
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to collect statistics")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}
