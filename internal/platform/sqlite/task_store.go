package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/domain"
	"github.com/phrazzld/taskqueue/internal/platform/logger"
	"github.com/phrazzld/taskqueue/internal/store"
)

const taskColumns = `id, seq, task_type, payload, status, priority, retry_count, max_retries,
	created_at, updated_at, started_at, completed_at, next_eligible_at,
	assigned_worker, result, error_message`

// TaskStore implements store.TaskStore on SQLite.
type TaskStore struct {
	db *sql.DB
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore wraps a database opened with Open and migrated with Migrate.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Create inserts a new task and records its sequence number.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, task_type, payload, status, priority, retry_count, max_retries,
			created_at, updated_at, started_at, completed_at, next_eligible_at,
			assigned_worker, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`,
		task.ID.String(),
		task.TaskType,
		string(task.Payload),
		string(task.Status),
		task.Priority,
		task.RetryCount,
		task.MaxRetries,
		unixNano(task.CreatedAt),
		unixNano(task.UpdatedAt),
		nullUnix(task.StartedAt),
		nullUnix(task.CompletedAt),
		unixNano(task.NextEligibleAt),
		nullString(task.AssignedWorker),
		nullJSON(task.Result),
		nullString(task.ErrorMessage),
	).Scan(&task.Seq)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert task",
			"task_id", task.ID,
			"task_type", task.TaskType,
			"error", err)
		return store.NewStoreError("task", "create", "failed to insert task", MapError(err))
	}
	return nil
}

// ClaimNext claims the most urgent eligible pending task with one UPDATE statement.
func (s *TaskStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (*domain.Task, error) {
	ts := unixNano(domain.Timestamp(now))
	task, err := scanTask(s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = 'running', assigned_worker = ?, started_at = ?, updated_at = ?
		WHERE seq = (
			SELECT seq FROM tasks
			WHERE status = 'pending' AND next_eligible_at <= ?
			ORDER BY priority, created_at, seq
			LIMIT 1
		)
		RETURNING `+taskColumns,
		workerID, ts, ts, ts))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to claim task",
			"worker_id", workerID,
			"error", err)
		return nil, store.NewStoreError("task", "claim", "failed to claim next task", MapError(err))
	}
	return task, nil
}

// Update applies fn to the task inside an immediate transaction.
func (s *TaskStore) Update(ctx context.Context, id uuid.UUID, fn store.UpdateFn) (*domain.Task, error) {
	var updated *domain.Task

	err := store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		task, err := scanTask(tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String()))
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrTaskNotFound
		}
		if err != nil {
			return store.NewStoreError("task", "update", "failed to load task", MapError(err))
		}

		if err := fn(task); err != nil {
			return err
		}
		if err := task.Validate(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, priority = ?, retry_count = ?, max_retries = ?,
				updated_at = ?, started_at = ?, completed_at = ?, next_eligible_at = ?,
				assigned_worker = ?, result = ?, error_message = ?
			WHERE id = ?`,
			string(task.Status),
			task.Priority,
			task.RetryCount,
			task.MaxRetries,
			unixNano(task.UpdatedAt),
			nullUnix(task.StartedAt),
			nullUnix(task.CompletedAt),
			unixNano(task.NextEligibleAt),
			nullString(task.AssignedWorker),
			nullJSON(task.Result),
			nullString(task.ErrorMessage),
			task.ID.String(),
		)
		if err != nil {
			return store.NewStoreError("task", "update", "failed to write task", MapError(err))
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Get retrieves a task by ID.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("task", "get", "failed to load task", MapError(err))
	}
	return task, nil
}

// List returns one page of tasks, newest first, and the total match count.
func (s *TaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, int, error) {
	filter = filter.Normalize()

	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.TaskType != "" {
		conds = append(conds, "task_type = ?")
		args = append(args, filter.TaskType)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, store.NewStoreError("task", "list", "failed to count tasks", MapError(err))
	}

	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks`+where+` ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?`,
		pageArgs...)
	if err != nil {
		return nil, 0, store.NewStoreError("task", "list", "failed to query tasks", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0, filter.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, store.NewStoreError("task", "list", "failed to scan task row", MapError(err))
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, store.NewStoreError("task", "list", "error iterating task rows", MapError(err))
	}
	return tasks, total, nil
}

// CountByStatus returns the number of tasks in every status.
func (s *TaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, store.NewStoreError("task", "count", "failed to count tasks", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	counts := store.EmptyStatusCounts()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, store.NewStoreError("task", "count", "failed to scan count row", MapError(err))
		}
		counts[domain.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "count", "error iterating count rows", MapError(err))
	}
	return counts, nil
}

// ListStale returns running tasks whose current attempt started before cutoff.
func (s *TaskStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE status = 'running' AND started_at < ?
		ORDER BY started_at
		LIMIT ?`, unixNano(cutoff), limit)
	if err != nil {
		return nil, store.NewStoreError("task", "list_stale", "failed to query stale tasks", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, store.NewStoreError("task", "list_stale", "failed to scan task id", MapError(err))
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid task id %q in database: %w", raw, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "list_stale", "error iterating task ids", MapError(err))
	}
	return ids, nil
}

// DeleteFinishedBefore removes terminal tasks completed before cutoff.
func (s *TaskStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?`, unixNano(cutoff))
	if err != nil {
		return 0, store.NewStoreError("task", "purge", "failed to delete finished tasks", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Ping verifies the database is reachable.
func (s *TaskStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t              domain.Task
		id             string
		payload        string
		status         string
		createdAt      int64
		updatedAt      int64
		startedAt      sql.NullInt64
		completedAt    sql.NullInt64
		nextEligibleAt int64
		assignedWorker sql.NullString
		result         sql.NullString
		errorMessage   sql.NullString
	)

	err := row.Scan(
		&id,
		&t.Seq,
		&t.TaskType,
		&payload,
		&status,
		&t.Priority,
		&t.RetryCount,
		&t.MaxRetries,
		&createdAt,
		&updatedAt,
		&startedAt,
		&completedAt,
		&nextEligibleAt,
		&assignedWorker,
		&result,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid task id %q in database: %w", id, err)
	}
	t.Payload = json.RawMessage(payload)
	t.Status = domain.TaskStatus(status)
	t.CreatedAt = fromUnix(createdAt)
	t.UpdatedAt = fromUnix(updatedAt)
	t.StartedAt = fromNullUnix(startedAt)
	t.CompletedAt = fromNullUnix(completedAt)
	t.NextEligibleAt = fromUnix(nextEligibleAt)
	t.AssignedWorker = assignedWorker.String
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	t.ErrorMessage = errorMessage.String
	return &t, nil
}

func unixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: unixNano(*t), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b json.RawMessage) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}
