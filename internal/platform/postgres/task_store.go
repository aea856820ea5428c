package postgres

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

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db *sql.DB
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

// Create inserts a new task and records the sequence number assigned to it.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, task_type, payload, status, priority, retry_count, max_retries,
			created_at, updated_at, started_at, completed_at, next_eligible_at,
			assigned_worker, result, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING seq
	`

	err := s.db.QueryRowContext(ctx, query,
		task.ID,
		task.TaskType,
		string(task.Payload),
		string(task.Status),
		task.Priority,
		task.RetryCount,
		task.MaxRetries,
		task.CreatedAt,
		task.UpdatedAt,
		nullTime(task.StartedAt),
		nullTime(task.CompletedAt),
		task.NextEligibleAt,
		nullString(task.AssignedWorker),
		nullJSON(task.Result),
		nullString(task.ErrorMessage),
	).Scan(&task.Seq)
	if err != nil {
		log.Error("failed to insert task",
			"task_id", task.ID,
			"task_type", task.TaskType,
			"error", err)
		return store.NewStoreError("task", "create", "failed to insert task", MapError(err))
	}
	return nil
}

// ClaimNext claims the most urgent eligible pending task in a single statement.
// Rows locked by concurrent claimers are skipped rather than waited on.
func (s *PostgresTaskStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'running', assigned_worker = $1, started_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'pending' AND next_eligible_at <= $2
			ORDER BY priority, created_at, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = 'pending'
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query, workerID, domain.Timestamp(now)))
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

// Update locks the row, applies fn and writes the result in one transaction.
func (s *PostgresTaskStore) Update(ctx context.Context, id uuid.UUID, fn store.UpdateFn) (*domain.Task, error) {
	var updated *domain.Task

	err := store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		task, err := scanTask(tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
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
			SET status = $2, priority = $3, retry_count = $4, max_retries = $5,
				updated_at = $6, started_at = $7, completed_at = $8, next_eligible_at = $9,
				assigned_worker = $10, result = $11, error_message = $12
			WHERE id = $1`,
			task.ID,
			string(task.Status),
			task.Priority,
			task.RetryCount,
			task.MaxRetries,
			task.UpdatedAt,
			nullTime(task.StartedAt),
			nullTime(task.CompletedAt),
			task.NextEligibleAt,
			nullString(task.AssignedWorker),
			nullJSON(task.Result),
			nullString(task.ErrorMessage),
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
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("task", "get", "failed to load task", MapError(err))
	}
	return task, nil
}

// List returns one page of tasks, newest first, and the total match count.
func (s *PostgresTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, int, error) {
	filter = filter.Normalize()

	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.TaskType != "" {
		args = append(args, filter.TaskType)
		conds = append(conds, fmt.Sprintf("task_type = $%d", len(args)))
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
	query := fmt.Sprintf(`SELECT %s FROM tasks%s ORDER BY created_at DESC, seq DESC LIMIT $%d OFFSET $%d`,
		taskColumns, where, len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
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
func (s *PostgresTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
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
func (s *PostgresTaskStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE status = 'running' AND started_at < $1
		ORDER BY started_at
		LIMIT $2`, cutoff.UTC(), limit)
	if err != nil {
		return nil, store.NewStoreError("task", "list_stale", "failed to query stale tasks", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, store.NewStoreError("task", "list_stale", "failed to scan task id", MapError(err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "list_stale", "error iterating task ids", MapError(err))
	}
	return ids, nil
}

// DeleteFinishedBefore removes terminal tasks completed before cutoff.
func (s *PostgresTaskStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, store.NewStoreError("task", "purge", "failed to delete finished tasks", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Ping verifies the database connection.
func (s *PostgresTaskStore) Ping(ctx context.Context) error {
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
		payload        []byte
		status         string
		startedAt      sql.NullTime
		completedAt    sql.NullTime
		assignedWorker sql.NullString
		result         []byte
		errorMessage   sql.NullString
	)

	err := row.Scan(
		&t.ID,
		&t.Seq,
		&t.TaskType,
		&payload,
		&status,
		&t.Priority,
		&t.RetryCount,
		&t.MaxRetries,
		&t.CreatedAt,
		&t.UpdatedAt,
		&startedAt,
		&completedAt,
		&t.NextEligibleAt,
		&assignedWorker,
		&result,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	t.Payload = json.RawMessage(payload)
	t.Status = domain.TaskStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.NextEligibleAt = t.NextEligibleAt.UTC()
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	t.AssignedWorker = assignedWorker.String
	if len(result) > 0 {
		t.Result = json.RawMessage(result)
	}
	t.ErrorMessage = errorMessage.String
	return &t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
