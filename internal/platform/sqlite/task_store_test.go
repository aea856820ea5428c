package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/phrazzld/taskqueue/internal/platform/sqlite"
	"github.com/phrazzld/taskqueue/internal/store"
	"github.com/phrazzld/taskqueue/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, sqlite.Migrate(ctx, db, "up"))
	return db
}

func TestTaskStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.TaskStore {
		return sqlite.NewTaskStore(openTestDB(t))
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := sqlite.Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestMigrate_DownAndVersion(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, sqlite.Migrate(ctx, db, "version"))
	require.NoError(t, sqlite.Migrate(ctx, db, "status"))
	require.NoError(t, sqlite.Migrate(ctx, db, "down"))

	_, err := db.ExecContext(ctx, "SELECT 1 FROM tasks")
	require.Error(t, err, "tasks table must be gone after down")

	require.NoError(t, sqlite.Migrate(ctx, db, "up"))
	require.Error(t, sqlite.Migrate(ctx, db, "sideways"))
}

func TestCreate_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := sqlite.NewTaskStore(openTestDB(t))

	task := storetest.NewTask(t, "job", 5, storetest.Base)
	require.NoError(t, s.Create(ctx, task))

	dup := *task
	err := s.Create(ctx, &dup)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestCheckConstraintMapsToInvalidEntity(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.ExecContext(ctx, `
		INSERT INTO tasks (id, task_type, status, max_retries, retry_count, created_at, updated_at, next_eligible_at)
		VALUES ('x', 'job', 'pending', 1, 2, 0, 0, 0)`)
	require.Error(t, err)
	assert.ErrorIs(t, sqlite.MapError(err), store.ErrInvalidEntity)
}

func TestMapError_Passthrough(t *testing.T) {
	assert.NoError(t, sqlite.MapError(nil))
	plain := errors.New("boom")
	assert.Equal(t, plain, sqlite.MapError(plain))
	assert.ErrorIs(t, sqlite.MapError(fmt.Errorf("scan: %w", sql.ErrNoRows)), store.ErrNotFound)
}
