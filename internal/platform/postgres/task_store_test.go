package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/taskqueue/internal/platform/postgres"
	"github.com/phrazzld/taskqueue/internal/store"
	"github.com/phrazzld/taskqueue/internal/store/storetest"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to DATABASE_URL and migrates it, or skips the test.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping PostgreSQL integration test")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.PingContext(context.Background()))
	require.NoError(t, postgres.Migrate(context.Background(), db, "up"))
	return db
}

func TestPostgresTaskStore(t *testing.T) {
	db := openTestDB(t)

	storetest.Run(t, func(t *testing.T) store.TaskStore {
		_, err := db.ExecContext(context.Background(), "TRUNCATE tasks RESTART IDENTITY")
		require.NoError(t, err)
		return postgres.NewPostgresTaskStore(db)
	})
}

func TestPostgresTaskStore_CheckConstraint(t *testing.T) {
	db := openTestDB(t)
	_, err := db.ExecContext(context.Background(), "TRUNCATE tasks RESTART IDENTITY")
	require.NoError(t, err)

	_, err = db.ExecContext(context.Background(), `
		INSERT INTO tasks (id, task_type, status, max_retries, retry_count, created_at, updated_at, next_eligible_at)
		VALUES (gen_random_uuid(), 'job', 'pending', 1, 2, now(), now(), now())`)
	require.Error(t, err)
	require.ErrorIs(t, postgres.MapError(err), store.ErrInvalidEntity)
}

func TestMigrateVersion(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, postgres.Migrate(context.Background(), db, "version"))
	require.NoError(t, postgres.Migrate(context.Background(), db, "status"))
	require.Error(t, postgres.Migrate(context.Background(), db, "sideways"))
}
