package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/taskqueue/internal/platform/migrate"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultBusyTimeout is how long a connection waits on another process's lock.
const DefaultBusyTimeout = 5 * time.Second

// Open opens (creating if needed) the database at path and applies the
// connection pragmas. The pool is limited to one connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", withTxLock(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", DefaultBusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// withTxLock makes BEGIN take the write lock up front so that a
// read-modify-write transaction cannot deadlock against another writer.
func withTxLock(path string) string {
	if strings.Contains(path, "_txlock=") {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&_txlock=immediate"
	}
	return path + "?_txlock=immediate"
}

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		// ALLOW-PANIC: the directory is embedded at build time
		panic(err)
	}
	return sub
}

// Migrate runs a goose command (up, down, reset, status, version) against db.
func Migrate(ctx context.Context, db *sql.DB, command string) error {
	return migrate.Run(ctx, db, goose.DialectSQLite3, Migrations(), command)
}
