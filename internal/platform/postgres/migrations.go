package postgres

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/phrazzld/taskqueue/internal/platform/migrate"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

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
	return migrate.Run(ctx, db, goose.DialectPostgres, Migrations(), command)
}
