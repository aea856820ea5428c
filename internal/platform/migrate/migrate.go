// Package migrate applies the embedded goose migrations of a task store backend.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/platform/logger"
	"github.com/pressly/goose/v3"
)

// Supported commands.
const (
	CommandUp      = "up"
	CommandDown    = "down"
	CommandReset   = "reset"
	CommandStatus  = "status"
	CommandVersion = "version"
)

// Commands lists the accepted command names.
var Commands = []string{CommandUp, CommandDown, CommandReset, CommandStatus, CommandVersion}

// Run executes a migration command against db using the migrations found in fsys.
func Run(ctx context.Context, db *sql.DB, dialect goose.Dialect, fsys fs.FS, command string) error {
	log := logger.FromContext(ctx).With(
		"correlation_id", uuid.New().String(),
		"component", "migrations",
		"dialect", string(dialect),
		"command", command,
	)

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		log.Error("failed to create migration provider", "error", err)
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	start := time.Now()
	switch command {
	case CommandUp:
		var results []*goose.MigrationResult
		results, err = provider.Up(ctx)
		for _, r := range results {
			logResult(log, r)
		}
		if err == nil && len(results) == 0 {
			log.Info("no pending migrations")
		}
	case CommandDown:
		var result *goose.MigrationResult
		result, err = provider.Down(ctx)
		if result != nil {
			logResult(log, result)
		}
	case CommandReset:
		var results []*goose.MigrationResult
		results, err = provider.DownTo(ctx, 0)
		for _, r := range results {
			logResult(log, r)
		}
	case CommandStatus:
		var statuses []*goose.MigrationStatus
		statuses, err = provider.Status(ctx)
		for _, s := range statuses {
			attrs := []any{"version", s.Source.Version, "path", s.Source.Path, "state", string(s.State)}
			if !s.AppliedAt.IsZero() {
				attrs = append(attrs, "applied_at", s.AppliedAt)
			}
			log.Info("migration status", attrs...)
		}
	case CommandVersion:
		var version int64
		version, err = provider.GetDBVersion(ctx)
		if err == nil {
			log.Info("current database migration version", "version", version)
		}
	default:
		log.Error("unknown migration command", "valid_commands", Commands)
		return fmt.Errorf("unknown migration command: %s (expected one of %v)", command, Commands)
	}

	if err != nil {
		log.Error("migration command failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return fmt.Errorf("migration command '%s' failed: %w", command, err)
	}

	log.Info("migration command executed successfully",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Version returns the current schema version of db.
func Version(ctx context.Context, db *sql.DB, dialect goose.Dialect, fsys fs.FS) (int64, error) {
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider.GetDBVersion(ctx)
}

func logResult(log *slog.Logger, r *goose.MigrationResult) {
	log.Info("migration applied",
		"version", r.Source.Version,
		"path", r.Source.Path,
		"direction", r.Direction,
		"duration_ms", r.Duration.Milliseconds())
}
