package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/taskqueue/internal/config"
)

// handleMigrations runs a single goose command against the configured
// database and returns. It is invoked by the -migrate flag.
func handleMigrations(ctx context.Context, cfg *config.Config, command string, log *slog.Logger) error {
	backend, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	if backend.migrate == nil {
		return fmt.Errorf("driver %q has no schema to migrate", cfg.Database.Driver)
	}

	log.Info("executing migrations", "command", command, "driver", cfg.Database.Driver)
	if err := backend.migrate(ctx, backend.db, command); err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	return nil
}
