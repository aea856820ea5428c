package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/taskqueue/internal/config"
	"github.com/phrazzld/taskqueue/internal/platform/memory"
	"github.com/phrazzld/taskqueue/internal/platform/postgres"
	"github.com/phrazzld/taskqueue/internal/platform/sqlite"
	"github.com/phrazzld/taskqueue/internal/store"
)

// storeBackend is an opened task store together with its connection.
// db is nil for the memory driver.
type storeBackend struct {
	store   store.TaskStore
	db      *sql.DB
	migrate func(ctx context.Context, db *sql.DB, command string) error
}

// Close releases the database connection, if any.
func (b *storeBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// openStore connects to the configured backend.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*storeBackend, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn("using in-memory task store; tasks are lost on restart")
		return &storeBackend{store: memory.NewTaskStore()}, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		log.Info("sqlite database opened", "path", cfg.URL)
		return &storeBackend{store: sqlite.NewTaskStore(db), db: db, migrate: sqlite.Migrate}, nil

	case "postgres":
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("database connection established")
		return &storeBackend{store: postgres.NewPostgresTaskStore(db), db: db, migrate: postgres.Migrate}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", postgres.MapError(err))
	}
	return db, nil
}
