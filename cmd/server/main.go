// Package main implements the entry point for the task queue server, which
// accepts tasks over HTTP and executes them with a pool of workers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/taskqueue/internal/config"
	"github.com/phrazzld/taskqueue/internal/platform/logger"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (default: $TASKQUEUE_CONFIG or ./config.yaml)")
	envFile := flag.String("env-file", ".env", "Path to a .env file loaded before the configuration")
	migrateCmd := flag.String("migrate", "", "Run a migration command (up, down, reset, status, version) and exit")
	flag.Parse()

	if err := run(*configFile, *envFile, *migrateCmd); err != nil {
		fmt.Fprintf(os.Stderr, "taskqueue: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, envFile, migrateCmd string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.LoggerConfig{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_driver", cfg.Database.Driver,
		"workers", cfg.Worker.Count,
		"auth_enabled", cfg.Auth.Enabled(),
		"redis_enabled", cfg.Redis.URL != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if migrateCmd != "" {
		return handleMigrations(ctx, cfg, migrateCmd, log)
	}

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	if err := app.Run(ctx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
