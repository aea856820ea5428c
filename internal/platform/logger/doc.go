// Package logger configures the process-wide log/slog logger and carries
// request- and task-scoped loggers through contexts.
package logger
