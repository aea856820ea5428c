// Package postgres implements store.TaskStore on PostgreSQL through the pgx
// database/sql driver. Claims use FOR UPDATE SKIP LOCKED so that several
// dispatchers, in one process or many, never receive the same task.
package postgres
