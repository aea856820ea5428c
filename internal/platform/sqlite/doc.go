// Package sqlite implements store.TaskStore on an embedded SQLite database
// (modernc.org/sqlite, no cgo). The store runs on a single connection, so
// claims and read-modify-write updates are serialized within the process;
// across processes SQLite's write lock serializes them and lock contention
// surfaces as store.ErrTransient.
package sqlite
