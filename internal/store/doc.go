// Package store defines the persistence contract for task records and the
// errors every backend reports. The postgres, sqlite and memory packages under
// internal/platform implement it; the task package builds the queue
// operations on top of it.
package store
