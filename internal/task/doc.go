// Package task runs the priority task queue: it accepts tasks, dispatches
// them to a fixed pool of workers, applies the retry policy to failures and
// reports queue state.
//
// All coordination goes through the store.TaskStore. The Dispatcher claims a
// task only after reserving an idle worker, so a claimed task is never left
// waiting in memory, and workers report every outcome back to the store.
package task
