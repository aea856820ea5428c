// Package api exposes the task queue over HTTP. Handlers translate requests
// into queue operations and map domain and store errors to status codes;
// they never touch the store directly.
package api
