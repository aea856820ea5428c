package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/taskqueue/internal/domain"
)

// Handler executes tasks of one type. The payload is the task's opaque JSON
// document; the returned result, if any, must be valid JSON.
//
// Handlers must honor ctx: it is cancelled when the task times out or when
// the service shuts down.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, payload)
}

// Registry maps task types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering the same type twice is an error.
func (r *Registry) Register(taskType string, h Handler) error {
	if err := domain.ValidateTaskType(taskType); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %q", domain.ErrValidation, taskType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("handler for task type %q already registered", taskType)
	}
	r.handlers[taskType] = h
	return nil
}

// Lookup returns the handler for taskType.
func (r *Registry) Lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types returns the registered task types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Info describes the task a handler is executing.
type Info struct {
	ID         uuid.UUID
	TaskType   string
	Attempt    int
	MaxRetries int
	WorkerID   string
}

type infoKey struct{}

// WithInfo returns a context carrying info.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// InfoFromContext returns the task being executed, if any.
func InfoFromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}
