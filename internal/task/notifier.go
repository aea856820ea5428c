package task

import "context"

// Notifier wakes idle dispatchers when new work is enqueued so that they do
// not have to wait for the next poll.
type Notifier interface {
	// Notify signals that a task of taskType became eligible.
	Notify(ctx context.Context, taskType string) error
	// Wake delivers a value after one or more notifications. Notifications
	// arriving while a wake-up is pending are coalesced.
	Wake() <-chan struct{}
	// Close releases resources held by the notifier.
	Close() error
}

// LocalNotifier is an in-process Notifier.
type LocalNotifier struct {
	wake chan struct{}
}

var _ Notifier = (*LocalNotifier)(nil)

// NewLocalNotifier creates a notifier with a single-slot wake channel.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{wake: make(chan struct{}, 1)}
}

// Notify never blocks.
func (n *LocalNotifier) Notify(_ context.Context, _ string) error {
	n.Signal()
	return nil
}

// Signal queues a wake-up unless one is already pending.
func (n *LocalNotifier) Signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Wake implements Notifier.
func (n *LocalNotifier) Wake() <-chan struct{} {
	return n.wake
}

// Close implements Notifier. The wake channel is left open so that a
// dispatcher selecting on it never sees a spurious wake-up.
func (n *LocalNotifier) Close() error {
	return nil
}
