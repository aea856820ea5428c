// Package redis wakes dispatchers on every replica through Redis pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/taskqueue/internal/task"
	goredis "github.com/redis/go-redis/v9"
)

// Notifier publishes enqueue notifications on a Redis channel and turns
// messages received on it into local wake-ups. It is a latency optimization
// only: a lost message delays a task until the next poll.
type Notifier struct {
	client  *goredis.Client
	pubsub  *goredis.PubSub
	channel string
	local   *task.LocalNotifier
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

var _ task.Notifier = (*Notifier)(nil)

// NewNotifier connects to the Redis server at url and subscribes to channel.
func NewNotifier(ctx context.Context, url, channel string, log *slog.Logger) (*Notifier, error) {
	if channel == "" {
		return nil, errors.New("redis notifier requires a channel")
	}
	if log == nil {
		log = slog.Default()
	}

	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so that no notification
	// published after NewNotifier returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	n := &Notifier{
		client:  client,
		pubsub:  pubsub,
		channel: channel,
		local:   task.NewLocalNotifier(),
		logger:  log.With("component", "redis_notifier", "channel", channel),
		done:    make(chan struct{}),
	}
	go n.listen()

	n.logger.Info("subscribed to enqueue notifications")
	return n, nil
}

func (n *Notifier) listen() {
	defer close(n.done)
	for msg := range n.pubsub.Channel() {
		n.logger.Debug("received enqueue notification", "task_type", msg.Payload)
		n.local.Signal()
	}
}

// Notify wakes the local dispatcher and publishes taskType for the others.
func (n *Notifier) Notify(ctx context.Context, taskType string) error {
	n.local.Signal()
	if err := n.client.Publish(ctx, n.channel, taskType).Err(); err != nil {
		return fmt.Errorf("failed to publish enqueue notification: %w", err)
	}
	return nil
}

// Wake implements task.Notifier.
func (n *Notifier) Wake() <-chan struct{} {
	return n.local.Wake()
}

// Close unsubscribes and closes the connection.
func (n *Notifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		err = errors.Join(n.pubsub.Close(), n.client.Close())
		<-n.done
	})
	return err
}
