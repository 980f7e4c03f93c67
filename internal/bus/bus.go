package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/metrics"
)

var (
	ErrQueueFull      = errors.New("notification queue is full")
	ErrAlreadyStarted = errors.New("notification bus is already started")
	ErrNotStarted     = errors.New("notification bus is not started")
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls further behind loses notifications rather than blocking the core.
const subscriberBuffer = 16

// Bus is an asynchronous notification queue with fan-out to subscribers.
type Bus struct {
	mu      sync.RWMutex
	logger  *logger.Logger
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	ch           chan Notification
	subscribers  map[int64]chan Notification
	subscriberID int64
}

// New creates a bus with the given queue capacity.
func New(capacity int, log *logger.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		logger:      log,
		metrics:     m,
		ch:          make(chan Notification, capacity),
		subscribers: make(map[int64]chan Notification),
	}
}

// Start launches the distribution goroutine.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.started = true

	go b.distribute()

	b.logger.Info("notification bus started", logger.Field{Key: "capacity", Value: cap(b.ch)})
	return nil
}

// Stop stops distribution and closes all subscriber channels.
func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return ErrNotStarted
	}

	b.cancel()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	close(b.ch)

	b.started = false
	b.logger.Info("notification bus stopped")
	return nil
}

// Publish enqueues a notification without blocking. A full queue returns
// ErrQueueFull; callers treat that as a dropped advisory, not a failure.
func (b *Bus) Publish(n Notification) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.started {
		return ErrNotStarted
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	select {
	case b.ch <- n:
		b.metrics.RecordNotification(string(n.Type))
		return nil
	default:
		b.logger.Warn("notification queue full, dropping",
			logger.Field{Key: "type", Value: n.Type},
			logger.Field{Key: "project_id", Value: n.ProjectID})
		b.metrics.RecordDroppedNotification("queue_full")
		return ErrQueueFull
	}
}

// Subscribe returns a channel receiving every notification published after
// the call. The channel is closed by Stop.
func (b *Bus) Subscribe() <-chan Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}

	ch := make(chan Notification, subscriberBuffer)
	b.subscriberID++
	b.subscribers[b.subscriberID] = ch

	b.logger.Debug("notification subscriber added",
		logger.Field{Key: "subscriber_id", Value: b.subscriberID})
	return ch
}

func (b *Bus) distribute() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case n, ok := <-b.ch:
			if !ok {
				return
			}
			b.mu.RLock()
			for _, ch := range b.subscribers {
				select {
				case ch <- n:
				default:
					b.logger.Warn("subscriber channel full, skipping notification",
						logger.Field{Key: "type", Value: n.Type})
					b.metrics.RecordDroppedNotification("subscriber_full")
				}
			}
			b.mu.RUnlock()
		}
	}
}

// IsStarted reports whether the bus is running.
func (b *Bus) IsStarted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.started
}
