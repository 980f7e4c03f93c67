// Package notify delivers bus notifications to external sinks: the desktop,
// Telegram, and the structured log. Sinks are advisory consumers; a failing
// sink is logged and skipped, never retried, and never blocks the core.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aatumaykin/tfreaper/internal/bus"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/metrics"
)

var (
	ErrAlreadyStarted = errors.New("notifier is already started")
	ErrNotStarted     = errors.New("notifier is not started")
)

// sendTimeout bounds a single sink delivery.
const sendTimeout = 10 * time.Second

// Sink delivers one notification to an external destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, n bus.Notification) error
}

// AlertTypes is the default filter for outward-facing sinks: the lifecycle
// moments an operator acts on, without the per-chunk output stream.
var AlertTypes = []bus.Type{
	bus.TypeWarning,
	bus.TypeDestroying,
	bus.TypeCompleted,
	bus.TypeRetryScheduled,
	bus.TypeFailed,
	bus.TypeCancelled,
	bus.TypeExtended,
	bus.TypeError,
}

var knownTypes = map[bus.Type]struct{}{
	bus.TypeDiscovered:       {},
	bus.TypeUpdated:          {},
	bus.TypeRemoved:          {},
	bus.TypeRegistered:       {},
	bus.TypeScheduled:        {},
	bus.TypeWarning:          {},
	bus.TypeDestroying:       {},
	bus.TypeCompleted:        {},
	bus.TypeFailed:           {},
	bus.TypeRetryScheduled:   {},
	bus.TypeCancelled:        {},
	bus.TypeExtended:         {},
	bus.TypeError:            {},
	bus.TypeExecutionStarted: {},
	bus.TypeExecutionOutput:  {},
}

// ParseTypes resolves configured type names. An empty list is valid and
// means the sink's default filter applies.
func ParseTypes(names []string) ([]bus.Type, error) {
	types := make([]bus.Type, 0, len(names))
	for _, name := range names {
		t := bus.Type(name)
		if _, ok := knownTypes[t]; !ok {
			return nil, fmt.Errorf("unknown notification type: %q", name)
		}
		types = append(types, t)
	}
	return types, nil
}

type sinkEntry struct {
	sink  Sink
	types map[bus.Type]struct{}
}

func (e *sinkEntry) wants(t bus.Type) bool {
	if len(e.types) == 0 {
		return true
	}
	_, ok := e.types[t]
	return ok
}

// Dispatcher subscribes to the bus and fans notifications out to registered
// sinks, each filtered by its own type set.
type Dispatcher struct {
	bus     *bus.Bus
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	sinks   []*sinkEntry
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDispatcher creates a dispatcher with no sinks registered.
func NewDispatcher(b *bus.Bus, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		bus:     b,
		logger:  log,
		metrics: m,
	}
}

// Register adds a sink. With no explicit types the sink receives every
// notification. Registration after Start takes effect immediately.
func (d *Dispatcher) Register(sink Sink, types ...bus.Type) {
	entry := &sinkEntry{sink: sink}
	if len(types) > 0 {
		entry.types = make(map[bus.Type]struct{}, len(types))
		for _, t := range types {
			entry.types[t] = struct{}{}
		}
	}

	d.mu.Lock()
	d.sinks = append(d.sinks, entry)
	d.mu.Unlock()

	d.logger.Debug("notification sink registered",
		logger.Field{Key: "sink", Value: sink.Name()},
		logger.Field{Key: "types", Value: len(types)})
}

// Start subscribes to the bus and launches the delivery loop. The bus must
// already be started.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}

	ch := d.bus.Subscribe()
	if ch == nil {
		return bus.ErrNotStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.started = true

	go d.run(runCtx, ch)

	d.logger.Info("notifier started", logger.Field{Key: "sinks", Value: len(d.sinks)})
	return nil
}

// Stop terminates the delivery loop and waits for it to drain.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return ErrNotStarted
	}
	d.cancel()
	done := d.done
	d.started = false
	d.mu.Unlock()

	<-done
	d.logger.Info("notifier stopped")
	return nil
}

func (d *Dispatcher) run(ctx context.Context, ch <-chan bus.Notification) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			d.dispatch(ctx, n)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, n bus.Notification) {
	d.mu.Lock()
	entries := make([]*sinkEntry, len(d.sinks))
	copy(entries, d.sinks)
	d.mu.Unlock()

	for _, entry := range entries {
		if !entry.wants(n.Type) {
			continue
		}
		if err := d.deliver(ctx, entry.sink, n); err != nil {
			d.logger.Warn("notification sink failed",
				logger.Field{Key: "sink", Value: entry.sink.Name()},
				logger.Field{Key: "type", Value: n.Type},
				logger.Field{Key: "error", Value: err.Error()})
			d.metrics.RecordDroppedNotification(entry.sink.Name())
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, n bus.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	return sink.Send(sendCtx, n)
}
