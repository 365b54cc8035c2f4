// Package eventbus is glimpse's in-process publish/subscribe channel. The
// ingress publishes editor updates onto it and the frontend bridge relays
// every event to connected webviews.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/logging"
	"github.com/conneroisu/glimpse/internal/metrics"
)

// EventMarkdownUpdate is emitted for every accepted POST /update.
const EventMarkdownUpdate = "markdown-update"

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// Event is one message on the bus.
type Event struct {
	Name      string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter is the publishing side of the bus.
type Emitter interface {
	Emit(name string, payload any) error
}

// Subscription receives events until it is closed.
type Subscription struct {
	id     uint64
	ch     chan Event
	bus    *Bus
	closed sync.Once
}

// Events returns the receive channel. It is closed when the subscription or
// the bus is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus fans events out to subscribers. Emit never blocks: a subscriber whose
// queue is full misses the event.
type Bus struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	closed     bool
	bufferSize int

	logger  logging.Logger
	metrics *metrics.Metrics
}

// New creates a bus. bufferSize <= 0 uses DefaultBufferSize.
func New(bufferSize int, logger logging.Logger, m *metrics.Metrics) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Bus{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
		logger:     logger.WithComponent("eventbus"),
		metrics:    m,
	}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:  b.nextID,
		ch:  make(chan Event, b.bufferSize),
		bus: b,
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	sub.closed.Do(func() { close(sub.ch) })
}

// Emit publishes an event to every current subscriber. It fails only when
// the bus is closed.
func (b *Bus) Emit(name string, payload any) error {
	ev := Event{Name: name, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.NewInternalError(errors.ErrCodePublish, "event bus is closed", nil).
			WithContext("event", name)
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.metrics.EventDropped()
			b.logger.Warn(context.Background(), nil, "Subscriber queue full, event dropped",
				"event", name, "subscriber", sub.id)
		}
	}
	b.metrics.EventPublished(name)
	return nil
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription; later Emit calls fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.closed.Do(func() { close(sub.ch) })
		delete(b.subs, id)
	}
}
