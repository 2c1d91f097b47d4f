// Package event is the in-process publish/subscribe bus that carries camera
// lifecycle notifications to the API, the MQTT forwarder and other
// listeners.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one notification on the bus.
type Event struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Handler receives events. Handlers must not block for long; slow work
// belongs in PublishAsync subscribers or a goroutine of their own.
type Handler func(ctx context.Context, e Event)

// Publisher is the subset of Bus that producers depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	PublishAsync(ctx context.Context, e Event)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to topic subscribers and catch-all subscribers.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	all    []subscription
	nextID uint64
	logger *zap.Logger
}

// Compile-time interface guard.
var _ Publisher = (*Bus)(nil)

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{topics: make(map[string][]subscription), logger: logger}
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = removeSub(b.topics[topic], id)
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
	}
}

// SubscribeAll registers h for every topic.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = removeSub(b.all, id)
	}
}

func removeSub(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) handlers(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hs := make([]Handler, 0, len(b.topics[topic])+len(b.all))
	for _, s := range b.topics[topic] {
		hs = append(hs, s.handler)
	}
	for _, s := range b.all {
		hs = append(hs, s.handler)
	}
	return hs
}

func stamp(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

// Publish delivers e to every matching handler synchronously. A panicking
// handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	e = stamp(e)
	for _, h := range b.handlers(e.Topic) {
		b.invoke(ctx, h, e)
	}
	return nil
}

// PublishAsync delivers e to each matching handler on its own goroutine.
func (b *Bus) PublishAsync(ctx context.Context, e Event) {
	e = stamp(e)
	for _, h := range b.handlers(e.Topic) {
		go b.invoke(ctx, h, e)
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", e.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, e)
}
