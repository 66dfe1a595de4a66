// Package bus is the in-process message bus dialog components publish
// named events on. Handlers run synchronously on the publisher's
// goroutine in subscription order, so a single publisher sees its events
// handled one at a time.
package bus

import (
	"context"
	"sync"

	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/pkg/logger"
)

// Handler receives one published event.
type Handler func(ctx context.Context, ev model.Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	named  map[string][]subscription
	all    []subscription
	nextID uint64
	logger logger.Logger
}

type subscription struct {
	id uint64
	h  Handler
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		named:  make(map[string][]subscription),
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events named name. The returned function
// removes the subscription.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.named[name] = append(b.named[name], subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.named[name] = without(b.named[name], id)
		if len(b.named[name]) == 0 {
			delete(b.named, name)
		}
	}
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, id)
	}
}

// Publish delivers ev to wildcard subscribers first, then to the
// subscribers of its name. A panicking handler is logged and skipped.
func (b *Bus) Publish(ctx context.Context, ev model.Event) {
	if ev == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.all)+len(b.named[ev.EventName()]))
	subs = append(subs, b.all...)
	subs = append(subs, b.named[ev.EventName()]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s.h, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "bus handler panicked",
				logger.String("event", ev.EventName()),
				logger.Any("panic", r),
			)
		}
	}()
	h(ctx, ev)
}

func without(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
