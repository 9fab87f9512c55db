package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"corridor-router/internal/risk"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// DropObserver is told when a slow subscriber loses an event.
type DropObserver interface {
	EventDropped(subscriber string, eventType string)
}

// Subscription is a buffered feed of engine events.
type Subscription struct {
	name    string
	ch      chan risk.Event
	dropped atomic.Int64
	closed  bool
}

// C returns the receive side of the subscription.
func (s *Subscription) C() <-chan risk.Event { return s.ch }

// Name returns the subscriber label.
func (s *Subscription) Name() string { return s.name }

// Dropped reports how many events were discarded for this subscriber.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Bus fans engine events out to subscribers without ever blocking the publisher.
type Bus struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	closed   bool
	observer DropObserver
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

// NewBus constructs an empty bus.
func NewBus(observer DropObserver, logger zerolog.Logger) *Bus {
	return &Bus{
		subs:     make(map[*Subscription]struct{}),
		observer: observer,
		logger:   logger.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a new subscriber with the given queue length.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{name: name, ch: make(chan risk.Event, buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Publish implements risk.Publisher. Full subscriber queues drop the event.
func (b *Bus) Publish(_ context.Context, e risk.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
			b.logger.Warn().Str("subscriber", sub.name).Str("event", string(e.Type)).Msg("subscriber queue full, event dropped")
			if b.observer != nil {
				b.observer.EventDropped(sub.name, string(e.Type))
			}
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Sink consumes events on its own goroutine.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e risk.Event) error
}

// Attach runs sink on a dedicated goroutine until ctx ends or the bus closes.
// Handler errors are logged and do not stop the sink.
func (b *Bus) Attach(ctx context.Context, sink Sink, buffer int) {
	sub := b.Subscribe(sink.Name(), buffer)
	logger := b.logger.With().Str("sink", sink.Name()).Logger()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-sub.C():
				if !ok {
					return
				}
				if err := sink.Handle(ctx, e); err != nil {
					logger.Error().Err(err).Str("event", string(e.Type)).Msg("sink failed to handle event")
				}
			}
		}
	}()
}

// Close stops delivery, closes every subscription and waits for attached
// sinks to drain what they already received.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
}

var _ risk.Publisher = (*Bus)(nil)
