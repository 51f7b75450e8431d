package memory

import (
	"context"
	"sync"

	"github.com/omnierp/go-erp/es"
)

// DefaultBufferSize is the per-subscriber buffer when none is given.
const DefaultBufferSize = 256

// BusOption configures the in-memory bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscriber buffer size.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		b.buffer = n
	}
}

// NewBus creates an in-process event bus. Each subscriber gets its own
// bounded buffer; when a slow subscriber's buffer fills, the oldest
// buffered event is dropped to make room.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		buffer: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bus is an in-memory es.EventBus.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscription
	buffer int
	closed bool
}

func (b *Bus) Publish(ctx context.Context, evt es.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return es.Backendf("bus is closed")
	}

	for _, sub := range b.subs {
		if !sub.filter.Matches(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Buffer full: drop the oldest so the newest survives.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, filter es.SubscriptionFilter) (es.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, es.Backendf("bus is closed")
	}

	sub := &subscription{
		bus:    b,
		filter: filter,
		ch:     make(chan es.Event, b.buffer),
		done:   make(chan struct{}),
	}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Close the bus and every open subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.markClosed()
	}
	return nil
}

func (b *Bus) remove(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

type subscription struct {
	bus    *Bus
	filter es.SubscriptionFilter
	ch     chan es.Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Recv(ctx context.Context) (es.Event, error) {
	// Drain the buffer before reporting closure.
	select {
	case evt := <-s.ch:
		return evt, nil
	default:
	}

	select {
	case evt := <-s.ch:
		return evt, nil
	case <-s.done:
		return es.Event{}, es.ErrSubscriptionClosed
	case <-ctx.Done():
		return es.Event{}, ctx.Err()
	}
}

func (s *subscription) TryRecv() (es.Event, bool) {
	select {
	case evt := <-s.ch:
		return evt, true
	default:
		return es.Event{}, false
	}
}

func (s *subscription) Close() error {
	s.bus.remove(s)
	s.markClosed()
	return nil
}

func (s *subscription) markClosed() {
	s.once.Do(func() {
		close(s.done)
	})
}
