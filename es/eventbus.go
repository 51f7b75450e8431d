package es

import "context"

// SubscriptionFilter narrows the events a subscription receives.
// The zero value matches everything.
type SubscriptionFilter struct {
	// TenantID, when set, restricts the subscription to one tenant.
	TenantID *TenantID
	// AggregateType, when non-empty, restricts to one aggregate type.
	AggregateType string
}

// Matches reports whether the event passes the filter.
func (f SubscriptionFilter) Matches(evt Event) bool {
	if f.TenantID != nil && *f.TenantID != evt.TenantID {
		return false
	}
	if f.AggregateType != "" && f.AggregateType != evt.AggregateType {
		return false
	}
	return true
}

// Subscription is a stream of published events.
type Subscription interface {
	// Recv blocks until an event arrives, the context is done, or the
	// subscription is closed. A closed subscription returns
	// ErrSubscriptionClosed.
	Recv(ctx context.Context) (Event, error)
	// TryRecv returns a buffered event without blocking.
	TryRecv() (Event, bool)
	// Close stops delivery. Safe to call more than once.
	Close() error
}

// Acker is implemented by subscriptions whose transport tracks delivery,
// so consumers can acknowledge an event once it is durably handled.
type Acker interface {
	Ack(ctx context.Context, evt Event) error
}

// EventBus publishes committed events and hands out subscriptions.
// Delivery is at-least-once; consumers key idempotency off the event's
// sequence number.
type EventBus interface {
	// Publish puts the event on the bus.
	Publish(ctx context.Context, evt Event) error
	// Subscribe creates an ephemeral subscription.
	Subscribe(ctx context.Context, filter SubscriptionFilter) (Subscription, error)
	// Close the underlying connection.
	Close() error
}

// GroupedEventBus is an EventBus whose transport supports durable
// consumer groups with per-group delivery tracking.
type GroupedEventBus interface {
	EventBus

	// SubscribeGroup joins the named consumer group. Events are load
	// balanced across the group's consumers and redelivered until acked.
	SubscribeGroup(ctx context.Context, group, consumer string, filter SubscriptionFilter) (Subscription, error)
}

type combined struct {
	primary EventBus
	buses   []EventBus
}

func (c *combined) Publish(ctx context.Context, evt Event) error {
	for _, b := range c.buses {
		if err := b.Publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (c *combined) Subscribe(ctx context.Context, filter SubscriptionFilter) (Subscription, error) {
	return c.primary.Subscribe(ctx, filter)
}

func (c *combined) Close() error {
	var first error
	for _, b := range c.buses {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewCombinedEventBus joins multiple buses. Publishes fan out to all of
// them; subscriptions come from the first.
func NewCombinedEventBus(buses ...EventBus) EventBus {
	if len(buses) == 0 {
		panic("at least one bus is required")
	}
	return &combined{primary: buses[0], buses: buses}
}
