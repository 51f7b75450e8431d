package nats

import (
	"context"
	"encoding/json"
	"sync"

	nats "github.com/nats-io/nats.go"

	"github.com/omnierp/go-erp/es"
)

const subscribeBuffer = 256

// Bus publishes events over nats, one subject per aggregate type under
// the configured namespace.
type Bus struct {
	namespace string
	conn      *nats.Conn
}

// NewClient connects to nats and returns the bus.
func NewClient(urls string, namespace string) (*Bus, error) {
	conn, err := nats.Connect(urls)
	if err != nil {
		return nil, es.Backendf("connect nats: %v", err)
	}

	return &Bus{
		namespace: namespace,
		conn:      conn,
	}, nil
}

// Publish sends the event to "<namespace>.<aggregate type>".
func (c *Bus) Publish(ctx context.Context, event es.Event) error {
	blob, err := json.Marshal(event)
	if err != nil {
		return es.Backendf("encode event: %v", err)
	}

	subj := c.namespace + "." + event.AggregateType
	if err := c.conn.Publish(subj, blob); err != nil {
		return es.Backendf("publish event: %v", err)
	}
	return nil
}

// Subscribe listens on every subject under the namespace.
func (c *Bus) Subscribe(ctx context.Context, filter es.SubscriptionFilter) (es.Subscription, error) {
	sub := &subscription{
		filter: filter,
		ch:     make(chan es.Event, subscribeBuffer),
		done:   make(chan struct{}),
	}

	natsSub, err := c.conn.Subscribe(c.namespace+".>", func(msg *nats.Msg) {
		var evt es.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return
		}
		if !sub.filter.Matches(evt) {
			return
		}
		select {
		case sub.ch <- evt:
		case <-sub.done:
		default:
		}
	})
	if err != nil {
		return nil, es.Backendf("subscribe: %v", err)
	}
	sub.natsSub = natsSub

	return sub, nil
}

// Close drains the underlying connection.
func (c *Bus) Close() error {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			return es.Backendf("drain nats: %v", err)
		}
	}
	return nil
}

type subscription struct {
	filter  es.SubscriptionFilter
	ch      chan es.Event
	done    chan struct{}
	natsSub *nats.Subscription
	once    sync.Once
}

func (s *subscription) Recv(ctx context.Context) (es.Event, error) {
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
	var err error
	s.once.Do(func() {
		err = s.natsSub.Unsubscribe()
		close(s.done)
	})
	return err
}
