package redis

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/omnierp/go-erp/es"
)

const (
	// DefaultStreamKey is the stream committed events are published to.
	DefaultStreamKey = "events"
	// DefaultMaxRetries is how many deliveries a message gets before it
	// is moved to the dead-letter stream.
	DefaultMaxRetries = 5
	// DefaultPendingTimeout is how long a delivery may sit unacked
	// before another consumer may claim it.
	DefaultPendingTimeout = 30 * time.Second

	defaultBlock     = 5 * time.Second
	defaultBatchSize = 64
)

// BusOption configures the Redis streams bus.
type BusOption func(*Bus)

// WithStreamKey overrides the stream the bus publishes to. The
// dead-letter stream is the stream key with a ":dlq" suffix.
func WithStreamKey(key string) BusOption {
	return func(b *Bus) {
		b.streamKey = key
		b.dlqKey = key + ":dlq"
	}
}

// WithMaxRetries overrides how many deliveries a message gets before it
// is dead-lettered.
func WithMaxRetries(n int64) BusOption {
	return func(b *Bus) {
		b.maxRetries = n
	}
}

// WithPendingTimeout overrides how long an unacked delivery is left with
// its consumer before the group may reclaim it.
func WithPendingTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		b.pendingTimeout = d
	}
}

// WithLogger overrides the bus logger.
func WithLogger(logger zerolog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an event bus on Redis streams. Events are XADDed to a
// single stream; durable consumers join consumer groups, unacked
// deliveries are reclaimed after a timeout, and messages that exhaust
// their retries land on a dead-letter stream. The caller owns the
// client's lifecycle.
func NewBus(client redis.UniversalClient, opts ...BusOption) *Bus {
	b := &Bus{
		client:         client,
		streamKey:      DefaultStreamKey,
		dlqKey:         DefaultStreamKey + ":dlq",
		maxRetries:     DefaultMaxRetries,
		pendingTimeout: DefaultPendingTimeout,
		block:          defaultBlock,
		logger:         zerolog.Nop(),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bus is a Redis streams es.GroupedEventBus.
type Bus struct {
	client         redis.UniversalClient
	streamKey      string
	dlqKey         string
	maxRetries     int64
	pendingTimeout time.Duration
	block          time.Duration
	logger         zerolog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func (b *Bus) Publish(ctx context.Context, evt es.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return es.BackendError(errors.Wrap(err, "encode event"))
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamKey,
		Values: map[string]interface{}{
			"payload":         payload,
			"tenant_id":       evt.TenantID.String(),
			"aggregate_id":    evt.AggregateID.String(),
			"aggregate_type":  evt.AggregateType,
			"event_type":      evt.EventType,
			"sequence_number": evt.SequenceNumber,
		},
	}).Err()
	if err != nil {
		return es.BackendError(errors.Wrap(err, "publish event"))
	}
	return nil
}

// Subscribe tails the stream from now on, without delivery tracking.
func (b *Bus) Subscribe(ctx context.Context, filter es.SubscriptionFilter) (es.Subscription, error) {
	sub := newSubscription(filter, nil)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		lastID := "$"
		for {
			if b.isDone(sub) {
				return
			}
			streams, err := b.client.XRead(context.Background(), &redis.XReadArgs{
				Streams: []string{b.streamKey, lastID},
				Count:   defaultBatchSize,
				Block:   b.block,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if b.isDone(sub) {
					return
				}
				b.logger.Error().Err(err).Str("stream", b.streamKey).Msg("read stream failed")
				time.Sleep(b.block)
				continue
			}
			for _, stream := range streams {
				for _, msg := range stream.Messages {
					lastID = msg.ID
					b.deliver(sub, msg)
				}
			}
		}
	}()

	return sub, nil
}

// SubscribeGroup joins a consumer group, creating it at the start of the
// stream when missing. Events must be acked; unacked deliveries are
// reclaimed after the pending timeout, and deliveries past the retry
// limit move to the dead-letter stream.
func (b *Bus) SubscribeGroup(ctx context.Context, group, consumer string, filter es.SubscriptionFilter) (es.Subscription, error) {
	err := b.client.XGroupCreateMkStream(ctx, b.streamKey, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, es.BackendError(errors.Wrap(err, "create consumer group"))
	}

	acker := &groupAcker{bus: b, group: group, ids: make(map[es.EventID]string)}
	sub := newSubscription(filter, acker)

	l := b.logger.With().Str("group", group).Str("consumer", consumer).Logger()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			if b.isDone(sub) {
				return
			}

			b.reclaimPending(l, group, consumer, sub)

			streams, err := b.client.XReadGroup(context.Background(), &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{b.streamKey, ">"},
				Count:    defaultBatchSize,
				Block:    b.block,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if b.isDone(sub) {
					return
				}
				l.Error().Err(err).Msg("read group failed")
				time.Sleep(b.block)
				continue
			}
			for _, stream := range streams {
				for _, msg := range stream.Messages {
					b.deliverGroup(l, sub, acker, group, msg)
				}
			}
		}
	}()

	return sub, nil
}

// reclaimPending takes over deliveries other consumers left unacked past
// the pending timeout, dead-lettering those already retried too often.
func (b *Bus) reclaimPending(l zerolog.Logger, group, consumer string, sub *subscription) {
	ctx := context.Background()
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.streamKey,
		Group:  group,
		Idle:   b.pendingTimeout,
		Start:  "-",
		End:    "+",
		Count:  defaultBatchSize,
	}).Result()
	if err != nil || len(pending) == 0 {
		return
	}

	for _, p := range pending {
		if p.RetryCount >= b.maxRetries {
			b.deadLetter(l, group, p)
			continue
		}

		claimed, err := b.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   b.streamKey,
			Group:    group,
			Consumer: consumer,
			MinIdle:  b.pendingTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			continue
		}
		for _, msg := range claimed {
			b.deliverGroup(l, sub, sub.acker, group, msg)
		}
	}
}

// deadLetter copies the exhausted message onto the dead-letter stream
// and acks the original so the group stops redelivering it.
func (b *Bus) deadLetter(l zerolog.Logger, group string, p redis.XPendingExt) {
	ctx := context.Background()
	msgs, err := b.client.XRangeN(ctx, b.streamKey, p.ID, p.ID, 1).Result()
	if err != nil || len(msgs) == 0 {
		return
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.dlqKey,
		Values: map[string]interface{}{
			"original_id": p.ID,
			"retry_count": p.RetryCount,
			"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
			"payload":     msgs[0].Values["payload"],
		},
	}).Err()
	if err != nil {
		l.Error().Err(err).Str("message_id", p.ID).Msg("dead letter failed")
		return
	}

	if err := b.client.XAck(ctx, b.streamKey, group, p.ID).Err(); err != nil {
		l.Error().Err(err).Str("message_id", p.ID).Msg("ack after dead letter failed")
	}
	l.Warn().Str("message_id", p.ID).Int64("retries", p.RetryCount).Msg("message dead lettered")
}

func (b *Bus) deliver(sub *subscription, msg redis.XMessage) {
	evt, ok := decodeMessage(msg)
	if !ok {
		return
	}
	if !sub.filter.Matches(evt) {
		return
	}
	sub.push(evt)
}

func (b *Bus) deliverGroup(l zerolog.Logger, sub *subscription, acker *groupAcker, group string, msg redis.XMessage) {
	evt, ok := decodeMessage(msg)
	if !ok {
		// Unparseable entry: ack so it stops cycling through the group.
		if err := b.client.XAck(context.Background(), b.streamKey, group, msg.ID).Err(); err != nil {
			l.Error().Err(err).Str("message_id", msg.ID).Msg("ack of malformed message failed")
		}
		return
	}
	if !sub.filter.Matches(evt) {
		if err := b.client.XAck(context.Background(), b.streamKey, group, msg.ID).Err(); err != nil {
			l.Error().Err(err).Str("message_id", msg.ID).Msg("ack of filtered message failed")
		}
		return
	}

	acker.track(evt.EventID, msg.ID)
	sub.push(evt)
}

func (b *Bus) isDone(sub *subscription) bool {
	select {
	case <-b.done:
		return true
	case <-sub.done:
		return true
	default:
		return false
	}
}

// Close stops every subscription loop. The Redis client stays open for
// its owner.
func (b *Bus) Close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func decodeMessage(msg redis.XMessage) (es.Event, bool) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return es.Event{}, false
	}
	var evt es.Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return es.Event{}, false
	}
	return evt, true
}

type groupAcker struct {
	bus   *Bus
	group string

	mu  sync.Mutex
	ids map[es.EventID]string
}

func (a *groupAcker) track(eventID es.EventID, msgID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids[eventID] = msgID
}

func (a *groupAcker) Ack(ctx context.Context, evt es.Event) error {
	a.mu.Lock()
	msgID, ok := a.ids[evt.EventID]
	if ok {
		delete(a.ids, evt.EventID)
	}
	a.mu.Unlock()

	if !ok {
		return nil
	}
	if err := a.bus.client.XAck(ctx, a.bus.streamKey, a.group, msgID).Err(); err != nil {
		return es.BackendError(errors.Wrap(err, "ack event"))
	}
	return nil
}

func newSubscription(filter es.SubscriptionFilter, acker *groupAcker) *subscription {
	return &subscription{
		filter: filter,
		acker:  acker,
		ch:     make(chan es.Event, defaultBatchSize*4),
		done:   make(chan struct{}),
	}
}

type subscription struct {
	filter es.SubscriptionFilter
	acker  *groupAcker
	ch     chan es.Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) push(evt es.Event) {
	select {
	case s.ch <- evt:
	case <-s.done:
	}
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
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}

// Ack forwards to the group's delivery tracking when present.
func (s *subscription) Ack(ctx context.Context, evt es.Event) error {
	if s.acker == nil {
		return nil
	}
	return s.acker.Ack(ctx, evt)
}
