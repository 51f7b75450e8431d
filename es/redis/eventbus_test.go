package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/omnierp/go-erp/es"
)

func redisClient(t *testing.T) goredis.UniversalClient {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s not reachable: %v", addr, err)
	}
	return client
}

func testEvent(seq int64) es.Event {
	return es.Event{
		EventID:        es.NewEventID(),
		TenantID:       es.NewTenantID(),
		AggregateID:    es.NewAggregateID(),
		AggregateType:  "Item",
		SequenceNumber: seq,
		EventType:      "ItemCreated",
		EventVersion:   1,
		OccurredAt:     time.Now().UTC(),
		Payload:        []byte(`{"name":"widget","quantity":1}`),
	}
}

func TestBusPublishSubscribe(t *testing.T) {
	client := redisClient(t)
	streamKey := fmt.Sprintf("events-test-%s", es.NewEventID())
	t.Cleanup(func() { client.Del(context.Background(), streamKey, streamKey+":dlq") })

	bus := NewBus(client, WithStreamKey(streamKey))
	defer bus.Close()

	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, es.SubscriptionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	// The tail starts at the stream head; give the reader a moment to
	// attach before publishing.
	time.Sleep(200 * time.Millisecond)

	published := testEvent(1)
	if err := bus.Publish(ctx, published); err != nil {
		t.Fatal(err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	got, err := sub.Recv(recvCtx)
	if err != nil {
		t.Fatal(err)
	}
	if got.EventID != published.EventID {
		t.Errorf("got %s, want %s", got.EventID, published.EventID)
	}
}

func TestBusConsumerGroupAck(t *testing.T) {
	client := redisClient(t)
	streamKey := fmt.Sprintf("events-test-%s", es.NewEventID())
	t.Cleanup(func() { client.Del(context.Background(), streamKey, streamKey+":dlq") })

	bus := NewBus(client, WithStreamKey(streamKey))
	defer bus.Close()

	ctx := context.Background()
	published := testEvent(1)
	if err := bus.Publish(ctx, published); err != nil {
		t.Fatal(err)
	}

	sub, err := bus.SubscribeGroup(ctx, "projections", "worker-1", es.SubscriptionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	recvCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	got, err := sub.Recv(recvCtx)
	if err != nil {
		t.Fatal(err)
	}
	if got.EventID != published.EventID {
		t.Fatalf("got %s, want %s", got.EventID, published.EventID)
	}

	acker, ok := es.Subscription(sub).(es.Acker)
	if !ok {
		t.Fatal("group subscription does not track delivery")
	}
	if err := acker.Ack(ctx, got); err != nil {
		t.Fatal(err)
	}

	pending, err := client.XPending(ctx, streamKey, "projections").Result()
	if err != nil {
		t.Fatal(err)
	}
	if pending.Count != 0 {
		t.Errorf("got %d pending deliveries after ack, want 0", pending.Count)
	}
}

func TestDecodeMessage(t *testing.T) {
	published := testEvent(3)
	payload, err := json.Marshal(published)
	if err != nil {
		t.Fatal(err)
	}

	evt, ok := decodeMessage(goredis.XMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"payload": string(payload)},
	})
	if !ok {
		t.Fatal("well-formed message did not decode")
	}
	if evt.EventID != published.EventID || evt.SequenceNumber != 3 {
		t.Errorf("got %+v", evt)
	}

	if _, ok := decodeMessage(goredis.XMessage{ID: "1-1", Values: map[string]interface{}{}}); ok {
		t.Error("message without payload decoded")
	}
	if _, ok := decodeMessage(goredis.XMessage{ID: "1-2", Values: map[string]interface{}{"payload": "not json"}}); ok {
		t.Error("malformed payload decoded")
	}
}
