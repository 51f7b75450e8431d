package nats

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/omnierp/go-erp/es"
)

func natsBus(t *testing.T) *Bus {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	namespace := fmt.Sprintf("erp-test-%d", time.Now().UnixNano())
	bus, err := NewClient(url, namespace)
	if err != nil {
		t.Skipf("nats at %s not reachable: %v", url, err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := natsBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, es.SubscriptionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	published := es.Event{
		EventID:        es.NewEventID(),
		TenantID:       es.NewTenantID(),
		AggregateID:    es.NewAggregateID(),
		AggregateType:  "Item",
		SequenceNumber: 1,
		EventType:      "ItemCreated",
		EventVersion:   1,
		OccurredAt:     time.Now().UTC(),
		Payload:        []byte(`{"name":"widget","quantity":1}`),
	}
	if err := bus.Publish(ctx, published); err != nil {
		t.Fatal(err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	got, err := sub.Recv(recvCtx)
	if err != nil {
		t.Fatal(err)
	}
	if got.EventID != published.EventID {
		t.Errorf("got %s, want %s", got.EventID, published.EventID)
	}
}

func TestBusSubscribeFilters(t *testing.T) {
	bus := natsBus(t)
	ctx := context.Background()

	tenantID := es.NewTenantID()
	sub, err := bus.Subscribe(ctx, es.SubscriptionFilter{TenantID: &tenantID})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	other := es.Event{
		EventID:        es.NewEventID(),
		TenantID:       es.NewTenantID(),
		AggregateID:    es.NewAggregateID(),
		AggregateType:  "Item",
		SequenceNumber: 1,
		EventType:      "ItemCreated",
		EventVersion:   1,
		Payload:        []byte(`{}`),
	}
	own := other
	own.EventID = es.NewEventID()
	own.TenantID = tenantID

	if err := bus.Publish(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(ctx, own); err != nil {
		t.Fatal(err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	got, err := sub.Recv(recvCtx)
	if err != nil {
		t.Fatal(err)
	}
	if got.TenantID != tenantID {
		t.Errorf("got event for tenant %s, want %s", got.TenantID, tenantID)
	}
}
