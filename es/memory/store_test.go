package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/omnierp/go-erp/es"
)

func uncommitted(t *testing.T, tenantID es.TenantID, aggregateID es.AggregateID, aggregateType string, payloads ...interface{}) []es.UncommittedEvent {
	t.Helper()

	out := make([]es.UncommittedEvent, 0, len(payloads))
	for _, data := range payloads {
		evt, err := es.NewUncommittedEvent(tenantID, aggregateID, aggregateType, time.Now().UTC(), data)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, evt)
	}
	return out
}

type noted struct {
	Text string `json:"text"`
}

func TestStoreAppendAssignsSequence(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	tenantID := es.NewTenantID()
	aggregateID := es.NewAggregateID()

	committed, err := store.Append(ctx, uncommitted(t, tenantID, aggregateID, "Note", &noted{Text: "a"}, &noted{Text: "b"}), es.ExactVersion(0))
	if err != nil {
		t.Fatal(err)
	}

	if len(committed) != 2 {
		t.Fatalf("got %d events, want 2", len(committed))
	}
	for i, evt := range committed {
		if evt.SequenceNumber != int64(i)+1 {
			t.Errorf("event %d got sequence %d", i, evt.SequenceNumber)
		}
		if evt.EventID.IsZero() {
			t.Errorf("event %d has no id", i)
		}
	}

	more, err := store.Append(ctx, uncommitted(t, tenantID, aggregateID, "Note", &noted{Text: "c"}), es.ExactVersion(2))
	if err != nil {
		t.Fatal(err)
	}
	if more[0].SequenceNumber != 3 {
		t.Errorf("got sequence %d, want 3", more[0].SequenceNumber)
	}
}

func TestStoreAppendVersionConflict(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	tenantID := es.NewTenantID()
	aggregateID := es.NewAggregateID()

	if _, err := store.Append(ctx, uncommitted(t, tenantID, aggregateID, "Note", &noted{Text: "a"}), es.ExactVersion(0)); err != nil {
		t.Fatal(err)
	}

	_, err := store.Append(ctx, uncommitted(t, tenantID, aggregateID, "Note", &noted{Text: "b"}), es.ExactVersion(0))
	if !errors.Is(err, es.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	if _, err := store.Append(ctx, uncommitted(t, tenantID, aggregateID, "Note", &noted{Text: "b"}), es.AnyVersion()); err != nil {
		t.Fatal(err)
	}
}

func TestStoreAppendValidation(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, nil, es.AnyVersion()); !errors.Is(err, es.ErrValidation) {
		t.Errorf("empty append: got %v, want ErrValidation", err)
	}

	missing := uncommitted(t, es.TenantID{}, es.NewAggregateID(), "Note", &noted{})
	if _, err := store.Append(ctx, missing, es.AnyVersion()); !errors.Is(err, es.ErrValidation) {
		t.Errorf("zero tenant: got %v, want ErrValidation", err)
	}

	tenantID := es.NewTenantID()
	spanning := append(
		uncommitted(t, tenantID, es.NewAggregateID(), "Note", &noted{}),
		uncommitted(t, tenantID, es.NewAggregateID(), "Note", &noted{})...,
	)
	if _, err := store.Append(ctx, spanning, es.AnyVersion()); !errors.Is(err, es.ErrValidation) {
		t.Errorf("two streams: got %v, want ErrValidation", err)
	}
}

func TestStoreAppendKeepsAggregateType(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	tenantID := es.NewTenantID()
	aggregateID := es.NewAggregateID()

	if _, err := store.Append(ctx, uncommitted(t, tenantID, aggregateID, "Note", &noted{}), es.AnyVersion()); err != nil {
		t.Fatal(err)
	}

	_, err := store.Append(ctx, uncommitted(t, tenantID, aggregateID, "Invoice", &noted{}), es.AnyVersion())
	if !errors.Is(err, es.ErrTenantIsolation) {
		t.Fatalf("got %v, want ErrTenantIsolation", err)
	}
}

func TestStoreLoadStreamFrom(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	tenantID := es.NewTenantID()
	aggregateID := es.NewAggregateID()

	if _, err := store.Append(ctx, uncommitted(t, tenantID, aggregateID, "Note", &noted{Text: "a"}, &noted{Text: "b"}, &noted{Text: "c"}), es.AnyVersion()); err != nil {
		t.Fatal(err)
	}

	tail, err := store.LoadStreamFrom(ctx, tenantID, aggregateID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 {
		t.Fatalf("got %d events, want 2", len(tail))
	}
	if tail[0].SequenceNumber != 2 {
		t.Errorf("got first sequence %d, want 2", tail[0].SequenceNumber)
	}

	empty, err := store.LoadStream(ctx, tenantID, es.NewAggregateID())
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown stream returned %d events", len(empty))
	}
}

func TestStoreLoadAllForTenant(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	tenantID := es.NewTenantID()

	if _, err := store.Append(ctx, uncommitted(t, tenantID, es.NewAggregateID(), "Note", &noted{Text: "a"}, &noted{Text: "b"}), es.AnyVersion()); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, uncommitted(t, es.NewTenantID(), es.NewAggregateID(), "Note", &noted{Text: "other"}), es.AnyVersion()); err != nil {
		t.Fatal(err)
	}

	var seen []es.Event
	err := store.LoadAllForTenant(ctx, tenantID, func(evt es.Event) error {
		seen = append(seen, evt)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(seen) != 2 {
		t.Fatalf("got %d events, want only the tenant's 2", len(seen))
	}
	if seen[0].SequenceNumber != 1 || seen[1].SequenceNumber != 2 {
		t.Errorf("events out of order: %v then %v", seen[0], seen[1])
	}
}

func TestStoreSnapshotsKeepNewest(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	tenantID := es.NewTenantID()
	aggregateID := es.NewAggregateID()

	newer := es.Snapshot{TenantID: tenantID, AggregateID: aggregateID, AggregateType: "Note", Version: 10, State: json.RawMessage(`{}`)}
	older := es.Snapshot{TenantID: tenantID, AggregateID: aggregateID, AggregateType: "Note", Version: 5, State: json.RawMessage(`{}`)}

	if err := store.SaveSnapshot(ctx, newer); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSnapshot(ctx, older); err != nil {
		t.Fatal(err)
	}

	snap, err := store.LoadSnapshot(ctx, tenantID, aggregateID)
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || snap.Version != 10 {
		t.Fatalf("got %v, want the version 10 snapshot", snap)
	}

	none, err := store.LoadSnapshot(ctx, tenantID, es.NewAggregateID())
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("got %v, want nil for an unknown aggregate", none)
	}
}
