package es_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/omnierp/go-erp/es"
	"github.com/omnierp/go-erp/es/memory"
)

// stubSub hands out a fixed list of events, then reports closure.
type stubSub struct {
	events []es.Event
}

func (s *stubSub) Recv(ctx context.Context) (es.Event, error) {
	if len(s.events) == 0 {
		return es.Event{}, es.ErrSubscriptionClosed
	}
	evt := s.events[0]
	s.events = s.events[1:]
	return evt, nil
}

func (s *stubSub) TryRecv() (es.Event, bool) {
	if len(s.events) == 0 {
		return es.Event{}, false
	}
	evt := s.events[0]
	s.events = s.events[1:]
	return evt, true
}

func (s *stubSub) Close() error {
	return nil
}

type ackingSub struct {
	*stubSub
	acked []es.Event
}

func (s *ackingSub) Ack(ctx context.Context, evt es.Event) error {
	s.acked = append(s.acked, evt)
	return nil
}

// countingHandler fails the first failures calls, then succeeds.
type countingHandler struct {
	calls    int
	failures int
	err      error
}

func (h *countingHandler) HandleEvent(ctx context.Context, evt es.Event) error {
	h.calls++
	if h.calls <= h.failures {
		return h.err
	}
	return nil
}

func fastRetries(attempts int) es.RetryPolicy {
	return es.RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}
}

func busEvents(n int) []es.Event {
	tenantID := es.NewTenantID()
	aggregateID := es.NewAggregateID()

	out := make([]es.Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, es.Event{
			EventID:        es.NewEventID(),
			TenantID:       tenantID,
			AggregateID:    aggregateID,
			AggregateType:  "Note",
			SequenceNumber: int64(i) + 1,
			EventType:      "NoteAdded",
			EventVersion:   1,
			Payload:        []byte(`{"text":"a"}`),
		})
	}
	return out
}

func TestWorkerDrainsSubscription(t *testing.T) {
	handler := &countingHandler{}
	worker := es.NewProjectionWorker("recorder", &stubSub{events: busEvents(3)}, handler)

	if err := worker.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if handler.calls != 3 {
		t.Errorf("got %d handled events, want 3", handler.calls)
	}
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	handler := &countingHandler{failures: 2, err: es.Backendf("read model down")}
	letters := memory.NewDeadLetterStore()
	worker := es.NewProjectionWorker("recorder", &stubSub{events: busEvents(1)}, handler,
		es.WithRetryPolicy(fastRetries(5)),
		es.WithWorkerDeadLetters(letters))

	if err := worker.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if handler.calls != 3 {
		t.Errorf("got %d attempts, want 3", handler.calls)
	}
	if len(letters.Letters()) != 0 {
		t.Errorf("got %d dead letters, want none", len(letters.Letters()))
	}
}

func TestWorkerDeadLettersAfterRetries(t *testing.T) {
	handler := &countingHandler{failures: 10, err: es.Backendf("read model down")}
	letters := memory.NewDeadLetterStore()
	worker := es.NewProjectionWorker("recorder", &stubSub{events: busEvents(1)}, handler,
		es.WithRetryPolicy(fastRetries(3)),
		es.WithWorkerDeadLetters(letters))

	if err := worker.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if handler.calls != 3 {
		t.Errorf("got %d attempts, want 3", handler.calls)
	}

	recorded := letters.Letters()
	if len(recorded) != 1 {
		t.Fatalf("got %d dead letters, want 1", len(recorded))
	}
	if recorded[0].ProjectionName != "recorder" {
		t.Errorf("got %q, want %q", recorded[0].ProjectionName, "recorder")
	}
}

func TestWorkerSkipsUndecodableEvent(t *testing.T) {
	handler := &countingHandler{
		failures: 10,
		err:      fmt.Errorf("%w: bad payload", es.ErrProjectionDeserialize),
	}
	letters := memory.NewDeadLetterStore()
	worker := es.NewProjectionWorker("recorder", &stubSub{events: busEvents(1)}, handler,
		es.WithRetryPolicy(fastRetries(5)),
		es.WithWorkerDeadLetters(letters))

	if err := worker.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if handler.calls != 1 {
		t.Errorf("got %d attempts, want 1: retrying cannot fix a payload", handler.calls)
	}
	if len(letters.Letters()) != 0 {
		t.Errorf("got %d dead letters, want none: the runner already recorded it", len(letters.Letters()))
	}
}

func TestWorkerAcksHandledEvents(t *testing.T) {
	sub := &ackingSub{stubSub: &stubSub{events: busEvents(2)}}
	worker := es.NewProjectionWorker("recorder", sub, &countingHandler{})

	if err := worker.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sub.acked) != 2 {
		t.Errorf("got %d acks, want 2", len(sub.acked))
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bus := memory.NewBus()
	sub, err := bus.Subscribe(context.Background(), es.SubscriptionFilter{})
	if err != nil {
		t.Fatal(err)
	}

	worker := es.NewProjectionWorker("recorder", sub, &countingHandler{})
	if err := worker.Run(ctx); err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestRetryPolicyDelayBounds(t *testing.T) {
	policy := es.RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
	}

	for attempt := 1; attempt <= 10; attempt++ {
		delay := policy.Delay(attempt)
		if delay < policy.BaseDelay/2 {
			t.Errorf("attempt %d: delay %v below half the base", attempt, delay)
		}
		if delay > policy.MaxDelay {
			t.Errorf("attempt %d: delay %v above the cap", attempt, delay)
		}
	}
}
