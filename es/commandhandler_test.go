package es_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/omnierp/go-erp/es"
	"github.com/omnierp/go-erp/es/memory"
)

type TaskOpened struct {
	Title string `json:"title"`
}

type TaskCompleted struct{}

type TaskReopened struct{}

type OpenTask struct {
	es.BaseCommand

	Title string
}

type CompleteTask struct {
	es.BaseCommand
}

type ReopenTask struct {
	es.BaseCommand
}

type Task struct {
	es.BaseAggregate

	Title    string
	Open     bool
	Existing bool
}

func (t *Task) Handle(cmd es.Command) ([]interface{}, error) {
	switch c := cmd.(type) {
	case *OpenTask:
		if t.Existing {
			return nil, es.Invariantf("task already exists")
		}
		return []interface{}{&TaskOpened{Title: c.Title}}, nil
	case *CompleteTask:
		if !t.Open {
			return nil, nil
		}
		return []interface{}{&TaskCompleted{}}, nil
	case *ReopenTask:
		if t.Open {
			return nil, nil
		}
		return []interface{}{&TaskReopened{}}, nil
	}
	return nil, es.Validationf("task cannot handle %T", cmd)
}

func (t *Task) Apply(data interface{}) {
	switch e := data.(type) {
	case *TaskOpened:
		t.Title = e.Title
		t.Open = true
		t.Existing = true
	case *TaskCompleted:
		t.Open = false
	case *TaskReopened:
		t.Open = true
	}
}

type taskState struct {
	Title    string `json:"title"`
	Open     bool   `json:"open"`
	Existing bool   `json:"existing"`
}

func (t *Task) MarshalState() (json.RawMessage, error) {
	return json.Marshal(taskState{Title: t.Title, Open: t.Open, Existing: t.Existing})
}

func (t *Task) UnmarshalState(state json.RawMessage) error {
	var s taskState
	if err := json.Unmarshal(state, &s); err != nil {
		return err
	}
	t.Title = s.Title
	t.Open = s.Open
	t.Existing = s.Existing
	return nil
}

func newTaskHandler(store es.EventStore, bus es.EventBus, opts ...es.AggregateHandlerOption) es.CommandHandler {
	registry := es.NewEventRegistry()
	registry.Register(&TaskOpened{}, 1)
	registry.Register(&TaskCompleted{}, 1)
	registry.Register(&TaskReopened{}, 1)

	typ, name := es.GetTypeName(&Task{})
	return es.NewAggregateHandler(typ, name, store, bus, registry, opts...)
}

func TestHandleCommandOpensStream(t *testing.T) {
	store := memory.NewStore()
	handler := newTaskHandler(store, memory.NewBus())

	tenantID := es.NewTenantID()
	taskID := es.NewAggregateID()

	res, err := handler.HandleCommand(context.Background(), &OpenTask{
		BaseCommand: es.BaseCommand{TenantID: tenantID, AggregateID: taskID},
		Title:       "ship it",
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Committed) != 1 {
		t.Fatalf("got %d committed events, want 1", len(res.Committed))
	}
	evt := res.Committed[0]
	if evt.SequenceNumber != 1 {
		t.Errorf("got sequence %d, want 1", evt.SequenceNumber)
	}
	if evt.EventType != "TaskOpened" {
		t.Errorf("got event type %q, want %q", evt.EventType, "TaskOpened")
	}
	if evt.AggregateType != "Task" {
		t.Errorf("got aggregate type %q, want %q", evt.AggregateType, "Task")
	}
	if evt.TenantID != tenantID {
		t.Errorf("got tenant %s, want %s", evt.TenantID, tenantID)
	}
	if evt.EventID.IsZero() {
		t.Error("committed event has no id")
	}
}

func TestHandleCommandRehydrates(t *testing.T) {
	store := memory.NewStore()
	handler := newTaskHandler(store, memory.NewBus())

	ctx := context.Background()
	tenantID := es.NewTenantID()
	taskID := es.NewAggregateID()
	base := es.BaseCommand{TenantID: tenantID, AggregateID: taskID}

	if _, err := handler.HandleCommand(ctx, &OpenTask{BaseCommand: base, Title: "ship it"}); err != nil {
		t.Fatal(err)
	}

	res, err := handler.HandleCommand(ctx, &CompleteTask{BaseCommand: base})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Committed) != 1 || res.Committed[0].SequenceNumber != 2 {
		t.Fatalf("got %v, want one event at sequence 2", res.Committed)
	}
}

func TestHandleCommandNoOp(t *testing.T) {
	store := memory.NewStore()
	handler := newTaskHandler(store, memory.NewBus())

	ctx := context.Background()
	tenantID := es.NewTenantID()
	taskID := es.NewAggregateID()
	base := es.BaseCommand{TenantID: tenantID, AggregateID: taskID}

	if _, err := handler.HandleCommand(ctx, &OpenTask{BaseCommand: base, Title: "ship it"}); err != nil {
		t.Fatal(err)
	}
	if _, err := handler.HandleCommand(ctx, &CompleteTask{BaseCommand: base}); err != nil {
		t.Fatal(err)
	}

	// Completing a task that is already completed decides nothing.
	res, err := handler.HandleCommand(ctx, &CompleteTask{BaseCommand: base})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Committed) != 0 {
		t.Fatalf("got %d committed events, want none", len(res.Committed))
	}

	history, err := store.LoadStream(ctx, tenantID, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Errorf("stream grew to %d events, want 2", len(history))
	}
}

func TestHandleCommandRejectsIncompleteCommand(t *testing.T) {
	handler := newTaskHandler(memory.NewStore(), memory.NewBus())
	ctx := context.Background()

	_, err := handler.HandleCommand(ctx, &OpenTask{
		BaseCommand: es.BaseCommand{AggregateID: es.NewAggregateID()},
		Title:       "no tenant",
	})
	if !errors.Is(err, es.ErrValidation) {
		t.Errorf("missing tenant: got %v, want ErrValidation", err)
	}

	_, err = handler.HandleCommand(ctx, &OpenTask{
		BaseCommand: es.BaseCommand{TenantID: es.NewTenantID()},
		Title:       "no aggregate",
	})
	if !errors.Is(err, es.ErrValidation) {
		t.Errorf("missing aggregate: got %v, want ErrValidation", err)
	}
}

func TestHandleCommandActorTenant(t *testing.T) {
	handler := newTaskHandler(memory.NewStore(), memory.NewBus())

	tenantID := es.NewTenantID()
	base := es.BaseCommand{TenantID: tenantID, AggregateID: es.NewAggregateID()}

	foreign := es.WithActor(context.Background(), es.Actor{TenantID: es.NewTenantID()})
	if _, err := handler.HandleCommand(foreign, &OpenTask{BaseCommand: base, Title: "x"}); !errors.Is(err, es.ErrTenantIsolation) {
		t.Fatalf("got %v, want ErrTenantIsolation", err)
	}

	principalID := es.NewPrincipalID()
	own := es.WithActor(context.Background(), es.Actor{TenantID: tenantID, PrincipalID: principalID})
	res, err := handler.HandleCommand(own, &OpenTask{BaseCommand: base, Title: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Committed[0].Metadata["principal_id"]; got != principalID.String() {
		t.Errorf("got principal %q, want %q", got, principalID)
	}
}

func TestHandleCommandForeignStream(t *testing.T) {
	tenantID := es.NewTenantID()
	taskID := es.NewAggregateID()

	store := memory.NewStore(memory.WithEvents(es.Event{
		EventID:        es.NewEventID(),
		TenantID:       tenantID,
		AggregateID:    taskID,
		AggregateType:  "Invoice",
		SequenceNumber: 1,
		EventType:      "InvoiceIssued",
		EventVersion:   1,
		Payload:        json.RawMessage(`{}`),
	}))
	handler := newTaskHandler(store, memory.NewBus())

	_, err := handler.HandleCommand(context.Background(), &OpenTask{
		BaseCommand: es.BaseCommand{TenantID: tenantID, AggregateID: taskID},
		Title:       "x",
	})
	if !errors.Is(err, es.ErrTenantIsolation) {
		t.Fatalf("got %v, want ErrTenantIsolation", err)
	}
}

// racingStore sneaks a concurrent append in before the handler's own
// append lands, like a second dispatcher winning the race.
type racingStore struct {
	*memory.Store
	raced bool
}

func (s *racingStore) Append(ctx context.Context, events []es.UncommittedEvent, expected es.ExpectedVersion) ([]es.Event, error) {
	if !s.raced {
		s.raced = true
		rival, err := es.NewUncommittedEvent(events[0].TenantID, events[0].AggregateID, events[0].AggregateType, es.GetTimestamp(), &TaskOpened{Title: "rival"})
		if err != nil {
			return nil, err
		}
		if _, err := s.Store.Append(ctx, []es.UncommittedEvent{rival}, es.AnyVersion()); err != nil {
			return nil, err
		}
	}
	return s.Store.Append(ctx, events, expected)
}

func TestHandleCommandConcurrencyConflict(t *testing.T) {
	store := &racingStore{Store: memory.NewStore()}
	handler := newTaskHandler(store, memory.NewBus())

	_, err := handler.HandleCommand(context.Background(), &OpenTask{
		BaseCommand: es.BaseCommand{TenantID: es.NewTenantID(), AggregateID: es.NewAggregateID()},
		Title:       "ship it",
	})
	if !errors.Is(err, es.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestHandleCommandPublishesAfterCommit(t *testing.T) {
	bus := memory.NewBus()
	handler := newTaskHandler(memory.NewStore(), bus)

	sub, err := bus.Subscribe(context.Background(), es.SubscriptionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if _, err := handler.HandleCommand(context.Background(), &OpenTask{
		BaseCommand: es.BaseCommand{TenantID: es.NewTenantID(), AggregateID: es.NewAggregateID()},
		Title:       "ship it",
	}); err != nil {
		t.Fatal(err)
	}

	evt, ok := sub.TryRecv()
	if !ok {
		t.Fatal("expected a published event")
	}
	if evt.EventType != "TaskOpened" {
		t.Errorf("got %q, want %q", evt.EventType, "TaskOpened")
	}
}

// brokenFullLoad fails full stream loads so a dispatch can only succeed
// when a snapshot restore put the handler on the incremental path.
type brokenFullLoad struct {
	*memory.Store
}

func (s *brokenFullLoad) LoadStream(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID) ([]es.Event, error) {
	return nil, es.Backendf("full load should not happen")
}

func TestHandleCommandSnapshots(t *testing.T) {
	store := memory.NewStore()
	policy := es.SnapshotPolicy{EveryNEvents: 2}
	handler := newTaskHandler(store, memory.NewBus(), es.WithSnapshots(store, policy))

	ctx := context.Background()
	tenantID := es.NewTenantID()
	taskID := es.NewAggregateID()
	base := es.BaseCommand{TenantID: tenantID, AggregateID: taskID}

	if _, err := handler.HandleCommand(ctx, &OpenTask{BaseCommand: base, Title: "ship it"}); err != nil {
		t.Fatal(err)
	}
	if _, err := handler.HandleCommand(ctx, &CompleteTask{BaseCommand: base}); err != nil {
		t.Fatal(err)
	}

	snap, err := store.LoadSnapshot(ctx, tenantID, taskID)
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil {
		t.Fatal("expected a snapshot after crossing the policy boundary")
	}
	if snap.Version != 2 {
		t.Errorf("got snapshot version %d, want 2", snap.Version)
	}

	restored := newTaskHandler(&brokenFullLoad{Store: store}, memory.NewBus(), es.WithSnapshots(store, policy))
	res, err := restored.HandleCommand(ctx, &ReopenTask{BaseCommand: base})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Committed) != 1 || res.Committed[0].SequenceNumber != 3 {
		t.Fatalf("got %v, want one event at sequence 3", res.Committed)
	}
}
