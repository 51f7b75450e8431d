package es

import (
	"context"
	"reflect"

	"github.com/rs/zerolog"
)

// DispatchResult reports what a dispatched command committed.
// Committed is empty when the aggregate decided the command is a no-op.
type DispatchResult struct {
	TenantID    TenantID
	AggregateID AggregateID
	Committed   []Event
}

// CommandHandler for handling commands.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command) (*DispatchResult, error)
}

// AggregateHandlerOption configures an aggregate command handler.
type AggregateHandlerOption func(*aggregateHandler)

// WithSnapshots enables snapshot capture and restore for aggregates that
// implement SnapshotAggregate.
func WithSnapshots(store SnapshotStore, policy SnapshotPolicy) AggregateHandlerOption {
	return func(h *aggregateHandler) {
		h.snapshots = store
		h.policy = policy
	}
}

// WithClock overrides the timestamp source.
func WithClock(clock Clock) AggregateHandlerOption {
	return func(h *aggregateHandler) {
		h.clock = clock
	}
}

// WithLogger overrides the handler's logger.
func WithLogger(logger zerolog.Logger) AggregateHandlerOption {
	return func(h *aggregateHandler) {
		h.logger = logger
	}
}

// NewAggregateHandler builds the command pipeline for one aggregate type:
// rehydrate, decide, append with an exact version precondition, then
// publish. Publish failures are logged and never undo the commit.
func NewAggregateHandler(aggregateType reflect.Type, aggregateName string, store EventStore, bus EventBus, registry EventRegistry, opts ...AggregateHandlerOption) CommandHandler {
	h := &aggregateHandler{
		aggregateType: aggregateType,
		aggregateName: aggregateName,
		store:         store,
		bus:           bus,
		registry:      registry,
		clock:         GetTimestamp,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type aggregateHandler struct {
	aggregateName string
	aggregateType reflect.Type
	registry      EventRegistry
	store         EventStore
	bus           EventBus
	snapshots     SnapshotStore
	policy        SnapshotPolicy
	clock         Clock
	logger        zerolog.Logger
}

func (h *aggregateHandler) HandleCommand(ctx context.Context, cmd Command) (*DispatchResult, error) {
	tenantID := cmd.CommandTenantID()
	aggregateID := cmd.TargetAggregateID()

	if tenantID.IsZero() {
		return nil, Validationf("command is missing a tenant id")
	}
	if aggregateID.IsZero() {
		return nil, Validationf("command is missing an aggregate id")
	}
	if actor, ok := ActorFrom(ctx); ok && actor.TenantID != tenantID {
		return nil, TenantIsolationf("actor tenant %s cannot act on tenant %s", actor.TenantID, tenantID)
	}

	l := h.logger.With().
		Str("aggregate_type", h.aggregateName).
		Str("aggregate_id", aggregateID.String()).
		Str("tenant_id", tenantID.String()).
		Logger()

	aggregate := reflect.
		New(h.aggregateType).
		Interface().(Aggregate)
	aggregate.Initialize(tenantID, aggregateID, h.aggregateName)

	if err := h.restoreSnapshot(ctx, aggregate); err != nil {
		return nil, err
	}

	var history []Event
	var err error
	if aggregate.Version() > 0 {
		history, err = h.store.LoadStreamFrom(ctx, tenantID, aggregateID, aggregate.Version())
	} else {
		history, err = h.store.LoadStream(ctx, tenantID, aggregateID)
	}
	if err != nil {
		return nil, err
	}
	if err := h.applyHistory(aggregate, history); err != nil {
		return nil, err
	}

	originalVersion := aggregate.Version()

	payloads, err := aggregate.Handle(cmd)
	if err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return &DispatchResult{TenantID: tenantID, AggregateID: aggregateID}, nil
	}

	var metadata map[string]string
	if actor, ok := ActorFrom(ctx); ok && !actor.PrincipalID.IsZero() {
		metadata = map[string]string{"principal_id": actor.PrincipalID.String()}
	}

	uncommitted := make([]UncommittedEvent, 0, len(payloads))
	for _, data := range payloads {
		evt, err := NewUncommittedEvent(tenantID, aggregateID, h.aggregateName, h.clock(), data)
		if err != nil {
			return nil, err
		}
		evt.Metadata = metadata
		uncommitted = append(uncommitted, evt)
	}

	for _, data := range payloads {
		aggregate.Apply(data)
		aggregate.IncrementVersion()
	}

	committed, err := h.store.Append(ctx, uncommitted, ExactVersion(originalVersion))
	if err != nil {
		return nil, err
	}

	h.saveSnapshot(ctx, l, aggregate, originalVersion)

	for _, evt := range committed {
		if err := h.bus.Publish(ctx, evt); err != nil {
			l.Error().
				Err(err).
				Str("event_type", evt.EventType).
				Int64("sequence_number", evt.SequenceNumber).
				Msg("publish after commit failed")
		}
	}

	return &DispatchResult{
		TenantID:    tenantID,
		AggregateID: aggregateID,
		Committed:   committed,
	}, nil
}

// applyHistory folds stored events into the aggregate, verifying that the
// stream belongs to the command's tenant, that its aggregate type never
// changes, and that sequence numbers are contiguous.
func (h *aggregateHandler) applyHistory(aggregate Aggregate, history []Event) error {
	for _, evt := range history {
		if evt.TenantID != aggregate.TenantID() {
			return TenantIsolationf("stream %s holds events for tenant %s", evt.AggregateID, evt.TenantID)
		}
		if evt.AggregateType != h.aggregateName {
			return TenantIsolationf("stream %s holds %s events, want %s", evt.AggregateID, evt.AggregateType, h.aggregateName)
		}
		if evt.SequenceNumber != aggregate.Version()+1 {
			return TenantIsolationf("stream %s is corrupted: event %d follows version %d", evt.AggregateID, evt.SequenceNumber, aggregate.Version())
		}

		data, err := h.registry.Decode(evt.EventType, evt.EventVersion, evt.Payload)
		if err != nil {
			return Backendf("decode %s: %v", evt.String(), err)
		}
		aggregate.Apply(data)
		aggregate.IncrementVersion()
	}
	return nil
}

func (h *aggregateHandler) restoreSnapshot(ctx context.Context, aggregate Aggregate) error {
	if h.snapshots == nil {
		return nil
	}
	sa, ok := aggregate.(SnapshotAggregate)
	if !ok {
		return nil
	}

	snap, err := h.snapshots.LoadSnapshot(ctx, aggregate.TenantID(), aggregate.AggregateID())
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	if err := sa.UnmarshalState(snap.State); err != nil {
		return Backendf("restore snapshot at version %d: %v", snap.Version, err)
	}
	sa.SetVersion(snap.Version)
	return nil
}

// saveSnapshot captures a snapshot when the commit crosses a policy
// boundary. Failures are logged; the commit already happened.
func (h *aggregateHandler) saveSnapshot(ctx context.Context, l zerolog.Logger, aggregate Aggregate, fromVersion int64) {
	if h.snapshots == nil || !h.policy.ShouldSnapshot(fromVersion, aggregate.Version()) {
		return
	}
	sa, ok := aggregate.(SnapshotAggregate)
	if !ok {
		return
	}

	snap, err := NewSnapshot(sa, h.clock())
	if err != nil {
		l.Error().Err(err).Msg("capture snapshot failed")
		return
	}
	if err := h.snapshots.SaveSnapshot(ctx, snap); err != nil {
		l.Error().Err(err).Int64("version", snap.Version).Msg("save snapshot failed")
	}
}
