package es

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// RunnerOption configures a ProjectionRunner.
type RunnerOption func(*ProjectionRunner)

// WithDeadLetters records undecodable events instead of dropping them.
func WithDeadLetters(store DeadLetterStore) RunnerOption {
	return func(r *ProjectionRunner) {
		r.deadLetters = store
	}
}

// WithUnitOfWork makes the read-model write and the cursor advance
// atomic.
func WithUnitOfWork(uow UnitOfWork) RunnerOption {
	return func(r *ProjectionRunner) {
		r.uow = uow
	}
}

// WithTenant pins the runner to one tenant. Events from any other tenant
// are rejected with ErrTenantIsolation.
func WithTenant(tenantID TenantID) RunnerOption {
	return func(r *ProjectionRunner) {
		r.tenant = &tenantID
	}
}

// Strict makes a sequence gap an error instead of triggering a backfill
// from the event store.
func Strict() RunnerOption {
	return func(r *ProjectionRunner) {
		r.strict = true
	}
}

// WithRunnerLogger overrides the runner's logger.
func WithRunnerLogger(logger zerolog.Logger) RunnerOption {
	return func(r *ProjectionRunner) {
		r.logger = logger
	}
}

// NewProjectionRunner wires a projection to its cursor store and event
// store. The runner is the only writer of the projection's cursors.
func NewProjectionRunner(projection Projection, registry EventRegistry, cursors CursorStore, store EventStore, opts ...RunnerOption) *ProjectionRunner {
	r := &ProjectionRunner{
		projection: projection,
		registry:   registry,
		cursors:    cursors,
		store:      store,
		uow:        NopUnitOfWork(),
		clock:      GetTimestamp,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProjectionRunner applies committed events to one projection, gated by a
// per-stream cursor: replays are no-ops, gaps are backfilled from the
// event store, and undecodable events are dead-lettered without moving
// the cursor.
type ProjectionRunner struct {
	projection  Projection
	registry    EventRegistry
	cursors     CursorStore
	store       EventStore
	deadLetters DeadLetterStore
	uow         UnitOfWork
	tenant      *TenantID
	strict      bool
	clock       Clock
	logger      zerolog.Logger
}

// HandleEvent processes one delivered event.
func (r *ProjectionRunner) HandleEvent(ctx context.Context, evt Event) error {
	if r.tenant != nil && *r.tenant != evt.TenantID {
		return TenantIsolationf("runner for tenant %s received event for tenant %s", *r.tenant, evt.TenantID)
	}

	name := r.projection.ProjectionName()
	cursor, err := r.cursors.Get(ctx, evt.TenantID, evt.AggregateID, name)
	if err != nil {
		return err
	}

	if evt.SequenceNumber <= cursor {
		return nil
	}

	if evt.SequenceNumber > cursor+1 {
		if r.strict || r.store == nil {
			return fmt.Errorf("%w: cursor at %d, event at %d for stream %s", ErrSequenceGap, cursor, evt.SequenceNumber, evt.AggregateID)
		}
		missed, err := r.store.LoadStreamFrom(ctx, evt.TenantID, evt.AggregateID, cursor)
		if err != nil {
			return err
		}
		for _, m := range missed {
			if m.SequenceNumber >= evt.SequenceNumber {
				break
			}
			if err := r.applyOne(ctx, m); err != nil {
				return err
			}
		}
	}

	return r.applyOne(ctx, evt)
}

func (r *ProjectionRunner) applyOne(ctx context.Context, evt Event) error {
	name := r.projection.ProjectionName()

	if !r.projection.Matcher()(evt) {
		return r.cursors.Set(ctx, evt.TenantID, evt.AggregateID, name, evt.SequenceNumber)
	}

	data, err := r.registry.Decode(evt.EventType, evt.EventVersion, evt.Payload)
	if err != nil {
		r.recordDeadLetter(ctx, evt, err)
		return fmt.Errorf("%w: %s: %v", ErrProjectionDeserialize, evt.String(), err)
	}

	return r.uow.Do(ctx, func(ctx context.Context) error {
		if err := r.projection.Apply(ctx, evt, data); err != nil {
			return err
		}
		return r.cursors.Set(ctx, evt.TenantID, evt.AggregateID, name, evt.SequenceNumber)
	})
}

func (r *ProjectionRunner) recordDeadLetter(ctx context.Context, evt Event, cause error) {
	if r.deadLetters == nil {
		return
	}
	letter := DeadLetter{
		ProjectionName: r.projection.ProjectionName(),
		Event:          evt,
		Reason:         cause.Error(),
		FailedAt:       r.clock(),
	}
	if err := r.deadLetters.Record(ctx, letter); err != nil {
		r.logger.Error().
			Err(err).
			Str("projection", letter.ProjectionName).
			Str("event", evt.String()).
			Msg("record dead letter failed")
	}
}

// Rebuild clears the tenant's read model and cursors, then replays the
// tenant's full history from the event store.
func (r *ProjectionRunner) Rebuild(ctx context.Context, tenantID TenantID) error {
	if r.tenant != nil && *r.tenant != tenantID {
		return TenantIsolationf("runner for tenant %s cannot rebuild tenant %s", *r.tenant, tenantID)
	}
	if r.store == nil {
		return Backendf("rebuild needs an event store")
	}

	name := r.projection.ProjectionName()
	if err := r.projection.Reset(ctx, tenantID); err != nil {
		return err
	}
	if err := r.cursors.Clear(ctx, tenantID, name); err != nil {
		return err
	}

	l := r.logger.With().
		Str("projection", name).
		Str("tenant_id", tenantID.String()).
		Logger()
	l.Info().Msg("rebuilding projection")

	var count int64
	err := r.store.LoadAllForTenant(ctx, tenantID, func(evt Event) error {
		if err := r.applyOne(ctx, evt); err != nil {
			if errors.Is(err, ErrProjectionDeserialize) {
				l.Warn().Str("event", evt.String()).Msg("skipping dead-lettered event during rebuild")
				return nil
			}
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	l.Info().Int64("events", count).Msg("projection rebuilt")
	return nil
}
