package es

import "context"

// EventStore is in charge of appending and loading events from a data
// store. Streams are scoped by tenant and aggregate; the store assigns
// contiguous sequence numbers starting at 1 and never mutates a stored
// event.
type EventStore interface {
	// Append atomically appends the events to a single stream. All events
	// must share the same tenant, aggregate and aggregate type. The
	// expected version is checked against the stream's current version;
	// a mismatch returns ErrConflict and nothing is written. The returned
	// events carry their assigned ids and sequence numbers.
	Append(ctx context.Context, events []UncommittedEvent, expected ExpectedVersion) ([]Event, error)

	// LoadStream returns the full stream in sequence order. A missing
	// stream is an empty slice, not an error.
	LoadStream(ctx context.Context, tenantID TenantID, aggregateID AggregateID) ([]Event, error)

	// LoadStreamFrom returns the stream's events with sequence numbers
	// strictly greater than after, in sequence order.
	LoadStreamFrom(ctx context.Context, tenantID TenantID, aggregateID AggregateID, after int64) ([]Event, error)

	// LoadAllForTenant streams every event of the tenant ordered by
	// (aggregate_id, sequence_number), calling fn for each. A non-nil
	// error from fn stops the scan and is returned.
	LoadAllForTenant(ctx context.Context, tenantID TenantID, fn func(Event) error) error

	// Close the underlying connection.
	Close() error
}

// SnapshotStore persists aggregate snapshots. Snapshots are an
// optimization only; losing one never loses facts.
type SnapshotStore interface {
	// SaveSnapshot stores the snapshot, replacing any older one for the
	// same aggregate.
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error

	// LoadSnapshot returns the latest snapshot for the aggregate, or nil
	// when none exists.
	LoadSnapshot(ctx context.Context, tenantID TenantID, aggregateID AggregateID) (*Snapshot, error)

	// Close the underlying connection.
	Close() error
}

// SnapshotPolicy decides when the dispatcher captures a snapshot.
type SnapshotPolicy struct {
	// EveryNEvents captures a snapshot whenever the aggregate version
	// crosses a multiple of N. Zero disables snapshotting.
	EveryNEvents int64
}

// ShouldSnapshot reports whether a commit moving the aggregate from
// fromVersion to toVersion crosses a snapshot boundary.
func (p SnapshotPolicy) ShouldSnapshot(fromVersion, toVersion int64) bool {
	if p.EveryNEvents <= 0 {
		return false
	}
	return toVersion/p.EveryNEvents > fromVersion/p.EveryNEvents
}
