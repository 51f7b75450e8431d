package es

import "encoding/json"

// Aggregate replays events against a single object and decides commands.
// Handle is pure: it inspects state and the command and returns the
// resulting event payloads without mutating the aggregate. Apply folds a
// payload into state and must accept any event the aggregate has ever
// produced.
type Aggregate interface {
	// Initialize the aggregate with its tenant, id and type name.
	Initialize(tenantID TenantID, id AggregateID, typeName string)

	// TenantID returns the owning tenant.
	TenantID() TenantID
	// AggregateID returns the aggregate's id.
	AggregateID() AggregateID
	// AggregateType returns the aggregate's type name.
	AggregateType() string

	// Version returns the version of the aggregate.
	Version() int64
	// IncrementVersion increments the version of the aggregate. It should
	// be called after an event has been successfully applied.
	IncrementVersion()

	// Handle decides a command against current state and returns the
	// payloads of the events it produces. No events means a no-op.
	Handle(cmd Command) ([]interface{}, error)

	// Apply folds an event payload into the aggregate's state.
	Apply(data interface{})
}

// SnapshotAggregate is an Aggregate whose state can be captured and
// restored, letting rehydration skip already-snapshotted events.
type SnapshotAggregate interface {
	Aggregate

	// MarshalState captures the aggregate's state.
	MarshalState() (json.RawMessage, error)
	// UnmarshalState restores the aggregate's state from a capture.
	UnmarshalState(state json.RawMessage) error
	// SetVersion forces the version after a snapshot restore.
	SetVersion(version int64)
}

// NewBaseAggregate creates a new base aggregate.
func NewBaseAggregate(tenantID TenantID, id AggregateID) *BaseAggregate {
	return &BaseAggregate{
		tenantID: tenantID,
		id:       id,
	}
}

// BaseAggregate carries the bookkeeping so domain aggregates stay small.
type BaseAggregate struct {
	tenantID TenantID
	id       AggregateID
	typeName string
	version  int64
}

// Initialize the aggregate with its tenant, id and type name.
func (a *BaseAggregate) Initialize(tenantID TenantID, id AggregateID, typeName string) {
	a.tenantID = tenantID
	a.id = id
	a.typeName = typeName
}

// TenantID returns the owning tenant.
func (a *BaseAggregate) TenantID() TenantID {
	return a.tenantID
}

// AggregateID returns the aggregate's id.
func (a *BaseAggregate) AggregateID() AggregateID {
	return a.id
}

// AggregateType returns the aggregate's type name.
func (a *BaseAggregate) AggregateType() string {
	return a.typeName
}

// Version returns the version of the aggregate.
func (a *BaseAggregate) Version() int64 {
	return a.version
}

// IncrementVersion increments the version of the aggregate. It should be
// called after an event has been successfully applied.
func (a *BaseAggregate) IncrementVersion() {
	a.version = a.version + 1
}

// SetVersion forces the version after a snapshot restore.
func (a *BaseAggregate) SetVersion(version int64) {
	a.version = version
}
