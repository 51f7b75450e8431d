package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is a stored, immutable fact. SequenceNumber is per-stream,
// starts at 1 and has no gaps.
type Event struct {
	EventID        EventID           `json:"event_id" bson:"event_id"`
	TenantID       TenantID          `json:"tenant_id" bson:"tenant_id"`
	AggregateID    AggregateID       `json:"aggregate_id" bson:"aggregate_id"`
	AggregateType  string            `json:"aggregate_type" bson:"aggregate_type"`
	SequenceNumber int64             `json:"sequence_number" bson:"sequence_number"`
	EventType      string            `json:"event_type" bson:"event_type"`
	EventVersion   int               `json:"event_version" bson:"event_version"`
	OccurredAt     time.Time         `json:"occurred_at" bson:"occurred_at"`
	Payload        json.RawMessage   `json:"payload" bson:"payload"`
	Metadata       map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// String implements fmt.Stringer as "<event type>@<sequence number>".
func (e Event) String() string {
	return fmt.Sprintf("%s@%d", e.EventType, e.SequenceNumber)
}

// StreamKey returns the tenant-scoped stream identity of the event.
func (e Event) StreamKey() string {
	return e.TenantID.String() + "." + e.AggregateID.String()
}

// UncommittedEvent is a fact produced by an aggregate that has not been
// appended yet. The store assigns EventID and SequenceNumber on commit.
type UncommittedEvent struct {
	TenantID      TenantID
	AggregateID   AggregateID
	AggregateType string
	EventType     string
	EventVersion  int
	OccurredAt    time.Time
	Payload       json.RawMessage
	Metadata      map[string]string
}

// EventVersioned lets a payload type declare its schema version.
// Payloads without it are version 1.
type EventVersioned interface {
	EventVersion() int
}

// EventVersionOf returns the payload's declared schema version.
func EventVersionOf(data interface{}) int {
	if v, ok := data.(EventVersioned); ok {
		return v.EventVersion()
	}
	return 1
}

// NewUncommittedEvent builds an uncommitted event from a payload value.
// The event type is the payload's type name.
func NewUncommittedEvent(tenantID TenantID, aggregateID AggregateID, aggregateType string, occurredAt time.Time, data interface{}) (UncommittedEvent, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return UncommittedEvent{}, Backendf("marshal event payload: %v", err)
	}

	_, typeName := GetTypeName(data)

	return UncommittedEvent{
		TenantID:      tenantID,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     typeName,
		EventVersion:  EventVersionOf(data),
		OccurredAt:    occurredAt,
		Payload:       payload,
	}, nil
}

// Snapshot is a point-in-time capture of an aggregate's state.
type Snapshot struct {
	TenantID      TenantID        `json:"tenant_id" bson:"tenant_id"`
	AggregateID   AggregateID     `json:"aggregate_id" bson:"aggregate_id"`
	AggregateType string          `json:"aggregate_type" bson:"aggregate_type"`
	Version       int64           `json:"version" bson:"version"`
	State         json.RawMessage `json:"state" bson:"state"`
	CreatedAt     time.Time       `json:"created_at" bson:"created_at"`
}

// NewSnapshot captures the state of a snapshot-capable aggregate.
func NewSnapshot(aggregate SnapshotAggregate, at time.Time) (Snapshot, error) {
	state, err := aggregate.MarshalState()
	if err != nil {
		return Snapshot{}, Backendf("marshal aggregate state: %v", err)
	}
	return Snapshot{
		TenantID:      aggregate.TenantID(),
		AggregateID:   aggregate.AggregateID(),
		AggregateType: aggregate.AggregateType(),
		Version:       aggregate.Version(),
		State:         state,
		CreatedAt:     at,
	}, nil
}
