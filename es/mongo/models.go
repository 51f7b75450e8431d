package mongo

import "time"

// Collection names used by the store.
const (
	StreamsCollection   = "streams"
	EventsCollection    = "events"
	SnapshotsCollection = "snapshots"
)

// StreamDB tracks the head version of a stream so appends can CAS on it.
type StreamDB struct {
	TenantID    string `bson:"tenant_id"`
	AggregateID string `bson:"aggregate_id"`
	Type        string `bson:"type"`
	Version     int64  `bson:"version"`
}

// EventDB defines the structure of the events to be stored.
type EventDB struct {
	EventID        string            `bson:"event_id"`
	TenantID       string            `bson:"tenant_id"`
	AggregateID    string            `bson:"aggregate_id"`
	AggregateType  string            `bson:"aggregate_type"`
	SequenceNumber int64             `bson:"sequence_number"`
	EventType      string            `bson:"event_type"`
	EventVersion   int               `bson:"event_version"`
	OccurredAt     time.Time         `bson:"occurred_at"`
	Payload        []byte            `bson:"payload,omitempty"`
	Metadata       map[string]string `bson:"metadata,omitempty"`
}

// SnapshotDB defines the structure of the snapshot.
type SnapshotDB struct {
	TenantID      string    `bson:"tenant_id"`
	AggregateID   string    `bson:"aggregate_id"`
	AggregateType string    `bson:"aggregate_type"`
	Version       int64     `bson:"version"`
	State         []byte    `bson:"state,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
}
