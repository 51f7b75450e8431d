package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/omnierp/go-erp/es"
)

// uniqueViolation is the Postgres error code raised when two appends race
// for the same (tenant_id, aggregate_id, sequence_number).
const uniqueViolation = "23505"

// StoreOption configures the Postgres store.
type StoreOption func(*Store)

// WithLogger overrides the store's logger.
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Postgres-backed event and snapshot store.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store is a Postgres es.EventStore and es.SnapshotStore. Appends run in
// a transaction with the version precondition checked against MAX
// sequence; the unique index backstops racing appends.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

func (s *Store) Append(ctx context.Context, events []es.UncommittedEvent, expected es.ExpectedVersion) ([]es.Event, error) {
	if len(events) == 0 {
		return nil, es.Validationf("nothing to append")
	}

	first := events[0]
	if first.TenantID.IsZero() {
		return nil, es.Validationf("append is missing a tenant id")
	}
	for _, evt := range events[1:] {
		if evt.TenantID != first.TenantID || evt.AggregateID != first.AggregateID || evt.AggregateType != first.AggregateType {
			return nil, es.Validationf("append spans more than one stream")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, es.BackendError(errors.Wrap(err, "begin append"))
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	var streamType sql.NullString
	row := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(sequence_number), 0), MIN(aggregate_type)
FROM events
WHERE tenant_id = $1 AND aggregate_id = $2`,
		first.TenantID, first.AggregateID)
	if err := row.Scan(&current, &streamType); err != nil {
		return nil, es.BackendError(errors.Wrap(err, "read stream version"))
	}

	if streamType.Valid && streamType.String != first.AggregateType {
		return nil, es.TenantIsolationf("stream %s holds %s events, want %s", first.AggregateID, streamType.String, first.AggregateType)
	}
	if !expected.Matches(current) {
		return nil, es.Conflictf("stream %s is at version %d, expected %s", first.AggregateID, current, expected)
	}

	committed := make([]es.Event, 0, len(events))
	for i, evt := range events {
		stored := es.Event{
			EventID:        es.NewEventID(),
			TenantID:       evt.TenantID,
			AggregateID:    evt.AggregateID,
			AggregateType:  evt.AggregateType,
			SequenceNumber: current + int64(i) + 1,
			EventType:      evt.EventType,
			EventVersion:   evt.EventVersion,
			OccurredAt:     evt.OccurredAt,
			Payload:        evt.Payload,
			Metadata:       evt.Metadata,
		}

		metadata, err := marshalMetadata(stored.Metadata)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO events (event_id, tenant_id, aggregate_id, aggregate_type, sequence_number, event_type, event_version, occurred_at, payload, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			stored.EventID, stored.TenantID, stored.AggregateID, stored.AggregateType,
			stored.SequenceNumber, stored.EventType, stored.EventVersion,
			stored.OccurredAt, []byte(stored.Payload), metadata)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
				return nil, es.Conflictf("stream %s lost an append race at sequence %d", stored.AggregateID, stored.SequenceNumber)
			}
			return nil, es.BackendError(errors.Wrap(err, "insert event"))
		}

		committed = append(committed, stored)
	}

	if err := tx.Commit(); err != nil {
		return nil, es.BackendError(errors.Wrap(err, "commit append"))
	}
	return committed, nil
}

func (s *Store) LoadStream(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID) ([]es.Event, error) {
	return s.LoadStreamFrom(ctx, tenantID, aggregateID, 0)
}

func (s *Store) LoadStreamFrom(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID, after int64) ([]es.Event, error) {
	rows, err := QuerierFrom(ctx, s.db).QueryContext(ctx, `
SELECT event_id, tenant_id, aggregate_id, aggregate_type, sequence_number, event_type, event_version, occurred_at, payload, metadata
FROM events
WHERE tenant_id = $1 AND aggregate_id = $2 AND sequence_number > $3
ORDER BY sequence_number`,
		tenantID, aggregateID, after)
	if err != nil {
		return nil, es.BackendError(errors.Wrap(err, "load stream"))
	}
	defer func() { _ = rows.Close() }()

	var out []es.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, es.BackendError(errors.Wrap(err, "load stream"))
	}
	return out, nil
}

func (s *Store) LoadAllForTenant(ctx context.Context, tenantID es.TenantID, fn func(es.Event) error) error {
	rows, err := QuerierFrom(ctx, s.db).QueryContext(ctx, `
SELECT event_id, tenant_id, aggregate_id, aggregate_type, sequence_number, event_type, event_version, occurred_at, payload, metadata
FROM events
WHERE tenant_id = $1
ORDER BY aggregate_id, sequence_number`,
		tenantID)
	if err != nil {
		return es.BackendError(errors.Wrap(err, "load tenant events"))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return es.BackendError(errors.Wrap(err, "load tenant events"))
	}
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshot es.Snapshot) error {
	_, err := QuerierFrom(ctx, s.db).ExecContext(ctx, `
INSERT INTO snapshots (tenant_id, aggregate_id, aggregate_type, version, state, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id, aggregate_id) DO UPDATE
SET aggregate_type = EXCLUDED.aggregate_type,
    version = EXCLUDED.version,
    state = EXCLUDED.state,
    created_at = EXCLUDED.created_at
WHERE EXCLUDED.version >= snapshots.version`,
		snapshot.TenantID, snapshot.AggregateID, snapshot.AggregateType,
		snapshot.Version, []byte(snapshot.State), snapshot.CreatedAt)
	if err != nil {
		return es.BackendError(errors.Wrap(err, "save snapshot"))
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID) (*es.Snapshot, error) {
	var snap es.Snapshot
	var state []byte
	row := QuerierFrom(ctx, s.db).QueryRowContext(ctx, `
SELECT tenant_id, aggregate_id, aggregate_type, version, state, created_at
FROM snapshots
WHERE tenant_id = $1 AND aggregate_id = $2`,
		tenantID, aggregateID)
	err := row.Scan(&snap.TenantID, &snap.AggregateID, &snap.AggregateType, &snap.Version, &state, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, es.BackendError(errors.Wrap(err, "load snapshot"))
	}
	snap.State = state
	return &snap, nil
}

// Close the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanEvent(rows *sql.Rows) (es.Event, error) {
	var evt es.Event
	var payload, metadata []byte
	if err := rows.Scan(
		&evt.EventID,
		&evt.TenantID,
		&evt.AggregateID,
		&evt.AggregateType,
		&evt.SequenceNumber,
		&evt.EventType,
		&evt.EventVersion,
		&evt.OccurredAt,
		&payload,
		&metadata,
	); err != nil {
		return es.Event{}, es.BackendError(errors.Wrap(err, "scan event"))
	}
	evt.Payload = payload
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &evt.Metadata); err != nil {
			return es.Event{}, es.BackendError(errors.Wrap(err, "decode event metadata"))
		}
	}
	return evt, nil
}

func marshalMetadata(metadata map[string]string) (interface{}, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, es.BackendError(errors.Wrap(err, "encode event metadata"))
	}
	return raw, nil
}
