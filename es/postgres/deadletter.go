package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/omnierp/go-erp/es"
)

// NewDeadLetterStore creates a Postgres es.DeadLetterStore.
func NewDeadLetterStore(db *sql.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

// DeadLetterStore keeps failed events in the projection_dead_letters
// table for inspection and manual replay.
type DeadLetterStore struct {
	db *sql.DB
}

func (s *DeadLetterStore) Record(ctx context.Context, letter es.DeadLetter) error {
	_, err := QuerierFrom(ctx, s.db).ExecContext(ctx, `
INSERT INTO projection_dead_letters (projection_name, tenant_id, aggregate_id, event_id, sequence_number, event_type, payload, reason, failed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		letter.ProjectionName,
		letter.Event.TenantID,
		letter.Event.AggregateID,
		letter.Event.EventID,
		letter.Event.SequenceNumber,
		letter.Event.EventType,
		[]byte(letter.Event.Payload),
		letter.Reason,
		letter.FailedAt)
	if err != nil {
		return es.BackendError(errors.Wrap(err, "record dead letter"))
	}
	return nil
}
