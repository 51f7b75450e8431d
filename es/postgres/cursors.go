package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/omnierp/go-erp/es"
)

// NewCursorStore creates a Postgres es.CursorStore. It honours a
// transaction carried on the context so cursor advances commit with the
// read-model writes.
func NewCursorStore(db *sql.DB) *CursorStore {
	return &CursorStore{db: db}
}

// CursorStore keeps projection cursors in the projection_offsets table.
type CursorStore struct {
	db *sql.DB
}

func (s *CursorStore) Get(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID, projection string) (int64, error) {
	var last int64
	row := QuerierFrom(ctx, s.db).QueryRowContext(ctx, `
SELECT last_sequence
FROM projection_offsets
WHERE tenant_id = $1 AND aggregate_id = $2 AND projection_name = $3`,
		tenantID, aggregateID, projection)
	err := row.Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, es.BackendError(errors.Wrap(err, "read cursor"))
	}
	return last, nil
}

func (s *CursorStore) Set(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID, projection string, sequenceNumber int64) error {
	_, err := QuerierFrom(ctx, s.db).ExecContext(ctx, `
INSERT INTO projection_offsets (tenant_id, aggregate_id, projection_name, last_sequence)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, aggregate_id, projection_name) DO UPDATE
SET last_sequence = EXCLUDED.last_sequence`,
		tenantID, aggregateID, projection, sequenceNumber)
	if err != nil {
		return es.BackendError(errors.Wrap(err, "write cursor"))
	}
	return nil
}

func (s *CursorStore) Clear(ctx context.Context, tenantID es.TenantID, projection string) error {
	_, err := QuerierFrom(ctx, s.db).ExecContext(ctx, `
DELETE FROM projection_offsets
WHERE tenant_id = $1 AND projection_name = $2`,
		tenantID, projection)
	if err != nil {
		return es.BackendError(errors.Wrap(err, "clear cursors"))
	}
	return nil
}
