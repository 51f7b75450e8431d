package postgres

import (
	"context"
	"database/sql"
)

// Schema is the DDL for the event store and its supporting tables.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
    event_id        UUID        NOT NULL,
    tenant_id       UUID        NOT NULL,
    aggregate_id    UUID        NOT NULL,
    aggregate_type  TEXT        NOT NULL,
    sequence_number BIGINT      NOT NULL CHECK (sequence_number >= 1),
    event_type      TEXT        NOT NULL,
    event_version   INT         NOT NULL DEFAULT 1,
    occurred_at     TIMESTAMPTZ NOT NULL,
    payload         JSONB       NOT NULL,
    metadata        JSONB,
    PRIMARY KEY (event_id),
    UNIQUE (tenant_id, aggregate_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS idx_events_tenant_aggregate
    ON events (tenant_id, aggregate_id, sequence_number);
CREATE INDEX IF NOT EXISTS idx_events_tenant_occurred
    ON events (tenant_id, occurred_at);

CREATE OR REPLACE FUNCTION events_block_mutation() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'events are immutable';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS events_no_update ON events;
CREATE TRIGGER events_no_update
    BEFORE UPDATE OR DELETE ON events
    FOR EACH ROW EXECUTE FUNCTION events_block_mutation();

CREATE TABLE IF NOT EXISTS snapshots (
    tenant_id      UUID        NOT NULL,
    aggregate_id   UUID        NOT NULL,
    aggregate_type TEXT        NOT NULL,
    version        BIGINT      NOT NULL,
    state          JSONB       NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, aggregate_id)
);

CREATE TABLE IF NOT EXISTS projection_offsets (
    tenant_id       UUID   NOT NULL,
    aggregate_id    UUID   NOT NULL,
    projection_name TEXT   NOT NULL,
    last_sequence   BIGINT NOT NULL,
    PRIMARY KEY (tenant_id, aggregate_id, projection_name)
);

CREATE TABLE IF NOT EXISTS projection_dead_letters (
    id              BIGSERIAL   PRIMARY KEY,
    projection_name TEXT        NOT NULL,
    tenant_id       UUID        NOT NULL,
    aggregate_id    UUID        NOT NULL,
    event_id        UUID        NOT NULL,
    sequence_number BIGINT      NOT NULL,
    event_type      TEXT        NOT NULL,
    payload         JSONB       NOT NULL,
    reason          TEXT        NOT NULL,
    failed_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS inventory_stock (
    tenant_id UUID   NOT NULL,
    item_id   UUID   NOT NULL,
    name      TEXT   NOT NULL,
    quantity  BIGINT NOT NULL,
    PRIMARY KEY (tenant_id, item_id)
);
`

// EnsureSchema creates the tables, indexes and triggers if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
