package inventory

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/omnierp/go-erp/es"
	"github.com/omnierp/go-erp/es/postgres"
)

// NewPostgresStockStore creates a StockStore on the inventory_stock
// table. It honours a transaction carried on the context so read-model
// writes commit together with the projection cursor.
func NewPostgresStockStore(db *sql.DB) *PostgresStockStore {
	return &PostgresStockStore{db: db}
}

// PostgresStockStore keeps stock rows in Postgres.
type PostgresStockStore struct {
	db *sql.DB
}

func (s *PostgresStockStore) Create(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID, name string, quantity int64) error {
	_, err := postgres.QuerierFrom(ctx, s.db).ExecContext(ctx, `
INSERT INTO inventory_stock (tenant_id, item_id, name, quantity)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, item_id) DO UPDATE
SET name = EXCLUDED.name, quantity = EXCLUDED.quantity`,
		tenantID, itemID, name, quantity)
	if err != nil {
		return es.BackendError(errors.Wrap(err, "create stock row"))
	}
	return nil
}

func (s *PostgresStockStore) AdjustQuantity(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID, delta int64) error {
	res, err := postgres.QuerierFrom(ctx, s.db).ExecContext(ctx, `
UPDATE inventory_stock
SET quantity = quantity + $3
WHERE tenant_id = $1 AND item_id = $2`,
		tenantID, itemID, delta)
	if err != nil {
		return es.BackendError(errors.Wrap(err, "adjust stock row"))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return es.Backendf("stock row for %s is missing", itemID)
	}
	return nil
}

func (s *PostgresStockStore) Rename(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID, name string) error {
	res, err := postgres.QuerierFrom(ctx, s.db).ExecContext(ctx, `
UPDATE inventory_stock
SET name = $3
WHERE tenant_id = $1 AND item_id = $2`,
		tenantID, itemID, name)
	if err != nil {
		return es.BackendError(errors.Wrap(err, "rename stock row"))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return es.Backendf("stock row for %s is missing", itemID)
	}
	return nil
}

func (s *PostgresStockStore) Get(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID) (*StockRow, error) {
	row := postgres.QuerierFrom(ctx, s.db).QueryRowContext(ctx, `
SELECT item_id, name, quantity
FROM inventory_stock
WHERE tenant_id = $1 AND item_id = $2`,
		tenantID, itemID)

	var out StockRow
	err := row.Scan(&out.ItemID, &out.Name, &out.Quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, es.BackendError(errors.Wrap(err, "read stock row"))
	}
	return &out, nil
}

func (s *PostgresStockStore) DeleteForTenant(ctx context.Context, tenantID es.TenantID) error {
	_, err := postgres.QuerierFrom(ctx, s.db).ExecContext(ctx, `
DELETE FROM inventory_stock
WHERE tenant_id = $1`,
		tenantID)
	if err != nil {
		return es.BackendError(errors.Wrap(err, "clear stock rows"))
	}
	return nil
}
