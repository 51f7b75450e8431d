package inventory

import (
	"context"

	"github.com/omnierp/go-erp/es"
)

// StockProjectionName keys the projection's cursors and dead letters.
const StockProjectionName = "inventory_stock"

// StockRow is one item's current stock level.
type StockRow struct {
	ItemID   es.AggregateID
	Name     string
	Quantity int64
}

// StockStore persists the stock read model.
type StockStore interface {
	Create(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID, name string, quantity int64) error
	AdjustQuantity(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID, delta int64) error
	Rename(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID, name string) error
	Get(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID) (*StockRow, error)
	DeleteForTenant(ctx context.Context, tenantID es.TenantID) error
}

// NewStockProjection derives per-item stock levels from item events.
func NewStockProjection(store StockStore) *StockProjection {
	return &StockProjection{store: store}
}

// StockProjection is the stock-on-hand read model.
type StockProjection struct {
	store StockStore
}

func (p *StockProjection) ProjectionName() string {
	return StockProjectionName
}

func (p *StockProjection) Matcher() es.EventMatcher {
	return es.MatchAnyEventOf(Events()...)
}

func (p *StockProjection) Apply(ctx context.Context, evt es.Event, data interface{}) error {
	itemID := evt.AggregateID

	switch e := data.(type) {
	case *ItemCreated:
		return p.store.Create(ctx, evt.TenantID, itemID, e.Name, e.Quantity)
	case *StockAdjusted:
		return p.store.AdjustQuantity(ctx, evt.TenantID, itemID, e.Delta)
	case *ItemRenamed:
		return p.store.Rename(ctx, evt.TenantID, itemID, e.Name)
	}
	return nil
}

func (p *StockProjection) Reset(ctx context.Context, tenantID es.TenantID) error {
	return p.store.DeleteForTenant(ctx, tenantID)
}
