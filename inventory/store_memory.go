package inventory

import (
	"context"
	"sync"

	"github.com/omnierp/go-erp/es"
)

// NewMemoryStockStore creates an in-memory StockStore for tests and
// local runs.
func NewMemoryStockStore() *MemoryStockStore {
	return &MemoryStockStore{
		rows: make(map[es.TenantID]map[es.AggregateID]*StockRow),
	}
}

// MemoryStockStore keeps stock rows in a map keyed by tenant.
type MemoryStockStore struct {
	mu   sync.RWMutex
	rows map[es.TenantID]map[es.AggregateID]*StockRow
}

func (s *MemoryStockStore) Create(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID, name string, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.rows[tenantID]
	if !ok {
		tenant = make(map[es.AggregateID]*StockRow)
		s.rows[tenantID] = tenant
	}
	tenant[itemID] = &StockRow{ItemID: itemID, Name: name, Quantity: quantity}
	return nil
}

func (s *MemoryStockStore) AdjustQuantity(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[tenantID][itemID]
	if !ok {
		return es.Backendf("stock row for %s is missing", itemID)
	}
	row.Quantity += delta
	return nil
}

func (s *MemoryStockStore) Rename(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[tenantID][itemID]
	if !ok {
		return es.Backendf("stock row for %s is missing", itemID)
	}
	row.Name = name
	return nil
}

func (s *MemoryStockStore) Get(ctx context.Context, tenantID es.TenantID, itemID es.AggregateID) (*StockRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[tenantID][itemID]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (s *MemoryStockStore) DeleteForTenant(ctx context.Context, tenantID es.TenantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rows, tenantID)
	return nil
}
