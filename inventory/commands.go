package inventory

import "github.com/omnierp/go-erp/es"

// CreateItem creates an item with an opening stock level.
type CreateItem struct {
	es.BaseCommand

	Name     string
	Quantity int64
}

// AdjustStock moves an item's stock level by a signed delta.
type AdjustStock struct {
	es.BaseCommand

	Delta int64
}

// RenameItem changes an item's display name.
type RenameItem struct {
	es.BaseCommand

	Name string
}
