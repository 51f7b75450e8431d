package inventory

// ItemCreated records a new item and its opening stock.
type ItemCreated struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

// StockAdjusted records a signed stock movement.
type StockAdjusted struct {
	Delta int64 `json:"delta"`
}

// ItemRenamed records a name change.
type ItemRenamed struct {
	Name string `json:"name"`
}

// Events lists every payload type the item aggregate produces, in the
// shape the registry and wiring take.
func Events() []interface{} {
	return []interface{}{
		&ItemCreated{},
		&StockAdjusted{},
		&ItemRenamed{},
	}
}
