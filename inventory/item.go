package inventory

import (
	"encoding/json"
	"strings"

	"github.com/omnierp/go-erp/es"
)

// Item is a stock-keeping unit. Stock can never go negative; every
// movement is an event.
type Item struct {
	es.BaseAggregate

	Name     string
	Quantity int64
	Created  bool
}

// Handle decides a command against the item's current state.
func (a *Item) Handle(cmd es.Command) ([]interface{}, error) {
	switch c := cmd.(type) {
	case *CreateItem:
		return a.handleCreate(c)
	case *AdjustStock:
		return a.handleAdjust(c)
	case *RenameItem:
		return a.handleRename(c)
	default:
		return nil, es.Validationf("item cannot handle %T", cmd)
	}
}

func (a *Item) handleCreate(cmd *CreateItem) ([]interface{}, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, es.Validationf("item name is required")
	}
	if cmd.Quantity < 0 {
		return nil, es.Validationf("opening quantity cannot be negative")
	}
	if a.Created {
		return nil, es.Invariantf("item %s already exists", a.AggregateID())
	}

	return []interface{}{
		&ItemCreated{Name: name, Quantity: cmd.Quantity},
	}, nil
}

func (a *Item) handleAdjust(cmd *AdjustStock) ([]interface{}, error) {
	if !a.Created {
		return nil, es.Invariantf("item %s does not exist", a.AggregateID())
	}
	if cmd.Delta == 0 {
		return nil, nil
	}
	if a.Quantity+cmd.Delta < 0 {
		return nil, es.Invariantf("stock for %s would go negative: %d%+d", a.AggregateID(), a.Quantity, cmd.Delta)
	}

	return []interface{}{
		&StockAdjusted{Delta: cmd.Delta},
	}, nil
}

func (a *Item) handleRename(cmd *RenameItem) ([]interface{}, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, es.Validationf("item name is required")
	}
	if !a.Created {
		return nil, es.Invariantf("item %s does not exist", a.AggregateID())
	}
	if name == a.Name {
		return nil, nil
	}

	return []interface{}{
		&ItemRenamed{Name: name},
	}, nil
}

// Apply folds an event payload into the item's state.
func (a *Item) Apply(data interface{}) {
	switch e := data.(type) {
	case *ItemCreated:
		a.Name = e.Name
		a.Quantity = e.Quantity
		a.Created = true
	case *StockAdjusted:
		a.Quantity += e.Delta
	case *ItemRenamed:
		a.Name = e.Name
	}
}

type itemState struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Created  bool   `json:"created"`
}

// MarshalState captures the item's state for a snapshot.
func (a *Item) MarshalState() (json.RawMessage, error) {
	return json.Marshal(itemState{
		Name:     a.Name,
		Quantity: a.Quantity,
		Created:  a.Created,
	})
}

// UnmarshalState restores the item's state from a snapshot.
func (a *Item) UnmarshalState(state json.RawMessage) error {
	var s itemState
	if err := json.Unmarshal(state, &s); err != nil {
		return err
	}
	a.Name = s.Name
	a.Quantity = s.Quantity
	a.Created = s.Created
	return nil
}
