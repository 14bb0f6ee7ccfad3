package reconcile

import "github.com/orderdeck/orderdeck/order"

// Action is a fire-and-forget instruction dispatched to the consuming order
// store. The client never mutates the store directly; these two actions are
// the entire write surface.
type Action interface {
	action()
}

// UpsertOrder merges a partial patch into the order with the given id,
// creating it when unseen.
type UpsertOrder struct {
	ID      string      `json:"id"`
	Changes order.Patch `json:"changes"`
}

// ReplaceOrders swaps the entire collection for the snapshot contents. A
// replace is not a merge: ids absent from Orders disappear.
type ReplaceOrders struct {
	Orders     []order.Order `json:"orders"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	HasNext    bool          `json:"hasNext"`
	ReceivedAt string        `json:"receivedAt"`
}

func (UpsertOrder) action()   {}
func (ReplaceOrders) action() {}

// Sink receives dispatched actions. Implementations serialize their own
// writes; the client treats every Apply as fire-and-forget.
type Sink interface {
	Apply(Action)
}
