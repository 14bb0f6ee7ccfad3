package reconcile

import "encoding/json"

// Recognized inbound event types. Anything else is a forward-compatible
// no-op.
const (
	EventOrdersSnapshot = "orders.snapshot"
	EventOrdersStatus   = "orders.status"
)

// ChannelOrders is the logical channel name heartbeats are recorded under.
const ChannelOrders = "orders"

// Envelope is one inbound message from the live channel. The transport that
// produced it is not this package's concern; see the feed package for the
// websocket source.
type Envelope struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// snapshotPayload is the wire shape of an orders.snapshot payload. All
// paging fields are optional; items default to empty.
type snapshotPayload struct {
	Items      []map[string]any `json:"items"`
	Total      *int             `json:"total"`
	Page       *int             `json:"page"`
	PageSize   *int             `json:"page_size"`
	HasNext    *bool            `json:"has_next"`
	ReceivedAt string           `json:"received_at"`
}
