package order

// Side is the canonical direction of an order.
//
// It intentionally uses a string alias so values remain comparable and
// marshal as plain JSON strings for the dashboard.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Type is the canonical order type.
type Type string

const (
	TypeMarket Type = "market"
	TypeLimit  Type = "limit"
	TypeStop   Type = "stop"
)

// SourceUnknown is the sentinel shown when no raw field identifies the
// originating strategy or desk.
const SourceUnknown = "—"

// Order is the canonical, immutable snapshot of one order at a point in
// time. Every normalization call produces a fresh value; the collection
// orders live in belongs to the store, not to this package.
//
// Pointer fields distinguish "value" from "absent"; Raw keeps the original
// payload for debugging and forward compatibility and is never re-parsed
// downstream.
type Order struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Type      Type    `json:"type"`
	Quantity  float64 `json:"quantity"`
	Filled    float64 `json:"filled"`
	Remaining float64 `json:"remaining"`

	Price      *float64 `json:"price"`
	LimitPrice *float64 `json:"limitPrice"`
	StopPrice  *float64 `json:"stopPrice"`
	FillPrice  *float64 `json:"fillPrice"`

	Status    Status  `json:"status"`
	RawStatus *string `json:"rawStatus"`
	Source    string  `json:"source"`

	Commission    *float64 `json:"commission"`
	Pnl           *float64 `json:"pnl"`
	RealizedPnl   *float64 `json:"realizedPnl"`
	UnrealizedPnl *float64 `json:"unrealizedPnl"`

	Account         *string `json:"account"`
	Exchange        *string `json:"exchange"`
	SecType         *string `json:"secType"`
	CreatedAt       *string `json:"createdAt"`
	ExecutedAt      *string `json:"executedAt"`
	UpdatedAt       *string `json:"updatedAt"`
	RejectionReason *string `json:"rejectionReason"`
	Notes           *string `json:"notes"`

	Raw map[string]any `json:"raw,omitempty"`
}

// identityFields is the precedence order for resolving a stable order id.
var identityFields = []string{"id", "order_id", "client_order_id", "ib_order_id"}

// sideSpellings covers the sell-side variants brokers emit. Anything not in
// this table canonicalizes to buy.
var sideSpellings = map[string]Side{
	"sell":  SideSell,
	"s":     SideSell,
	"sld":   SideSell,
	"short": SideSell,
	"buy":   SideBuy,
	"b":     SideBuy,
	"bot":   SideBuy,
	"long":  SideBuy,
}

var typeSpellings = map[string]Type{
	"market":    TypeMarket,
	"mkt":       TypeMarket,
	"stop":      TypeStop,
	"stp":       TypeStop,
	"stoploss":  TypeStop,
	"limit":     TypeLimit,
	"lmt":       TypeLimit,
	"stoplimit": TypeStop,
}

// CanonicalSide maps raw side text to a Side. Unknown or ambiguous input
// defaults to buy.
func CanonicalSide(raw string) Side {
	if side, ok := sideSpellings[foldKey(raw)]; ok {
		return side
	}
	return SideBuy
}

// CanonicalType maps raw order type text to a Type, defaulting to limit.
func CanonicalType(raw string) Type {
	if typ, ok := typeSpellings[foldKey(raw)]; ok {
		return typ
	}
	return TypeLimit
}
