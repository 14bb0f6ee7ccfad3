package order

import "github.com/oapi-codegen/nullable"

// Patch is a partial update for one order. Every field is tri-state:
// unspecified (key absent from the event, no change), null (explicit
// value-clearing change), or a value. Fields that are not nullable on Order
// itself (symbol, side, quantity, ...) only ever carry the value state.
type Patch struct {
	Symbol    nullable.Nullable[string]  `json:"symbol,omitempty"`
	Side      nullable.Nullable[Side]    `json:"side,omitempty"`
	Type      nullable.Nullable[Type]    `json:"type,omitempty"`
	Quantity  nullable.Nullable[float64] `json:"quantity,omitempty"`
	Filled    nullable.Nullable[float64] `json:"filled,omitempty"`
	Remaining nullable.Nullable[float64] `json:"remaining,omitempty"`

	Price      nullable.Nullable[float64] `json:"price,omitempty"`
	LimitPrice nullable.Nullable[float64] `json:"limitPrice,omitempty"`
	StopPrice  nullable.Nullable[float64] `json:"stopPrice,omitempty"`
	FillPrice  nullable.Nullable[float64] `json:"fillPrice,omitempty"`

	Status    nullable.Nullable[Status] `json:"status,omitempty"`
	RawStatus nullable.Nullable[string] `json:"rawStatus,omitempty"`
	Source    nullable.Nullable[string] `json:"source,omitempty"`

	Commission    nullable.Nullable[float64] `json:"commission,omitempty"`
	Pnl           nullable.Nullable[float64] `json:"pnl,omitempty"`
	RealizedPnl   nullable.Nullable[float64] `json:"realizedPnl,omitempty"`
	UnrealizedPnl nullable.Nullable[float64] `json:"unrealizedPnl,omitempty"`

	Account         nullable.Nullable[string] `json:"account,omitempty"`
	Exchange        nullable.Nullable[string] `json:"exchange,omitempty"`
	SecType         nullable.Nullable[string] `json:"secType,omitempty"`
	CreatedAt       nullable.Nullable[string] `json:"createdAt,omitempty"`
	ExecutedAt      nullable.Nullable[string] `json:"executedAt,omitempty"`
	UpdatedAt       nullable.Nullable[string] `json:"updatedAt,omitempty"`
	RejectionReason nullable.Nullable[string] `json:"rejectionReason,omitempty"`
	Notes           nullable.Nullable[string] `json:"notes,omitempty"`
}

// Delta is one normalized partial-update event: the resolved order identity
// plus the set of changed fields.
type Delta struct {
	ID      string `json:"id"`
	Changes Patch  `json:"changes"`
}

// IsEmpty reports whether the patch carries no changes at all.
func (p Patch) IsEmpty() bool {
	return !p.Symbol.IsSpecified() && !p.Side.IsSpecified() && !p.Type.IsSpecified() &&
		!p.Quantity.IsSpecified() && !p.Filled.IsSpecified() && !p.Remaining.IsSpecified() &&
		!p.Price.IsSpecified() && !p.LimitPrice.IsSpecified() && !p.StopPrice.IsSpecified() &&
		!p.FillPrice.IsSpecified() && !p.Status.IsSpecified() && !p.RawStatus.IsSpecified() &&
		!p.Source.IsSpecified() && !p.Commission.IsSpecified() && !p.Pnl.IsSpecified() &&
		!p.RealizedPnl.IsSpecified() && !p.UnrealizedPnl.IsSpecified() &&
		!p.Account.IsSpecified() && !p.Exchange.IsSpecified() && !p.SecType.IsSpecified() &&
		!p.CreatedAt.IsSpecified() && !p.ExecutedAt.IsSpecified() && !p.UpdatedAt.IsSpecified() &&
		!p.RejectionReason.IsSpecified() && !p.Notes.IsSpecified()
}

// Apply merges the patch into o. Unspecified fields leave o untouched; null
// fields clear the corresponding nullable field.
func (p Patch) Apply(o *Order) {
	applyValue(p.Symbol, &o.Symbol)
	applyValue(p.Side, &o.Side)
	applyValue(p.Type, &o.Type)
	applyValue(p.Quantity, &o.Quantity)
	applyValue(p.Filled, &o.Filled)
	applyValue(p.Remaining, &o.Remaining)

	applyNullable(p.Price, &o.Price)
	applyNullable(p.LimitPrice, &o.LimitPrice)
	applyNullable(p.StopPrice, &o.StopPrice)
	applyNullable(p.FillPrice, &o.FillPrice)

	applyValue(p.Status, &o.Status)
	applyNullable(p.RawStatus, &o.RawStatus)
	applyValue(p.Source, &o.Source)

	applyNullable(p.Commission, &o.Commission)
	applyNullable(p.Pnl, &o.Pnl)
	applyNullable(p.RealizedPnl, &o.RealizedPnl)
	applyNullable(p.UnrealizedPnl, &o.UnrealizedPnl)

	applyNullable(p.Account, &o.Account)
	applyNullable(p.Exchange, &o.Exchange)
	applyNullable(p.SecType, &o.SecType)
	applyNullable(p.CreatedAt, &o.CreatedAt)
	applyNullable(p.ExecutedAt, &o.ExecutedAt)
	applyNullable(p.UpdatedAt, &o.UpdatedAt)
	applyNullable(p.RejectionReason, &o.RejectionReason)
	applyNullable(p.Notes, &o.Notes)
}

func applyValue[T any](n nullable.Nullable[T], dst *T) {
	if !n.IsSpecified() || n.IsNull() {
		return
	}
	*dst = n.MustGet()
}

func applyNullable[T any](n nullable.Nullable[T], dst **T) {
	if !n.IsSpecified() {
		return
	}
	if n.IsNull() {
		*dst = nil
		return
	}
	v := n.MustGet()
	*dst = &v
}
