package order

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOrder_FullRecord(t *testing.T) {
	raw := map[string]any{
		"order_id":        "A1",
		"symbol":          "ESZ4",
		"side":            "SELL",
		"order_type":      "LMT",
		"quantity":        10.0,
		"filled_quantity": 5.0,
		"limit_price":     "4221.75",
		"price":           4221.75,
		"status":          "PartiallyFilled",
		"commission":      3.0,
		"realized_pnl":    12.5,
		"account":         "DU12345",
		"metadata":        map[string]any{"source": "desk"},
		"updated_at":      "2024-04-02T08:00:00Z",
	}

	o := NormalizeOrder(raw)

	require.Equal(t, "A1", o.ID)
	require.Equal(t, "ESZ4", o.Symbol)
	require.Equal(t, SideSell, o.Side)
	require.Equal(t, TypeLimit, o.Type)
	require.Equal(t, 10.0, o.Quantity)
	require.Equal(t, 5.0, o.Filled)
	require.Equal(t, 5.0, o.Remaining)
	require.NotNil(t, o.Price)
	require.Equal(t, 4221.75, *o.Price)
	require.NotNil(t, o.LimitPrice)
	require.Equal(t, 4221.75, *o.LimitPrice)
	require.Equal(t, StatusWorking, o.Status)
	require.NotNil(t, o.RawStatus)
	require.Equal(t, "PartiallyFilled", *o.RawStatus)
	require.Equal(t, "desk", o.Source)
	require.NotNil(t, o.Commission)
	require.Equal(t, -3.0, *o.Commission)
	require.NotNil(t, o.Pnl)
	require.Equal(t, 12.5, *o.Pnl)
	require.NotNil(t, o.RealizedPnl)
	require.Equal(t, 12.5, *o.RealizedPnl)
	require.NotNil(t, o.UpdatedAt)
	require.Equal(t, "2024-04-02T08:00:00Z", *o.UpdatedAt)
	require.Equal(t, raw, o.Raw)
}

func TestNormalizeOrder_Defaults(t *testing.T) {
	o := NormalizeOrder(map[string]any{})

	require.Empty(t, o.ID)
	require.Equal(t, SideBuy, o.Side)
	require.Equal(t, TypeLimit, o.Type)
	require.Equal(t, StatusWorking, o.Status)
	require.Nil(t, o.RawStatus)
	require.Equal(t, SourceUnknown, o.Source)
	require.Zero(t, o.Quantity)
	require.Zero(t, o.Remaining)
	require.Nil(t, o.Price)
	require.Nil(t, o.Commission)
}

func TestNormalizeOrder_IdentityCascade(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
		want string
	}{
		{"id wins", map[string]any{"id": "top", "order_id": "mid"}, "top"},
		{"order_id next", map[string]any{"order_id": "mid", "client_order_id": "low"}, "mid"},
		{"client_order_id", map[string]any{"client_order_id": "low"}, "low"},
		{"ib_order_id last", map[string]any{"ib_order_id": 4711.0}, "4711"},
		{"empty id falls through", map[string]any{"id": "  ", "order_id": "mid"}, "mid"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeOrder(tc.raw).ID)
		})
	}
}

func TestNormalizeOrder_RemainingAndCommission(t *testing.T) {
	o := NormalizeOrder(map[string]any{
		"id":              "r1",
		"quantity":        10.0,
		"filled_quantity": 5.0,
		"commission":      3.0,
	})
	require.Equal(t, 5.0, o.Remaining)
	require.NotNil(t, o.Commission)
	require.Equal(t, -3.0, *o.Commission)

	// Server-provided remaining wins over the derived value, clamped at 0.
	o = NormalizeOrder(map[string]any{
		"id":                 "r2",
		"quantity":           10.0,
		"filled_quantity":    5.0,
		"remaining_quantity": -2.0,
	})
	require.Zero(t, o.Remaining)

	// Overfill never yields a negative remainder.
	o = NormalizeOrder(map[string]any{"id": "r3", "quantity": 3.0, "filled": 7.0})
	require.Zero(t, o.Remaining)

	// Commission already negative stays negative; zero stays zero.
	o = NormalizeOrder(map[string]any{"id": "r4", "commission": -1.5})
	require.Equal(t, -1.5, *o.Commission)
	o = NormalizeOrder(map[string]any{"id": "r5", "commission": 0.0})
	require.Zero(t, *o.Commission)
}

func TestNormalizeOrder_PricePriority(t *testing.T) {
	o := NormalizeOrder(map[string]any{"id": "p1", "price": 4221.75, "limit_price": 4221.75})
	require.Equal(t, 4221.75, *o.Price)
	require.Equal(t, 4221.75, *o.LimitPrice)

	o = NormalizeOrder(map[string]any{"id": "p2", "stop_price": 99.5})
	require.NotNil(t, o.Price)
	require.Equal(t, 99.5, *o.Price)
	require.Equal(t, 99.5, *o.StopPrice)
	require.Nil(t, o.LimitPrice)

	// Explicit zero is a value, not absence.
	o = NormalizeOrder(map[string]any{"id": "p3", "price": 0.0, "limit_price": 12.0})
	require.NotNil(t, o.Price)
	require.Zero(t, *o.Price)

	o = NormalizeOrder(map[string]any{"id": "p4"})
	require.Nil(t, o.Price)
}

func TestNormalizeOrder_NumericCoercion(t *testing.T) {
	o := NormalizeOrder(map[string]any{
		"id":       "c1",
		"quantity": "1,250",
		"filled":   "not a number",
		"pnl":      "abc",
	})
	require.Equal(t, 1250.0, o.Quantity)
	require.Zero(t, o.Filled)
	require.Nil(t, o.Pnl)
}

func TestNormalizeOrder_SourceCascade(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
		want string
	}{
		{"explicit source", map[string]any{"source": "manual", "strategy": "x"}, "manual"},
		{"metadata source", map[string]any{"metadata": map[string]any{"source": "desk"}}, "desk"},
		{"order_source", map[string]any{"order_source": "api"}, "api"},
		{"strategy_name", map[string]any{"strategy_name": "mean-rev"}, "mean-rev"},
		{"strategy", map[string]any{"strategy": "momo"}, "momo"},
		{"sentinel", map[string]any{}, SourceUnknown},
		{"empty strings fall through", map[string]any{"source": "", "strategy": "momo"}, "momo"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeOrder(tc.raw).Source)
		})
	}
}

func TestNormalizeOrder_Pure(t *testing.T) {
	raw := map[string]any{
		"order_id": "A1",
		"quantity": 10.0,
		"filled":   "5",
		"status":   "cancelled - partial",
	}
	first := NormalizeOrder(raw)
	second := NormalizeOrder(raw)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("normalization not deterministic (-first +second):\n%s", diff)
	}
}

func TestNormalizeOrderEvent_PartialPatch(t *testing.T) {
	raw := map[string]any{
		"order_id":        "A1",
		"side":            "S",
		"filled_quantity": "3",
		"status":          "executed",
		"order_type":      "market",
		"timestamp":       "2024-04-02T08:00:00Z",
		"metadata":        map[string]any{"source": "desk"},
	}

	delta := NormalizeOrderEvent(raw)
	require.NotNil(t, delta)
	require.Equal(t, "A1", delta.ID)

	ch := delta.Changes
	require.Equal(t, SideSell, ch.Side.MustGet())
	require.Equal(t, TypeMarket, ch.Type.MustGet())
	require.Equal(t, 3.0, ch.Filled.MustGet())
	require.Equal(t, StatusFilled, ch.Status.MustGet())
	require.Equal(t, "executed", ch.RawStatus.MustGet())
	require.Equal(t, "desk", ch.Source.MustGet())
	require.Equal(t, "2024-04-02T08:00:00Z", ch.UpdatedAt.MustGet())

	// Fields absent from the payload stay absent from the patch.
	require.False(t, ch.Quantity.IsSpecified())
	require.False(t, ch.Remaining.IsSpecified())
	require.False(t, ch.Price.IsSpecified())
	require.False(t, ch.Symbol.IsSpecified())
}

func TestNormalizeOrderEvent_MissingIdentifier(t *testing.T) {
	require.Nil(t, NormalizeOrderEvent(map[string]any{"status": "pending"}))
	require.Nil(t, NormalizeOrderEvent(map[string]any{"id": "   "}))
	require.Nil(t, NormalizeOrderEvent(nil))
}

func TestNormalizeOrderEvent_RemainingDerivation(t *testing.T) {
	// Both quantity and filled arrived: remaining is derivable.
	delta := NormalizeOrderEvent(map[string]any{"id": "d1", "quantity": 10.0, "filled": 4.0})
	require.NotNil(t, delta)
	require.Equal(t, 6.0, delta.Changes.Remaining.MustGet())

	// Only one of the pair arrived: remaining cannot be derived yet.
	delta = NormalizeOrderEvent(map[string]any{"id": "d2", "filled": 4.0})
	require.NotNil(t, delta)
	require.True(t, delta.Changes.Filled.IsSpecified())
	require.False(t, delta.Changes.Remaining.IsSpecified())

	// Server-provided remaining always wins.
	delta = NormalizeOrderEvent(map[string]any{"id": "d3", "quantity": 10.0, "filled": 4.0, "remaining_quantity": 2.0})
	require.Equal(t, 2.0, delta.Changes.Remaining.MustGet())
}

func TestNormalizeOrderEvent_ExplicitNullClears(t *testing.T) {
	delta := NormalizeOrderEvent(map[string]any{
		"id":         "n1",
		"commission": nil,
		"notes":      nil,
		"price":      nil,
	})
	require.NotNil(t, delta)

	ch := delta.Changes
	require.True(t, ch.Commission.IsSpecified())
	require.True(t, ch.Commission.IsNull())
	require.True(t, ch.Notes.IsSpecified())
	require.True(t, ch.Notes.IsNull())
	require.True(t, ch.Price.IsSpecified())
	require.True(t, ch.Price.IsNull())
}

func TestNormalizeOrderEvent_PriceRecomputedFromArrivedFields(t *testing.T) {
	delta := NormalizeOrderEvent(map[string]any{"id": "p1", "stop_price": 88.0})
	require.NotNil(t, delta)
	require.Equal(t, 88.0, delta.Changes.Price.MustGet())
	require.Equal(t, 88.0, delta.Changes.StopPrice.MustGet())
	require.False(t, delta.Changes.LimitPrice.IsSpecified())

	// price:null with a live limit_price falls through to the limit price.
	delta = NormalizeOrderEvent(map[string]any{"id": "p2", "price": nil, "limit_price": 12.0})
	require.Equal(t, 12.0, delta.Changes.Price.MustGet())
}

func TestNormalizeOrderEvent_PatchJSONRoundTrip(t *testing.T) {
	delta := NormalizeOrderEvent(map[string]any{
		"id":         "j1",
		"side":       "sell",
		"commission": nil,
	})
	require.NotNil(t, delta)

	buf, err := json.Marshal(delta.Changes)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf, &decoded))

	// Unspecified fields are omitted, null fields serialize as null.
	require.Equal(t, "sell", decoded["side"])
	val, present := decoded["commission"]
	require.True(t, present)
	require.Nil(t, val)
	_, present = decoded["quantity"]
	require.False(t, present)
}

func TestPatchApply(t *testing.T) {
	o := NormalizeOrder(map[string]any{
		"id":         "a1",
		"symbol":     "NQZ4",
		"quantity":   5.0,
		"status":     "Submitted",
		"commission": 2.0,
	})
	require.Equal(t, StatusWorking, o.Status)
	require.NotNil(t, o.Commission)

	delta := NormalizeOrderEvent(map[string]any{
		"id":         "a1",
		"status":     "Filled",
		"filled":     5.0,
		"quantity":   5.0,
		"commission": nil,
	})
	require.NotNil(t, delta)

	delta.Changes.Apply(&o)

	require.Equal(t, StatusFilled, o.Status)
	require.Equal(t, 5.0, o.Filled)
	require.Zero(t, o.Remaining)
	require.Nil(t, o.Commission)
	// Untouched fields survive the merge.
	require.Equal(t, "NQZ4", o.Symbol)
}
