package order

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/oapi-codegen/nullable"
)

// NormalizeOrder maps a raw upstream payload into a canonical Order. It is a
// total function: any field that fails coercion degrades to its default (0
// for required numerics, nil for optional ones) and never panics.
func NormalizeOrder(raw map[string]any) Order {
	o := Order{
		Side:   SideBuy,
		Type:   TypeLimit,
		Status: StatusWorking,
		Source: SourceUnknown,
		Raw:    raw,
	}
	if raw == nil {
		return o
	}

	o.ID = identity(raw)
	if s, ok := presentText(raw, "symbol"); ok {
		o.Symbol = s
	}
	if s, ok := presentText(raw, "side"); ok {
		o.Side = CanonicalSide(s)
	}
	if s, ok := presentText(raw, "order_type", "type"); ok {
		o.Type = CanonicalType(s)
	}

	o.Quantity, _ = presentNumber(raw, "quantity")
	o.Filled, _ = presentNumber(raw, "filled_quantity", "filled")
	if rem, ok := presentNumber(raw, "remaining_quantity", "remaining"); ok {
		o.Remaining = math.Max(rem, 0)
	} else {
		o.Remaining = math.Max(o.Quantity-o.Filled, 0)
	}

	o.LimitPrice = optionalNumber(raw, "limit_price")
	o.StopPrice = optionalNumber(raw, "stop_price")
	o.FillPrice = optionalNumber(raw, "fill_price", "avg_fill_price", "average_fill_price")
	if v, ok := resolvePrice(raw); ok {
		o.Price = &v
	}

	if s, ok := presentText(raw, "status"); ok {
		o.Status = CanonicalStatus(s)
		o.RawStatus = &s
	}
	o.Source = resolveSource(raw)
	o.Commission = normalizeCommission(optionalNumber(raw, "commission"))
	o.Pnl = optionalNumber(raw, "pnl", "realized_pnl")
	o.RealizedPnl = optionalNumber(raw, "realized_pnl")
	o.UnrealizedPnl = optionalNumber(raw, "unrealized_pnl")

	o.Account = optionalText(raw, "account")
	o.Exchange = optionalText(raw, "exchange")
	o.SecType = optionalText(raw, "sec_type", "security_type")
	o.CreatedAt = optionalText(raw, "created_at")
	o.ExecutedAt = optionalText(raw, "executed_at", "filled_at")
	o.UpdatedAt = optionalText(raw, "updated_at", "timestamp")
	o.RejectionReason = optionalText(raw, "rejection_reason", "reject_reason")
	o.Notes = optionalText(raw, "notes", "comment")

	return o
}

// NormalizeOrderEvent maps a raw delta payload into a Delta. A key lands in
// the patch only when the corresponding raw field is present in the input;
// an explicit null on a nullable field is propagated as a clearing change.
//
// Returns nil when no identifier field resolves. That is a hard contract:
// callers must drop the event, not treat it as an error.
func NormalizeOrderEvent(raw map[string]any) *Delta {
	if raw == nil {
		return nil
	}
	id := identity(raw)
	if id == "" {
		return nil
	}

	var p Patch

	if s, ok := presentText(raw, "symbol"); ok {
		p.Symbol.Set(s)
	}
	if s, ok := presentText(raw, "side"); ok {
		p.Side.Set(CanonicalSide(s))
	}
	if s, ok := presentText(raw, "order_type", "type"); ok {
		p.Type.Set(CanonicalType(s))
	}

	qty, qok := presentNumber(raw, "quantity")
	fil, fok := presentNumber(raw, "filled_quantity", "filled")
	if qok {
		p.Quantity.Set(qty)
	}
	if fok {
		p.Filled.Set(fil)
	}
	if rem, ok := presentNumber(raw, "remaining_quantity", "remaining"); ok {
		p.Remaining.Set(math.Max(rem, 0))
	} else if qok && fok {
		// Derivable only when both inputs arrived in this same event.
		p.Remaining.Set(math.Max(qty-fil, 0))
	}

	patchNumber(raw, &p.LimitPrice, "limit_price")
	patchNumber(raw, &p.StopPrice, "stop_price")
	patchNumber(raw, &p.FillPrice, "fill_price", "avg_fill_price", "average_fill_price")
	if hasAny(raw, "price", "limit_price", "stop_price") {
		if v, ok := resolvePrice(raw); ok {
			p.Price.Set(v)
		} else {
			p.Price.SetNull()
		}
	}

	if _, present := firstPresent(raw, "status"); present {
		if s, ok := presentText(raw, "status"); ok {
			p.Status.Set(CanonicalStatus(s))
			p.RawStatus.Set(s)
		} else {
			p.RawStatus.SetNull()
		}
	}

	// Source is recomputed whenever any contributing field arrived, even if
	// the canonical value ends up unchanged. Idempotent, not
	// change-suppressing.
	if hasAny(raw, "source", "metadata", "order_source", "strategy_name", "strategy") {
		p.Source.Set(resolveSource(raw))
	}

	if _, present := firstPresent(raw, "commission"); present {
		if v, ok := presentNumber(raw, "commission"); ok {
			if v != 0 {
				v = -math.Abs(v)
			}
			p.Commission.Set(v)
		} else {
			p.Commission.SetNull()
		}
	}

	patchNumber(raw, &p.Pnl, "pnl", "realized_pnl")
	patchNumber(raw, &p.RealizedPnl, "realized_pnl")
	patchNumber(raw, &p.UnrealizedPnl, "unrealized_pnl")

	patchText(raw, &p.Account, "account")
	patchText(raw, &p.Exchange, "exchange")
	patchText(raw, &p.SecType, "sec_type", "security_type")
	patchText(raw, &p.CreatedAt, "created_at")
	patchText(raw, &p.ExecutedAt, "executed_at", "filled_at")
	patchText(raw, &p.UpdatedAt, "updated_at", "timestamp")
	patchText(raw, &p.RejectionReason, "rejection_reason", "reject_reason")
	patchText(raw, &p.Notes, "notes", "comment")

	return &Delta{ID: id, Changes: p}
}

// identity walks the id cascade and returns the first non-empty
// stringifiable value.
func identity(raw map[string]any) string {
	for _, key := range identityFields {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if s := idString(v); s != "" {
			return s
		}
	}
	return ""
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// resolvePrice applies the price priority cascade: the first of price,
// limit_price, stop_price that carries a usable number wins, explicit zero
// included. Absence of a price is distinct from a zero price.
func resolvePrice(raw map[string]any) (float64, bool) {
	for _, key := range []string{"price", "limit_price", "stop_price"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if f, ok := asNumber(v); ok {
			return f, true
		}
	}
	return 0, false
}

func resolveSource(raw map[string]any) string {
	if s, ok := presentText(raw, "source"); ok {
		return s
	}
	if md, ok := raw["metadata"].(map[string]any); ok {
		if s, ok := presentText(md, "source"); ok {
			return s
		}
	}
	if s, ok := presentText(raw, "order_source", "strategy_name", "strategy"); ok {
		return s
	}
	return SourceUnknown
}

// normalizeCommission flips the sign so commission is always recorded as a
// cost. Zero stays zero.
func normalizeCommission(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	if c != 0 {
		c = -math.Abs(c)
	}
	return &c
}

// firstPresent returns the value of the first key present in raw, nil values
// included.
func firstPresent(raw map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func hasAny(raw map[string]any, keys ...string) bool {
	_, ok := firstPresent(raw, keys...)
	return ok
}

// presentNumber returns the first key whose value coerces to a finite
// number.
func presentNumber(raw map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if f, ok := asNumber(v); ok {
			return f, true
		}
	}
	return 0, false
}

// presentText returns the first key whose value coerces to non-empty text.
func presentText(raw map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if s, ok := asText(v); ok {
			return s, true
		}
	}
	return "", false
}

func optionalNumber(raw map[string]any, keys ...string) *float64 {
	if f, ok := presentNumber(raw, keys...); ok {
		return &f
	}
	return nil
}

func optionalText(raw map[string]any, keys ...string) *string {
	if s, ok := presentText(raw, keys...); ok {
		return &s
	}
	return nil
}

// patchNumber sets a tri-state numeric patch field from the first present
// key: coercible value, or null when the field arrived as null/garbage.
func patchNumber(raw map[string]any, dst *nullable.Nullable[float64], keys ...string) {
	if _, present := firstPresent(raw, keys...); !present {
		return
	}
	if f, ok := presentNumber(raw, keys...); ok {
		dst.Set(f)
		return
	}
	dst.SetNull()
}

// patchText sets a tri-state text patch field from the first present key.
// Empty strings and nulls clear the field.
func patchText(raw map[string]any, dst *nullable.Nullable[string], keys ...string) {
	if _, present := firstPresent(raw, keys...); !present {
		return
	}
	if s, ok := presentText(raw, keys...); ok {
		dst.Set(s)
		return
	}
	dst.SetNull()
}

// asNumber coerces numbers and numeric strings. Non-finite values and
// unparseable text report failure.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case float32:
		return asNumber(float64(t))
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return asNumber(f)
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return asNumber(f)
	default:
		return 0, false
	}
}

// asText coerces free-text fields: strings are trimmed with empty treated as
// absent, numbers are formatted.
func asText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", false
		}
		return s, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
