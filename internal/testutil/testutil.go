// Package testutil builds raw order payloads for tests.
package testutil

import "testing"

// PayloadOpt mutates a raw order payload.
type PayloadOpt func(map[string]any)

// NewOrderPayload returns a raw payload shaped like a typical upstream order
// record. Options override or remove keys.
func NewOrderPayload(t *testing.T, id string, opts ...PayloadOpt) map[string]any {
	t.Helper()

	payload := map[string]any{
		"order_id":        id,
		"symbol":          "AAPL",
		"side":            "BUY",
		"type":            "LMT",
		"quantity":        10.0,
		"filled_quantity": 0.0,
		"limit_price":     187.5,
		"status":          "Submitted",
		"source":          "grid_bot",
	}
	for _, opt := range opts {
		opt(payload)
	}
	return payload
}

// WithField sets one key.
func WithField(key string, value any) PayloadOpt {
	return func(p map[string]any) { p[key] = value }
}

// WithNull sets one key to an explicit null.
func WithNull(key string) PayloadOpt {
	return func(p map[string]any) { p[key] = nil }
}

// Without removes keys entirely, the "absent" third of the tri-state.
func Without(keys ...string) PayloadOpt {
	return func(p map[string]any) {
		for _, key := range keys {
			delete(p, key)
		}
	}
}
