package main

import (
	"context"

	"github.com/orderdeck/orderdeck/reconcile"
)

// consumeEnvelopes feeds websocket envelopes to the reconciliation client.
// A single consumer keeps events in arrival order, duplicates included.
func consumeEnvelopes(ctx context.Context, events <-chan reconcile.Envelope, client *reconcile.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, open := <-events:
			if !open {
				return
			}
			client.HandleEvent(env)
		}
	}
}
