// Package middleware decorates a ports.TurnStore with at-rest protections.
package middleware

import "github.com/aretw0/tradedesk/pkg/ports"

// Middleware allows wrapping a TurnStore to add behavior.
type Middleware func(ports.TurnStore) ports.TurnStore

// Chain wraps store so that the first middleware sees calls first.
func Chain(store ports.TurnStore, mws ...Middleware) ports.TurnStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
