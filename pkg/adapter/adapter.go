// Package adapter connects local front ends to a remote shellmcp server
// reached over its WebSocket endpoint.
package adapter

import "context"

type Adapter interface {
	Start(ctx context.Context) error
}
