// Package server implements the three transports the node answers
// JSON-RPC on: HTTP (request/response only), WebSocket and IPC (both
// also carry eth_subscribe notifications), plus the optional
// Prometheus metrics listener.
package server

import "context"

// Server is one network listener task, supervised the same way the
// miner and head-bridge goroutines are: Serve blocks until ctx is
// cancelled or the listener fails.
type Server interface {
	Serve(ctx context.Context) error
}
