// Package connection implements the per-connection event loop (§4.4): it
// owns one WebSocket's read/write lifecycle, the ping/pong liveness check,
// and dispatch of decoded envelopes to the key-exchange, request-routing,
// and tunnel subsystems.
package connection

import "context"

// Transport is the minimal duplex the event loop needs from a WebSocket
// connection; WSTransport (wsconn.go) adapts a *websocket.Conn to it for
// both internal/wsserver and internal/wsclient, so loop.go itself never
// imports gorilla/websocket.
type Transport interface {
	Send(ctx context.Context, text string) error
	Recv(ctx context.Context) (string, error)
	Close() error
	RemoteAddr() string
}

// Sender is the narrow write-only view of a Transport handed to the
// key-exchange and routing subsystems, so they can reply without being
// able to tear the connection down themselves.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

type senderFunc func(ctx context.Context, text string) error

func (f senderFunc) SendText(ctx context.Context, text string) error { return f(ctx, text) }
