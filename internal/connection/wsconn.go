package connection

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// WSTransport adapts a *websocket.Conn to the Transport interface. gorilla's
// Conn permits only one concurrent writer, so Send serializes through a
// mutex; Loop's own goroutines (read, ping, tunnel-forward) all call Send
// concurrently, making this necessary rather than defensive.
type WSTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWSTransport wraps an already-established *websocket.Conn.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

var _ Transport = (*WSTransport)(nil)
var _ Sender = (*WSTransport)(nil)

// Send implements Transport.
func (w *WSTransport) Send(ctx context.Context, text string) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Recv implements Transport. ctx is not wired into gorilla's blocking
// ReadMessage; callers terminate the Recv by closing the underlying
// connection when ctx is done. Non-text (binary) frames are skipped.
func (w *WSTransport) Recv(ctx context.Context) (string, error) {
	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return string(data), nil
	}
}

// Close implements Transport.
func (w *WSTransport) Close() error {
	return w.conn.Close()
}

// RemoteAddr implements Transport.
func (w *WSTransport) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

// SendText implements Sender, letting callers outside Loop (e.g. a router
// replying on its own) write directly to the same transport Loop reads from.
func (w *WSTransport) SendText(ctx context.Context, text string) error {
	return w.Send(ctx, text)
}
