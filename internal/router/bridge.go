package router

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockfrost/hydra-bridge/internal/connection"
	"github.com/blockfrost/hydra-bridge/internal/wire"
)

// PendingTimeout bounds how long BridgeRouter waits for a matching Response
// before failing a local request with a gateway timeout (§4.5).
const PendingTimeout = 30 * time.Second

// BridgeRouter implements http.Handler over the local listener a Bridge
// operator points their Blockfrost-style client at: each inbound request is
// marshalled into a JsonRequest, sent to the Gateway over the shared
// connection, and matched back to its JsonResponse by request id. The
// inflight map's mutex is held only around insert/delete, never while
// waiting on a reply channel.
type BridgeRouter struct {
	Logger *slog.Logger

	mu       sync.Mutex
	sender   connection.Sender
	inflight map[uuid.UUID]chan wire.JsonResponse
}

// NewBridgeRouter constructs a BridgeRouter bound to sender, the live
// connection's write side.
func NewBridgeRouter(sender connection.Sender, logger *slog.Logger) *BridgeRouter {
	return &BridgeRouter{
		sender:   sender,
		Logger:   logger,
		inflight: make(map[uuid.UUID]chan wire.JsonResponse),
	}
}

// SetSender replaces the connection.Sender requests are written to — used by
// the Bridge's reconnect loop to rebind the router onto a fresh connection
// without tearing down its local HTTP listener or inflight table.
func (b *BridgeRouter) SetSender(sender connection.Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sender = sender
}

func (b *BridgeRouter) currentSender() connection.Sender {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sender
}

var _ connection.RequestRouter = (*BridgeRouter)(nil)
var _ http.Handler = (*BridgeRouter)(nil)

// ServeHTTP implements http.Handler for the Bridge's local listener.
func (b *BridgeRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, wire.MaxBodyBytes))
	if err != nil {
		http.Error(w, "failed reading request body", http.StatusBadRequest)
		return
	}

	headers := make([]wire.Header, 0, len(r.Header))
	for name, values := range r.Header {
		for _, v := range values {
			headers = append(headers, wire.Header{Name: name, Value: v})
		}
	}

	id := uuid.New()
	replyCh := make(chan wire.JsonResponse, 1)
	b.mu.Lock()
	b.inflight[id] = replyCh
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inflight, id)
		b.mu.Unlock()
	}()

	req := wire.JsonRequest{
		ID:         id,
		Method:     r.Method,
		Path:       r.URL.RequestURI(),
		Header:     headers,
		BodyBase64: base64.StdEncoding.EncodeToString(body),
	}
	text, err := wire.EncodeRequest(req)
	if err != nil {
		http.Error(w, "failed encoding upstream request", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), PendingTimeout)
	defer cancel()

	sender := b.currentSender()
	if sender == nil {
		http.Error(w, "not connected to gateway", http.StatusServiceUnavailable)
		return
	}
	if err := sender.SendText(ctx, text); err != nil {
		http.Error(w, "failed sending request to gateway", http.StatusBadGateway)
		return
	}

	select {
	case resp := <-replyCh:
		writeResponse(w, resp)
	case <-ctx.Done():
		http.Error(w, "gateway did not respond in time", http.StatusGatewayTimeout)
	}
}

func writeResponse(w http.ResponseWriter, resp wire.JsonResponse) {
	body, err := base64.StdEncoding.DecodeString(resp.BodyBase64)
	if err != nil {
		http.Error(w, "gateway returned malformed response body", http.StatusBadGateway)
		return
	}
	for _, h := range resp.Header {
		w.Header().Add(h.Name, h.Value)
	}
	w.WriteHeader(int(resp.Code))
	w.Write(body)
}

// HandleRequest implements connection.RequestRouter. The Gateway never
// proxies a request toward the Bridge, so an inbound Request here indicates
// a misbehaving peer; it is logged and dropped.
func (b *BridgeRouter) HandleRequest(ctx context.Context, req wire.JsonRequest, sender connection.Sender) {
	b.Logger.Warn("bridge router: unexpected Request envelope from peer", "id", req.ID)
}

// HandleResponse implements connection.RequestRouter: it completes the
// pending local HTTP request matching resp.ID, if any is still waiting.
func (b *BridgeRouter) HandleResponse(ctx context.Context, resp wire.JsonResponse) {
	b.mu.Lock()
	ch, ok := b.inflight[resp.ID]
	b.mu.Unlock()
	if !ok {
		b.Logger.Debug("bridge router: response for unknown or expired request", "id", resp.ID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}
