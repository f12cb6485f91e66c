// Package router implements the two halves of the HTTP-proxy-over-WebSocket
// dispatch (§4.5): GatewayRouter serves requests the Bridge forwards in
// against a local backend, credit-gated by a Hydra controller; BridgeRouter
// accepts local HTTP traffic and forwards it to the Gateway, matching
// replies back to the waiting caller by request id.
package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/blockfrost/hydra-bridge/internal/connection"
	"github.com/blockfrost/hydra-bridge/internal/hydra"
	"github.com/blockfrost/hydra-bridge/internal/wire"
)

// defaultRequestTimeout bounds how long a backend call may run before the
// Gateway gives up and reports a 502 upstream, matching spec.md's
// REQUEST_TIMEOUT default; GatewayRouter.RequestTimeout overrides it.
const defaultRequestTimeout = 60 * time.Second

// CreditGate is the subset of hydra.Controller the Gateway router needs to
// gate requests on prepaid balance.
type CreditGate interface {
	TryConsumeCredit() hydra.ConsumeResult
}

// GatewayRouter dispatches an inbound JsonRequest to a local backend and
// replies with a JsonResponse, gating each request on the peer's Hydra
// credit balance.
type GatewayRouter struct {
	Backend        *http.Client
	BackendURL     string
	Gate           CreditGate
	RequestTimeout time.Duration // zero means defaultRequestTimeout
	Logger         *slog.Logger
}

func (g *GatewayRouter) requestTimeout() time.Duration {
	if g.RequestTimeout > 0 {
		return g.RequestTimeout
	}
	return defaultRequestTimeout
}

var _ connection.RequestRouter = (*GatewayRouter)(nil)

// HandleRequest implements connection.RequestRouter.
func (g *GatewayRouter) HandleRequest(ctx context.Context, req wire.JsonRequest, sender connection.Sender) {
	switch g.Gate.TryConsumeCredit() {
	case hydra.ConsumeHeadNotOpen:
		g.reply(ctx, sender, req.ID, http.StatusServiceUnavailable, nil, "head not open")
		return
	case hydra.ConsumeInsufficientCredits:
		g.reply(ctx, sender, req.ID, http.StatusPaymentRequired, nil, "insufficient prepaid credits")
		return
	}

	body, err := base64.StdEncoding.DecodeString(req.BodyBase64)
	if err != nil {
		g.reply(ctx, sender, req.ID, http.StatusBadRequest, nil, "invalid request body encoding")
		return
	}
	if len(body) > wire.MaxBodyBytes {
		g.reply(ctx, sender, req.ID, http.StatusRequestEntityTooLarge, nil, "request body too large")
		return
	}

	backendCtx, cancel := context.WithTimeout(ctx, g.requestTimeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(backendCtx, req.Method, g.BackendURL+req.Path, bytes.NewReader(body))
	if err != nil {
		g.reply(ctx, sender, req.ID, http.StatusBadGateway, nil, "malformed upstream request")
		return
	}
	for _, h := range req.Header {
		httpReq.Header.Add(h.Name, h.Value)
	}

	resp, err := g.Backend.Do(httpReq)
	if err != nil {
		g.reply(ctx, sender, req.ID, http.StatusBadGateway, nil, err.Error())
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, wire.MaxBodyBytes))
	if err != nil {
		g.reply(ctx, sender, req.ID, http.StatusBadGateway, nil, "failed reading upstream response")
		return
	}

	headers := make([]wire.Header, 0, len(resp.Header))
	for name, values := range resp.Header {
		for _, v := range values {
			headers = append(headers, wire.Header{Name: name, Value: v})
		}
	}

	g.send(ctx, sender, wire.JsonResponse{
		ID:         req.ID,
		Code:       uint16(resp.StatusCode),
		Header:     headers,
		BodyBase64: base64.StdEncoding.EncodeToString(respBody),
	})
}

// HandleResponse implements connection.RequestRouter. The Gateway never
// issues outbound proxied requests of its own, so an inbound Response here
// indicates a misbehaving peer; it is logged and dropped.
func (g *GatewayRouter) HandleResponse(ctx context.Context, resp wire.JsonResponse) {
	g.Logger.Warn("gateway router: unexpected Response envelope from peer", "id", resp.ID)
}

func (g *GatewayRouter) reply(ctx context.Context, sender connection.Sender, id uuid.UUID, code int, headers []wire.Header, msg string) {
	g.send(ctx, sender, wire.JsonResponse{
		ID:         id,
		Code:       uint16(code),
		Header:     headers,
		BodyBase64: base64.StdEncoding.EncodeToString([]byte(msg)),
	})
}

func (g *GatewayRouter) send(ctx context.Context, sender connection.Sender, resp wire.JsonResponse) {
	text, err := wire.EncodeResponse(resp)
	if err != nil {
		g.Logger.Error("gateway router: encode response", "error", err)
		return
	}
	if err := sender.SendText(ctx, text); err != nil {
		g.Logger.Warn("gateway router: send response", "error", err)
	}
}
