// Package kex implements the two sides of the key-exchange handshake
// (§4.3.1): the Bridge dials in and sends a KeyExchangeRequest carrying its
// machine id and verification keys; the Gateway spawns (or looks up) that
// peer's Hydra controller and replies with a KeyExchangeResponse carrying
// its own keys and the negotiated payment parameters.
package kex

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/blockfrost/hydra-bridge/internal/connection"
	"github.com/blockfrost/hydra-bridge/internal/hydra"
	"github.com/blockfrost/hydra-bridge/internal/manager"
	"github.com/blockfrost/hydra-bridge/internal/wire"
)

// GatewayKEx implements connection.KExHandler on the Gateway side. The
// handshake is two rounds (§9 Open Question 3): round 1 carries no accepted
// port and only elicits the Gateway's own key material and head-to-head
// port; round 2 repeats the same request with the accepted
// port filled in, and only then does the Gateway spawn the peer's
// controller and confirm with KexDone true.
type GatewayKEx struct {
	Manager            *manager.HydrasManager
	NewController      func(peerID string) (*hydra.Controller, error)
	CardanoVKey        wire.VKeyEnvelope
	HydraVKey          wire.VKeyEnvelope
	ProtocolParameters json.RawMessage
	HydraScriptsTxID   string
	ContestationPeriod uint64
	GatewayH2HPort     uint16
	Payment            wire.PaymentParams
	Logger             *slog.Logger

	mu      sync.Mutex
	pending map[string]wire.KeyExchangeRequest
}

var _ connection.KExHandler = (*GatewayKEx)(nil)

func (g *GatewayKEx) storePending(req wire.KeyExchangeRequest) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		g.pending = make(map[string]wire.KeyExchangeRequest)
	}
	g.pending[req.MachineID] = req
}

func (g *GatewayKEx) takePending(machineID string) (wire.KeyExchangeRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[machineID]
	if ok {
		delete(g.pending, machineID)
	}
	return req, ok
}

// HandleKExRequest implements connection.KExHandler. On round 1 (no accepted
// port yet) it records the request and replies with its own key material
// without spawning anything. On round 2 it validates the request against the
// stored round 1 via wire.SameModuloAcceptedPort, spawns (or looks up) the
// peer's controller, and replies with KexDone true.
func (g *GatewayKEx) HandleKExRequest(ctx context.Context, req wire.KeyExchangeRequest, sender connection.Sender) {
	if req.AcceptedPlatformH2HPort == nil {
		g.storePending(req)
		g.sendResponse(ctx, sender, req.MachineID, 0, false)
		return
	}

	round1, ok := g.takePending(req.MachineID)
	if !ok || !wire.SameModuloAcceptedPort(round1, req) {
		g.sendError(ctx, sender, wire.ErrCodeSetupError, "gateway kex: round-2 request did not match round-1")
		return
	}

	if _, ok := g.Manager.Get(req.MachineID); !ok {
		controller, err := g.NewController(req.MachineID)
		if err != nil {
			g.Logger.Error("gateway kex: building controller failed", "peer", req.MachineID, "error", err)
			g.sendError(ctx, sender, wire.ErrCodeSetupError, "gateway kex: building controller failed")
			return
		}
		if _, err := g.Manager.SpawnNew(ctx, req.MachineID, controller); err != nil {
			g.Logger.Warn("gateway kex: spawn rejected", "peer", req.MachineID, "error", err)
			code := uint64(wire.ErrCodeSetupError)
			switch err.(type) {
			case *manager.AlreadyExistsError:
				code = wire.ErrCodeAlreadyExists
			case *manager.CapacityError:
				code = wire.ErrCodeNotSupported
			}
			g.sendError(ctx, sender, code, err.Error())
			return
		}
	}

	g.sendResponse(ctx, sender, req.MachineID, *req.AcceptedPlatformH2HPort, true)
}

func (g *GatewayKEx) sendResponse(ctx context.Context, sender connection.Sender, machineID string, bridgeH2HPort uint16, done bool) {
	resp := wire.KeyExchangeResponse{
		MachineID:              machineID,
		CardanoVKey:            g.CardanoVKey,
		HydraVKey:              g.HydraVKey,
		HydraScriptsTxID:       g.HydraScriptsTxID,
		ProtocolParameters:     g.ProtocolParameters,
		ContestationPeriodSecs: g.ContestationPeriod,
		GatewayH2HPort:         g.GatewayH2HPort,
		BridgeH2HPort:          bridgeH2HPort,
		KexDone:                done,
		Payment:                g.Payment,
	}
	text, err := wire.EncodeKExResponse(resp)
	if err != nil {
		g.Logger.Error("gateway kex: encode response", "peer", machineID, "error", err)
		return
	}
	if err := sender.SendText(ctx, text); err != nil {
		g.Logger.Warn("gateway kex: send response", "peer", machineID, "error", err)
	}
}

func (g *GatewayKEx) sendError(ctx context.Context, sender connection.Sender, code uint64, msg string) {
	text, err := wire.EncodeError(code, msg)
	if err != nil {
		g.Logger.Error("gateway kex: encode error envelope", "error", err)
		return
	}
	if err := sender.SendText(ctx, text); err != nil {
		g.Logger.Warn("gateway kex: send error envelope", "error", err)
	}
}

// HandleKExResponse implements connection.KExHandler. The Gateway never
// receives a Response envelope; it only ever sends one.
func (g *GatewayKEx) HandleKExResponse(ctx context.Context, resp wire.KeyExchangeResponse, sender connection.Sender) {
	g.Logger.Warn("gateway kex: unexpected Response envelope from peer", "peer", resp.MachineID)
}

// BridgeKEx implements connection.KExHandler on the Bridge side.
type BridgeKEx struct {
	Controller   *hydra.Controller
	MachineID    string
	CardanoVKey  wire.VKeyEnvelope
	HydraVKey    wire.VKeyEnvelope
	LocalH2HPort uint16
	Logger       *slog.Logger
}

var _ connection.KExHandler = (*BridgeKEx)(nil)

// SendInitialRequest sends the Bridge's KeyExchangeRequest once a connection
// is established; it is the Bridge's half of the handshake's opening move.
func (b *BridgeKEx) SendInitialRequest(ctx context.Context, sender connection.Sender, acceptedPort *uint16) error {
	req := wire.KeyExchangeRequest{
		MachineID:               b.MachineID,
		CardanoVKey:             b.CardanoVKey,
		HydraVKey:               b.HydraVKey,
		AcceptedPlatformH2HPort: acceptedPort,
	}
	text, err := wire.EncodeKExRequest(req)
	if err != nil {
		return err
	}
	return sender.SendText(ctx, text)
}

// HandleKExRequest implements connection.KExHandler. The Bridge never
// receives a Request envelope; it only ever sends one.
func (b *BridgeKEx) HandleKExRequest(ctx context.Context, req wire.KeyExchangeRequest, sender connection.Sender) {
	b.Logger.Warn("bridge kex: unexpected Request envelope from peer", "peer", req.MachineID)
}

// HandleKExResponse implements connection.KExHandler. A round-1 response
// (KexDone false) only carries the Gateway's key material and its proposed
// H2H port; it triggers round 2, echoing the same request back with this
// Bridge's accepted H2H port filled in. Only a round-2 response (KexDone
// true) feeds the negotiated payment parameters into the controller.
func (b *BridgeKEx) HandleKExResponse(ctx context.Context, resp wire.KeyExchangeResponse, sender connection.Sender) {
	if !resp.KexDone {
		if err := b.SendInitialRequest(ctx, sender, &b.LocalH2HPort); err != nil {
			b.Logger.Warn("bridge kex: send round-2 request", "error", err)
		}
		return
	}
	select {
	case b.Controller.Events() <- hydra.Event{Kind: hydra.EvKeyExchangeResponse, KExResponse: &resp}:
	case <-ctx.Done():
	}
}
