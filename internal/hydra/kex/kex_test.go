package kex

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockfrost/hydra-bridge/internal/hydra"
	"github.com/blockfrost/hydra-bridge/internal/manager"
	"github.com/blockfrost/hydra-bridge/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturingSender struct {
	sent chan string
}

func (c *capturingSender) SendText(ctx context.Context, text string) error {
	c.sent <- text
	return nil
}

type stubNode struct{}

func (stubNode) Start(ctx context.Context, args hydra.NodeArgs) error { return nil }
func (stubNode) Stop()                                                {}
func (stubNode) Exited() <-chan error                                 { return make(chan error) }
func (stubNode) APIPort() int                                         { return 4001 }
func (stubNode) MetricsPort() int                                     { return 4002 }

type stubAdmin struct{}

func (stubAdmin) HeadStatus(ctx context.Context, apiPort int) (string, error) {
	return hydra.StatusIdle, nil
}
func (stubAdmin) Commit(ctx context.Context, apiPort int, body json.RawMessage) (string, error) {
	return "", nil
}
func (stubAdmin) SendCommand(ctx context.Context, apiPort int, tag string) error { return nil }
func (stubAdmin) PeersConnected(ctx context.Context, metricsPort int) (int, error) {
	return 0, nil
}

type stubWallet struct{}

func (stubWallet) EnsureHydraKeys(ctx context.Context) (string, error) { return "", nil }
func (stubWallet) FuelBalance(ctx context.Context) (uint64, error)     { return 0, nil }
func (stubWallet) CommitUTXO(ctx context.Context) (json.RawMessage, error) {
	return nil, nil
}
func (stubWallet) FundCommitWallet(ctx context.Context, targetLovelace uint64) error { return nil }
func (stubWallet) CommitWalletBalance(ctx context.Context) (uint64, error)           { return 0, nil }
func (stubWallet) SignAndSubmit(ctx context.Context, cborHex string) error           { return nil }

type stubLedger struct{}

func (stubLedger) PayeeBalance(ctx context.Context) (uint64, error) { return 0, nil }
func (stubLedger) SendMicrotransaction(ctx context.Context, lovelace uint64, toAddr string) error {
	return nil
}

func newTestController() *hydra.Controller {
	c := hydra.NewController(hydra.RoleBridge, hydra.BridgeBehavior{GatewayAddr: "gw"}, func() hydra.NodeArgs {
		return hydra.NodeArgs{}
	}, stubNode{}, stubAdmin{}, stubWallet{}, stubLedger{}, discardLogger())
	c.RestartDelay = time.Hour
	c.PollRetryDelay = time.Hour
	return c
}

func recvResponse(t *testing.T, sender *capturingSender) wire.KeyExchangeResponse {
	t.Helper()
	select {
	case text := <-sender.sent:
		decoded, err := wire.Decode(text)
		require.NoError(t, err)
		require.Equal(t, wire.TagKExResponse, decoded.Tag)
		return *decoded.KExResponse
	case <-time.After(time.Second):
		t.Fatal("expected a KeyExchangeResponse to be sent")
		return wire.KeyExchangeResponse{}
	}
}

func TestGatewayKExRoundOneDoesNotSpawnController(t *testing.T) {
	mgr := manager.New(10, discardLogger())
	gw := &GatewayKEx{
		Manager: mgr,
		NewController: func(peerID string) (*hydra.Controller, error) {
			t.Fatal("round 1 must not spawn a controller")
			return nil, nil
		},
		GatewayH2HPort: 9000,
		Payment:        wire.PaymentParams{RequestsPerMicrotransaction: 100},
		Logger:         discardLogger(),
	}

	sender := &capturingSender{sent: make(chan string, 1)}
	req := wire.KeyExchangeRequest{MachineID: "peer-1"}
	gw.HandleKExRequest(context.Background(), req, sender)

	_, ok := mgr.Get("peer-1")
	require.False(t, ok)

	resp := recvResponse(t, sender)
	require.Equal(t, "peer-1", resp.MachineID)
	require.False(t, resp.KexDone)
}

func TestGatewayKExRoundTwoSpawnsControllerAndReplies(t *testing.T) {
	mgr := manager.New(10, discardLogger())
	gw := &GatewayKEx{
		Manager: mgr,
		NewController: func(peerID string) (*hydra.Controller, error) {
			return newTestController(), nil
		},
		GatewayH2HPort: 9000,
		Payment:        wire.PaymentParams{RequestsPerMicrotransaction: 100},
		Logger:         discardLogger(),
	}

	sender := &capturingSender{sent: make(chan string, 2)}
	req := wire.KeyExchangeRequest{MachineID: "peer-1"}
	gw.HandleKExRequest(context.Background(), req, sender)
	recvResponse(t, sender)

	port := uint16(7000)
	req2 := req
	req2.AcceptedPlatformH2HPort = &port
	gw.HandleKExRequest(context.Background(), req2, sender)

	_, ok := mgr.Get("peer-1")
	require.True(t, ok)

	resp := recvResponse(t, sender)
	require.True(t, resp.KexDone)
	require.Equal(t, port, resp.BridgeH2HPort)
}

func TestGatewayKExRoundTwoWithoutRoundOneSendsError(t *testing.T) {
	mgr := manager.New(10, discardLogger())
	gw := &GatewayKEx{
		Manager: mgr,
		NewController: func(peerID string) (*hydra.Controller, error) {
			t.Fatal("must not spawn a controller for an unmatched round 2")
			return nil, nil
		},
		Logger: discardLogger(),
	}

	sender := &capturingSender{sent: make(chan string, 1)}
	port := uint16(7000)
	req := wire.KeyExchangeRequest{MachineID: "peer-1", AcceptedPlatformH2HPort: &port}
	gw.HandleKExRequest(context.Background(), req, sender)

	select {
	case text := <-sender.sent:
		decoded, err := wire.Decode(text)
		require.NoError(t, err)
		require.Equal(t, wire.TagError, decoded.Tag)
		require.Equal(t, uint64(wire.ErrCodeSetupError), decoded.Err.Code)
	case <-time.After(time.Second):
		t.Fatal("expected an Error envelope to be sent")
	}
}

func TestGatewayKExRoundTwoAtCapacitySendsNotSupportedError(t *testing.T) {
	mgr := manager.New(1, discardLogger())
	_, err := mgr.SpawnNew(context.Background(), "already-here", newTestController())
	require.NoError(t, err)

	gw := &GatewayKEx{
		Manager: mgr,
		NewController: func(peerID string) (*hydra.Controller, error) {
			return newTestController(), nil
		},
		Logger: discardLogger(),
	}

	sender := &capturingSender{sent: make(chan string, 2)}
	req := wire.KeyExchangeRequest{MachineID: "peer-3"}
	gw.HandleKExRequest(context.Background(), req, sender)
	recvResponse(t, sender)

	port := uint16(7000)
	req2 := req
	req2.AcceptedPlatformH2HPort = &port
	gw.HandleKExRequest(context.Background(), req2, sender)

	select {
	case text := <-sender.sent:
		decoded, err := wire.Decode(text)
		require.NoError(t, err)
		require.Equal(t, wire.TagError, decoded.Tag)
		require.Equal(t, uint64(wire.ErrCodeNotSupported), decoded.Err.Code)
	case <-time.After(time.Second):
		t.Fatal("expected an Error envelope to be sent")
	}
}

func TestGatewayKExDoesNotDuplicateExistingController(t *testing.T) {
	mgr := manager.New(10, discardLogger())
	calls := 0
	gw := &GatewayKEx{
		Manager: mgr,
		NewController: func(peerID string) (*hydra.Controller, error) {
			calls++
			return newTestController(), nil
		},
		Logger: discardLogger(),
	}

	sender := &capturingSender{sent: make(chan string, 4)}
	port := uint16(7000)
	req := wire.KeyExchangeRequest{MachineID: "peer-2"}
	req2 := req
	req2.AcceptedPlatformH2HPort = &port

	gw.HandleKExRequest(context.Background(), req, sender)
	recvResponse(t, sender)
	gw.HandleKExRequest(context.Background(), req2, sender)
	recvResponse(t, sender)

	gw.HandleKExRequest(context.Background(), req, sender)
	recvResponse(t, sender)
	gw.HandleKExRequest(context.Background(), req2, sender)
	recvResponse(t, sender)

	require.Equal(t, 1, calls)
}

func TestBridgeKExSendsInitialRequest(t *testing.T) {
	b := &BridgeKEx{
		MachineID:   "this-bridge",
		CardanoVKey: wire.VKeyEnvelope{Type: "PaymentVerificationKeyShelley_ed25519"},
		Logger:      discardLogger(),
	}
	sender := &capturingSender{sent: make(chan string, 1)}
	require.NoError(t, b.SendInitialRequest(context.Background(), sender, nil))

	text := <-sender.sent
	decoded, err := wire.Decode(text)
	require.NoError(t, err)
	require.Equal(t, wire.TagKExRequest, decoded.Tag)
	require.Equal(t, "this-bridge", decoded.KExRequest.MachineID)
}

func TestBridgeKExHandleResponseDoesNotBlock(t *testing.T) {
	controller := newTestController()
	b := &BridgeKEx{Controller: controller, Logger: discardLogger()}

	resp := wire.KeyExchangeResponse{KexDone: true, Payment: wire.PaymentParams{RequestsPerMicrotransaction: 42}}
	sender := &capturingSender{sent: make(chan string, 1)}
	done := make(chan struct{})
	go func() {
		b.HandleKExResponse(context.Background(), resp, sender)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected HandleKExResponse to enqueue without blocking")
	}
}

func TestBridgeKExHandleResponseRoundOneSendsRoundTwo(t *testing.T) {
	b := &BridgeKEx{MachineID: "this-bridge", LocalH2HPort: 7000, Logger: discardLogger()}

	resp := wire.KeyExchangeResponse{MachineID: "this-bridge", KexDone: false}
	sender := &capturingSender{sent: make(chan string, 1)}
	b.HandleKExResponse(context.Background(), resp, sender)

	select {
	case text := <-sender.sent:
		decoded, err := wire.Decode(text)
		require.NoError(t, err)
		require.Equal(t, wire.TagKExRequest, decoded.Tag)
		require.NotNil(t, decoded.KExRequest.AcceptedPlatformH2HPort)
		require.Equal(t, uint16(7000), *decoded.KExRequest.AcceptedPlatformH2HPort)
	case <-time.After(time.Second):
		t.Fatal("expected a round-2 KeyExchangeRequest to be sent")
	}
}
