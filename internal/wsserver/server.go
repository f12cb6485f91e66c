// Package wsserver implements the Gateway-side half of the transport shell:
// an http.Server that upgrades inbound Bridge connections to WebSocket and
// wires each one into its own connection.Loop, tunnel.Tunnel, and (once its
// key-exchange handshake completes) hydra.Controller, grounded on the
// teacher's webchat upgrade handler.
package wsserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blockfrost/hydra-bridge/internal/connection"
	"github.com/blockfrost/hydra-bridge/internal/hydra"
	"github.com/blockfrost/hydra-bridge/internal/hydra/kex"
	"github.com/blockfrost/hydra-bridge/internal/router"
	"github.com/blockfrost/hydra-bridge/internal/tunnel"
	"github.com/blockfrost/hydra-bridge/internal/wire"
)

// connGate resolves router.CreditGate against whichever peer this
// connection's key-exchange identifies, since the Gateway's KExHandler is
// shared across all connections but each peer owns its own controller.
type connGate struct {
	kex    *kex.GatewayKEx
	peerID atomic.Value // string
}

func (g *connGate) HandleKExRequest(ctx context.Context, req wire.KeyExchangeRequest, sender connection.Sender) {
	g.peerID.Store(req.MachineID)
	g.kex.HandleKExRequest(ctx, req, sender)
}

func (g *connGate) HandleKExResponse(ctx context.Context, resp wire.KeyExchangeResponse, sender connection.Sender) {
	g.kex.HandleKExResponse(ctx, resp, sender)
}

func (g *connGate) TryConsumeCredit() hydra.ConsumeResult {
	peerID, _ := g.peerID.Load().(string)
	if peerID == "" {
		return hydra.ConsumeHeadNotOpen
	}
	controller, ok := g.kex.Manager.Get(peerID)
	if !ok {
		return hydra.ConsumeHeadNotOpen
	}
	return controller.TryConsumeCredit()
}

var _ connection.KExHandler = (*connGate)(nil)
var _ router.CreditGate = (*connGate)(nil)

// Config controls the Gateway's listener and per-connection wiring.
type Config struct {
	Addr           string
	BackendURL     string
	RequestTimeout time.Duration
	TunnelConfig   tunnel.Config
	ConnConfig     connection.Config
	BackendClient  *http.Client
}

// Server accepts inbound Bridge WebSocket connections.
type Server struct {
	cfg      Config
	kex      *kex.GatewayKEx
	logger   *slog.Logger
	upgrader websocket.Upgrader
	http     *http.Server
}

// New builds a Server around a shared GatewayKEx; each connection resolves
// its own credit gate against the controller its handshake spawns.
func New(cfg Config, gatewayKEx *kex.GatewayKEx, logger *slog.Logger) *Server {
	if cfg.BackendClient == nil {
		cfg.BackendClient = http.DefaultClient
	}
	s := &Server{
		cfg:      cfg,
		kex:      gatewayKEx,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	s.http = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// ListenAndServe runs the HTTP listener until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("wsserver: upgrade failed", "error", err)
		return
	}

	transport := connection.NewWSTransport(conn)
	tunnelCfg := s.cfg.TunnelConfig
	tunnelCfg.IDPrefixBit = true // Gateway allocates from the high half of the id space
	tun, tunnelOut := tunnel.New(r.Context(), tunnelCfg, s.logger.With("component", "tunnel"))

	gate := &connGate{kex: s.kex}
	connLogger := s.logger.With("remote", transport.RemoteAddr())
	loop := &connection.Loop{
		Transport: transport,
		KEx:       gate,
		Router: &router.GatewayRouter{
			Backend:        s.cfg.BackendClient,
			BackendURL:     s.cfg.BackendURL,
			Gate:           gate,
			RequestTimeout: s.cfg.RequestTimeout,
			Logger:         connLogger,
		},
		Tunnel:    tun,
		TunnelOut: tunnelOut,
		Logger:    connLogger,
		Config:    s.cfg.ConnConfig,
	}

	if err := loop.Run(r.Context()); err != nil {
		connLogger.Info("wsserver: connection closed", "error", err)
	}
}
