// Package wsclient implements the Bridge-side half of the transport shell: a
// gorilla/websocket dialer that reconnects with backoff and, on each
// successful connection, drives the key-exchange handshake before handing
// the socket to a connection.Loop, grounded on the teacher's NewClientWithWebSocket
// dialer (internal/bus).
package wsclient

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blockfrost/hydra-bridge/internal/connection"
	"github.com/blockfrost/hydra-bridge/internal/hydra/kex"
	"github.com/blockfrost/hydra-bridge/internal/router"
	"github.com/blockfrost/hydra-bridge/internal/tunnel"
)

// Config controls the Bridge's dial target, reconnect cadence, and the
// local listener operators point their Blockfrost-style client at.
type Config struct {
	GatewayURL    string // e.g. wss://gateway.example.com/ws
	TunnelConfig  tunnel.Config
	ConnConfig    connection.Config
	MinBackoff    time.Duration
	MaxBackoff    time.Duration
	LocalHTTPAddr string // address BridgeRouter's local http.Server binds
}

func (c Config) withDefaults() Config {
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Client maintains the Bridge's single outbound connection to the Gateway,
// reconnecting with exponential backoff whenever it drops, and the local
// HTTP listener operators point their Blockfrost-style client at (which
// survives reconnects unchanged).
type Client struct {
	cfg          Config
	kex          *kex.BridgeKEx
	bridgeRouter *router.BridgeRouter
	localServer  *http.Server
	logger       *slog.Logger
}

// New builds a Client bound to a BridgeKEx, which both sends the initial
// handshake request on connect and feeds the response into the local
// controller.
func New(cfg Config, bridgeKEx *kex.BridgeKEx, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	bridgeRouter := router.NewBridgeRouter(nil, logger.With("component", "router"))
	return &Client{
		cfg:          cfg,
		kex:          bridgeKEx,
		bridgeRouter: bridgeRouter,
		localServer:  &http.Server{Addr: cfg.LocalHTTPAddr, Handler: bridgeRouter},
		logger:       logger,
	}
}

// Run starts the local HTTP listener and the reconnecting WebSocket dial
// loop; it blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	listenErrCh := make(chan error, 1)
	go func() {
		if err := c.localServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErrCh <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.localServer.Shutdown(shutdownCtx)
	}()

	dialErrCh := make(chan error, 1)
	go func() { dialErrCh <- c.dialLoop(ctx) }()

	select {
	case err := <-listenErrCh:
		return err
	case err := <-dialErrCh:
		return err
	}
}

func (c *Client) dialLoop(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("wsclient: connection ended, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.GatewayURL, nil)
	if err != nil {
		return err
	}

	transport := connection.NewWSTransport(conn)
	defer transport.Close()

	tunnelCfg := c.cfg.TunnelConfig
	tunnelCfg.IDPrefixBit = false // Bridge allocates from the low half of the id space
	tun, tunnelOut := tunnel.New(ctx, tunnelCfg, c.logger.With("component", "tunnel"))

	c.bridgeRouter.SetSender(transport)
	defer c.bridgeRouter.SetSender(nil)

	loop := &connection.Loop{
		Transport: transport,
		KEx:       c.kex,
		Router:    c.bridgeRouter,
		Tunnel:    tun,
		TunnelOut: tunnelOut,
		Logger:    c.logger,
		Config:    c.cfg.ConnConfig,
	}

	if err := c.kex.SendInitialRequest(ctx, transport, nil); err != nil {
		return err
	}

	return loop.Run(ctx)
}
