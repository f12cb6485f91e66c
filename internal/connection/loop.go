package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockfrost/hydra-bridge/internal/wire"
)

// KExHandler reacts to the two HydraKEx envelope variants (§4.3).
type KExHandler interface {
	HandleKExRequest(ctx context.Context, req wire.KeyExchangeRequest, sender Sender)
	HandleKExResponse(ctx context.Context, resp wire.KeyExchangeResponse, sender Sender)
}

// RequestRouter reacts to the two HTTP-proxy envelope variants (§4.5).
type RequestRouter interface {
	HandleRequest(ctx context.Context, req wire.JsonRequest, sender Sender)
	HandleResponse(ctx context.Context, resp wire.JsonResponse)
}

// TunnelHandler reacts to inbound tunnel envelopes (§4.2).
type TunnelHandler interface {
	OnMsg(msg wire.TunnelMsg)
}

// Config controls the loop's liveness behavior (§4.4).
type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 45 * time.Second
	}
	return c
}

// Loop owns one connection's full lifecycle: it reads envelopes off
// Transport and dispatches them to the KEx, Router, and Tunnel subsystems,
// while independently driving ping/pong liveness and forwarding the
// tunnel's own outbound traffic back onto the wire.
type Loop struct {
	Transport Transport
	KEx       KExHandler
	Router    RequestRouter
	Tunnel    TunnelHandler
	TunnelOut <-chan wire.TunnelMsg
	Logger    *slog.Logger
	Config    Config

	nextPingID atomic.Uint64

	mu       sync.Mutex
	lastPong time.Time
}

// Run blocks until the connection terminates — by ctx cancellation, a
// transport read/write failure, or a missed liveness deadline — and always
// returns a non-nil error (ctx.Err() on clean shutdown).
func (l *Loop) Run(ctx context.Context) error {
	cfg := l.Config.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer l.Transport.Close()

	l.mu.Lock()
	l.lastPong = time.Now()
	l.mu.Unlock()

	errCh := make(chan error, 3)
	go l.readLoop(ctx, errCh)
	go l.pingLoop(ctx, cfg, errCh)
	go l.tunnelForwardLoop(ctx, errCh)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (l *Loop) readLoop(ctx context.Context, errCh chan<- error) {
	sender := senderFunc(l.Transport.Send)
	for {
		text, err := l.Transport.Recv(ctx)
		if err != nil {
			select {
			case errCh <- &ConnectionError{Stage: "read", Err: err}:
			case <-ctx.Done():
			}
			return
		}

		decoded, err := wire.Decode(text)
		if err != nil {
			l.Logger.Warn("connection: dropping malformed frame", "remote", l.Transport.RemoteAddr(), "error", err)
			continue
		}

		switch decoded.Tag {
		case wire.TagKExRequest:
			l.KEx.HandleKExRequest(ctx, *decoded.KExRequest, sender)
		case wire.TagKExResponse:
			l.KEx.HandleKExResponse(ctx, *decoded.KExResponse, sender)
		case wire.TagRequest:
			l.Router.HandleRequest(ctx, *decoded.Request, sender)
		case wire.TagResponse:
			l.Router.HandleResponse(ctx, *decoded.Response)
		case wire.TagTunnel:
			l.Tunnel.OnMsg(*decoded.Tunnel)
		case wire.TagPing:
			l.replyPong(ctx, decoded.PingID, errCh)
		case wire.TagPong:
			l.mu.Lock()
			l.lastPong = time.Now()
			l.mu.Unlock()
		case wire.TagError:
			l.Logger.Warn("connection: peer sent error envelope", "remote", l.Transport.RemoteAddr(), "code", decoded.Err.Code, "msg", decoded.Err.Msg)
		}
	}
}

func (l *Loop) replyPong(ctx context.Context, id uint64, errCh chan<- error) {
	text, err := wire.EncodePong(id)
	if err != nil {
		return
	}
	if err := l.Transport.Send(ctx, text); err != nil {
		select {
		case errCh <- &ConnectionError{Stage: "write pong", Err: err}:
		case <-ctx.Done():
		}
	}
}

func (l *Loop) pingLoop(ctx context.Context, cfg Config, errCh chan<- error) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			stale := time.Since(l.lastPong) > cfg.PongTimeout
			l.mu.Unlock()
			if stale {
				select {
				case errCh <- &ConnectionError{Stage: "liveness", Err: errors.New("peer missed pong deadline")}:
				case <-ctx.Done():
				}
				return
			}

			id := l.nextPingID.Add(1)
			text, err := wire.EncodePing(id)
			if err != nil {
				continue
			}
			if err := l.Transport.Send(ctx, text); err != nil {
				select {
				case errCh <- &ConnectionError{Stage: "write ping", Err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}
}

func (l *Loop) tunnelForwardLoop(ctx context.Context, errCh chan<- error) {
	if l.TunnelOut == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-l.TunnelOut:
			if !ok {
				return
			}
			text, err := wire.EncodeTunnel(msg)
			if err != nil {
				continue
			}
			if err := l.Transport.Send(ctx, text); err != nil {
				select {
				case errCh <- &ConnectionError{Stage: "write tunnel frame", Err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}
}
