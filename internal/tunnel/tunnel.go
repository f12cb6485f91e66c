// Package tunnel implements the TCP-over-WebSocket tunnel (§4.2) used to
// carry peer-to-peer hydra-node gossip through the Gateway<->Bridge
// WebSocket when the two nodes cannot reach each other directly.
package tunnel

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/blockfrost/hydra-bridge/internal/wire"
)

// Config controls tunnel behavior (§4.2 tie-breaks and edge cases).
type Config struct {
	// ExposePort is the local port an inbound Open{id} dials into.
	ExposePort int
	// IDPrefixBit selects which half of the 64-bit id space this side
	// allocates from, so the two peers never collide.
	IDPrefixBit bool
	// ChunkSize is the read-buffer size per stream. Default 8 KiB.
	ChunkSize int
	// OutboundCapacity bounds the outbound channel; backpressure is the
	// flow control mechanism.
	OutboundCapacity int
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 8 * 1024
	}
	if c.OutboundCapacity <= 0 {
		c.OutboundCapacity = 256
	}
	return c
}

const highHalfBase = uint64(1) << 63

type stream struct {
	id         uint64
	conn       net.Conn
	writeCh    chan []byte
	cancel     context.CancelFunc
	peerClosed atomic.Bool
}

// Tunnel multiplexes N independent TCP byte streams over the owning
// connection's envelope stream.
type Tunnel struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	streams map[uint64]*stream
	nextID  uint64

	outboundCh chan wire.TunnelMsg

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a tunnel bound to cancelCtx. Cancelling cancelCtx (or
// calling Cancel) tears down every attached stream.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Tunnel, <-chan wire.TunnelMsg) {
	cfg = cfg.withDefaults()
	tctx, cancel := context.WithCancel(ctx)
	t := &Tunnel{
		cfg:        cfg,
		logger:     logger,
		streams:    make(map[uint64]*stream),
		outboundCh: make(chan wire.TunnelMsg, cfg.OutboundCapacity),
		ctx:        tctx,
		cancel:     cancel,
	}
	if cfg.IDPrefixBit {
		t.nextID = highHalfBase
	} else {
		t.nextID = 1
	}
	return t, t.outboundCh
}

func (t *Tunnel) allocID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	return id
}

func (t *Tunnel) emit(msg wire.TunnelMsg) {
	select {
	case t.outboundCh <- msg:
	case <-t.ctx.Done():
	}
}

// SpawnListener binds 127.0.0.1:listenPort and, for each accepted local TCP
// connection, allocates a fresh id, emits Open{id}, and attaches the socket.
func (t *Tunnel) SpawnListener(listenPort int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", listenPort))
	if err != nil {
		return fmt.Errorf("tunnel: listen 127.0.0.1:%d: %w", listenPort, err)
	}
	go func() {
		<-t.ctx.Done()
		ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if t.ctx.Err() != nil {
					return
				}
				t.logger.Warn("tunnel listener accept error", "error", err)
				continue
			}
			id := t.allocID()
			t.attach(id, conn)
			t.emit(wire.TunnelOpen(id))
		}
	}()
	return nil
}

// OnMsg handles one inbound tunnel message received from the wire.
func (t *Tunnel) OnMsg(msg wire.TunnelMsg) {
	switch msg.Type {
	case wire.TunnelOpenType:
		t.handleOpen(msg.ID)
	case wire.TunnelDataType:
		t.handleData(msg.ID, msg.B64)
	case wire.TunnelCloseType:
		t.handleClose(msg.ID)
	default:
		t.logger.Warn("tunnel: unknown message type", "type", msg.Type)
	}
}

func (t *Tunnel) handleOpen(id uint64) {
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", t.cfg.ExposePort))
	if err != nil {
		t.emit(wire.TunnelClose(id, wire.TunnelCloseIOError, err.Error()))
		return
	}
	t.attach(id, conn)
}

func (t *Tunnel) handleData(id uint64, b64 string) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.emit(wire.TunnelClose(id, wire.TunnelCloseProtocolError, "invalid base64"))
		return
	}
	t.mu.Lock()
	s, ok := t.streams[id]
	t.mu.Unlock()
	if !ok {
		return // unknown id: silently dropped (§4.2)
	}
	select {
	case s.writeCh <- data:
	case <-t.ctx.Done():
	}
}

func (t *Tunnel) handleClose(id uint64) {
	t.mu.Lock()
	s, ok := t.streams[id]
	if ok {
		delete(t.streams, id)
	}
	t.mu.Unlock()
	if ok {
		s.peerClosed.Store(true)
		s.cancel()
		s.conn.Close()
	}
}

// attach registers conn under id and starts its read/write loop. If id is
// already attached, the older stream is closed locally without notifying
// the peer (§4.2 tie-break).
func (t *Tunnel) attach(id uint64, conn net.Conn) {
	sctx, cancel := context.WithCancel(t.ctx)
	s := &stream{
		id:      id,
		conn:    conn,
		writeCh: make(chan []byte, 16),
		cancel:  cancel,
	}

	t.mu.Lock()
	if old, exists := t.streams[id]; exists {
		old.peerClosed.Store(true) // suppress the old stream's Close to the peer
		old.cancel()
		old.conn.Close()
	}
	t.streams[id] = s
	t.mu.Unlock()

	go t.runStream(sctx, s)
}

func (t *Tunnel) removeIfCurrent(s *stream) {
	t.mu.Lock()
	if cur, ok := t.streams[s.id]; ok && cur == s {
		delete(t.streams, s.id)
	}
	t.mu.Unlock()
}

// runStream is the per-stream loop: it selects on cancellation, local
// reads, and queued writes, per §4.2.
func (t *Tunnel) runStream(ctx context.Context, s *stream) {
	readDone := make(chan struct{})
	readResult := make(chan readOutcome, 1)

	go func() {
		defer close(readDone)
		buf := make([]byte, t.cfg.ChunkSize)
		for {
			n, err := s.conn.Read(buf)
			if n > 0 {
				b64 := base64.StdEncoding.EncodeToString(buf[:n])
				select {
				case readResult <- readOutcome{data: b64}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case readResult <- readOutcome{err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	peerInitiated := false
	var exitCode uint8
	var exitMsg string

	defer func() {
		t.removeIfCurrent(s)
		s.conn.Close()
		if !peerInitiated && !s.peerClosed.Load() {
			t.emit(wire.TunnelClose(s.id, exitCode, exitMsg))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			peerInitiated = s.peerClosed.Load()
			exitCode = wire.TunnelCloseCancelled
			exitMsg = "cancelled"
			return
		case out := <-readResult:
			if out.err != nil {
				if isEOF(out.err) {
					exitCode = wire.TunnelCloseClean
				} else {
					exitCode = wire.TunnelCloseIOError
					exitMsg = out.err.Error()
				}
				return
			}
			t.emit(wire.TunnelData(s.id, out.data))
		case data := <-s.writeCh:
			if _, err := s.conn.Write(data); err != nil {
				exitCode = wire.TunnelCloseIOError
				exitMsg = err.Error()
				return
			}
		}
	}
}

type readOutcome struct {
	data string
	err  error
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// Cancel fires the tunnel's cancellation token, tearing down every attached
// stream.
func (t *Tunnel) Cancel() {
	t.cancel()
}

// StreamCount reports the number of currently attached streams, used by the
// operator dashboard.
func (t *Tunnel) StreamCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}
