package tunnel

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/blockfrost/hydra-bridge/internal/wire"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDataForUnknownIDIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tun, out := New(ctx, Config{ExposePort: 1}, discardLogger())

	tun.OnMsg(wire.TunnelData(999, "aGk="))

	select {
	case msg := <-out:
		t.Fatalf("expected no outbound message, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOpenForAttachedIDReplacesWithoutNotifyingPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	go func() {
		for i := 0; i < 2; i++ {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
		<-ctx.Done()
	}()

	tun, out := New(ctx, Config{ExposePort: port}, discardLogger())

	tun.OnMsg(wire.TunnelOpen(1))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, tun.StreamCount())

	tun.OnMsg(wire.TunnelOpen(1)) // duplicate: old stream closed, no peer Close emitted for it
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, tun.StreamCount())

	// The replaced stream is closed locally only, so no Close for id 1 may
	// reach the peer.
	select {
	case msg := <-out:
		require.False(t, msg.Type == wire.TunnelCloseType && msg.ID == 1, "unexpected Close for replaced stream: %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestInvalidBase64EmitsProtocolErrorClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
		}
		<-ctx.Done()
	}()

	tun, out := New(ctx, Config{ExposePort: port}, discardLogger())
	tun.OnMsg(wire.TunnelOpen(5))
	time.Sleep(20 * time.Millisecond)

	tun.OnMsg(wire.TunnelData(5, "not-valid-base64!!"))

	select {
	case msg := <-out:
		require.Equal(t, wire.TunnelCloseType, msg.Type)
		require.Equal(t, uint8(wire.TunnelCloseProtocolError), msg.Code)
	case <-time.After(time.Second):
		t.Fatal("expected a protocol-error Close message")
	}
}

func TestOpenDialFailureEmitsIOErrorClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tun, out := New(ctx, Config{ExposePort: 1}, discardLogger()) // nothing listens on :1

	tun.OnMsg(wire.TunnelOpen(3))

	select {
	case msg := <-out:
		require.Equal(t, wire.TunnelCloseType, msg.Type)
		require.Equal(t, uint64(3), msg.ID)
		require.Equal(t, uint8(wire.TunnelCloseIOError), msg.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an io-error Close message")
	}
}

func TestIDPrefixBitSeparatesAllocationSpace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	low, _ := New(ctx, Config{ExposePort: 1, IDPrefixBit: false}, discardLogger())
	high, _ := New(ctx, Config{ExposePort: 1, IDPrefixBit: true}, discardLogger())

	require.Less(t, low.allocID(), uint64(1)<<63)
	require.GreaterOrEqual(t, high.allocID(), uint64(1)<<63)
}
