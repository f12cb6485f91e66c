package hydranode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHeadStatusParsesTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/head", r.URL.Path)
		w.Write([]byte(`{"tag":"Open"}`))
	}))
	defer srv.Close()

	port := mustPort(t, srv.URL)
	c := NewAdminClient()
	status, err := c.HeadStatus(context.Background(), port)
	require.NoError(t, err)
	require.Equal(t, "Open", status)
}

func TestCommitReturnsCBORHex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"cborHex":"deadbeef"}`))
	}))
	defer srv.Close()

	port := mustPort(t, srv.URL)
	c := NewAdminClient()
	cborHex, err := c.Commit(context.Background(), port, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, "deadbeef", cborHex)
}

func TestPeersConnectedParsesExposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# HELP hydra_head_peers_connected peers\n# TYPE hydra_head_peers_connected gauge\nhydra_head_peers_connected 3\n"))
	}))
	defer srv.Close()

	port := mustPort(t, srv.URL)
	c := NewAdminClient()
	n, err := c.PeersConnected(context.Background(), port)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

var upgrader = websocket.Upgrader{}

func TestSendCommandWritesTaggedEnvelope(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		received <- string(msg)
	}))
	defer srv.Close()

	port := mustPort(t, srv.URL)
	c := NewAdminClient()
	require.NoError(t, c.SendCommand(context.Background(), port, "Close"))

	select {
	case msg := <-received:
		require.Contains(t, msg, `"tag":"Close"`)
	case <-time.After(time.Second):
		t.Fatal("expected server to receive the command payload")
	}
}

func mustPort(t *testing.T, rawURL string) int {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}
