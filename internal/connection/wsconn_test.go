package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestWSTransportSendAndRecvRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverDone := make(chan struct{})
	var serverErr error

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			serverErr = err
			close(serverDone)
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			serverErr = err
			close(serverDone)
			return
		}
		serverErr = conn.WriteMessage(websocket.TextMessage, append([]byte("echo:"), msg...))
		close(serverDone)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	transport := NewWSTransport(conn)
	defer transport.Close()

	require.NoError(t, transport.Send(context.Background(), "hello"))

	<-serverDone
	require.NoError(t, serverErr)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	text, err := transport.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "echo:hello", text)

	require.NotEmpty(t, transport.RemoteAddr())
}
