package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockfrost/hydra-bridge/internal/wire"
)

type capturingBridgeSender struct {
	sent chan string
}

func newCapturingBridgeSender() *capturingBridgeSender {
	return &capturingBridgeSender{sent: make(chan string, 16)}
}

func (c *capturingBridgeSender) SendText(ctx context.Context, text string) error {
	c.sent <- text
	return nil
}

func TestServeHTTPWaitsForMatchingResponse(t *testing.T) {
	sender := newCapturingBridgeSender()
	router := NewBridgeRouter(sender, discardLogger())

	server := httptest.NewServer(router)
	defer server.Close()

	respCh := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get(server.URL + "/blocks/latest")
		require.NoError(t, err)
		respCh <- resp
	}()

	var sentText string
	select {
	case sentText = <-sender.sent:
	case <-time.After(time.Second):
		t.Fatal("expected a request to be sent upstream")
	}

	decoded, err := wire.Decode(sentText)
	require.NoError(t, err)
	require.Equal(t, wire.TagRequest, decoded.Tag)
	require.Equal(t, "/blocks/latest", decoded.Request.Path)
	require.NotEqual(t, "", decoded.Request.ID.String())

	router.HandleResponse(context.Background(), wire.JsonResponse{
		ID:         decoded.Request.ID,
		Code:       http.StatusOK,
		BodyBase64: "eyJoYXNoIjoiYWJjIn0=", // {"hash":"abc"}
	})

	select {
	case resp := <-respCh:
		require.Equal(t, http.StatusOK, resp.StatusCode)
	case <-time.After(time.Second):
		t.Fatal("expected ServeHTTP to complete once response arrived")
	}
}

func TestServeHTTPTimesOutWithoutResponse(t *testing.T) {
	sender := newCapturingBridgeSender()
	router := NewBridgeRouter(sender, discardLogger())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 20*time.Millisecond)
		defer cancel()
		r = r.WithContext(ctx)
		router.ServeHTTP(w, r)
	}))
	defer server.Close()

	resp, err := http.Get(server.URL + "/blocks/latest")
	require.NoError(t, err)
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestHandleResponseIgnoresUnknownID(t *testing.T) {
	sender := newCapturingBridgeSender()
	router := NewBridgeRouter(sender, discardLogger())
	require.NotPanics(t, func() {
		router.HandleResponse(context.Background(), wire.JsonResponse{})
	})
}
