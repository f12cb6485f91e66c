package router

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/blockfrost/hydra-bridge/internal/connection"
	"github.com/blockfrost/hydra-bridge/internal/hydra"
	"github.com/blockfrost/hydra-bridge/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedGate struct {
	result hydra.ConsumeResult
}

func (g *fixedGate) TryConsumeCredit() hydra.ConsumeResult { return g.result }

type capturingSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *capturingSender) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *capturingSender) last() wire.JsonResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	decoded, err := wire.Decode(c.sent[len(c.sent)-1])
	if err != nil {
		panic(err)
	}
	return *decoded.Response
}

func TestHandleRequestRejectsWhenHeadNotOpen(t *testing.T) {
	sender := &capturingSender{}
	router := &GatewayRouter{
		Backend:    http.DefaultClient,
		BackendURL: "http://unused",
		Gate:       &fixedGate{result: hydra.ConsumeHeadNotOpen},
		Logger:     discardLogger(),
	}

	router.HandleRequest(context.Background(), wire.JsonRequest{ID: uuid.New(), Method: "GET", Path: "/health"}, sender)

	resp := sender.last()
	require.EqualValues(t, http.StatusServiceUnavailable, resp.Code)
}

func TestHandleRequestRejectsWhenCreditsExhausted(t *testing.T) {
	sender := &capturingSender{}
	router := &GatewayRouter{
		Backend:    http.DefaultClient,
		BackendURL: "http://unused",
		Gate:       &fixedGate{result: hydra.ConsumeInsufficientCredits},
		Logger:     discardLogger(),
	}

	router.HandleRequest(context.Background(), wire.JsonRequest{ID: uuid.New(), Method: "GET", Path: "/health"}, sender)

	resp := sender.last()
	require.EqualValues(t, http.StatusPaymentRequired, resp.Code)
}

func TestHandleRequestProxiesToBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/blocks/latest", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("project_id"))
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"hash":"abc"}`))
	}))
	defer backend.Close()

	sender := &capturingSender{}
	router := &GatewayRouter{
		Backend:    backend.Client(),
		BackendURL: backend.URL,
		Gate:       &fixedGate{result: hydra.ConsumeOK},
		Logger:     discardLogger(),
	}

	req := wire.JsonRequest{
		ID:     uuid.New(),
		Method: "GET",
		Path:   "/blocks/latest",
		Header: []wire.Header{{Name: "project_id", Value: "secret"}},
	}
	router.HandleRequest(context.Background(), req, sender)

	resp := sender.last()
	require.EqualValues(t, http.StatusOK, resp.Code)
	body, err := base64.StdEncoding.DecodeString(resp.BodyBase64)
	require.NoError(t, err)
	require.JSONEq(t, `{"hash":"abc"}`, string(body))
}

func TestHandleRequestReportsBackendFailure(t *testing.T) {
	sender := &capturingSender{}
	router := &GatewayRouter{
		Backend:    http.DefaultClient,
		BackendURL: "http://127.0.0.1:1", // nothing listening
		Gate:       &fixedGate{result: hydra.ConsumeOK},
		Logger:     discardLogger(),
	}

	router.HandleRequest(context.Background(), wire.JsonRequest{ID: uuid.New(), Method: "GET", Path: "/x"}, sender)

	resp := sender.last()
	require.EqualValues(t, http.StatusBadGateway, resp.Code)
}

func TestHandleResponseLogsAndDoesNotPanic(t *testing.T) {
	router := &GatewayRouter{Logger: discardLogger()}
	require.NotPanics(t, func() {
		router.HandleResponse(context.Background(), wire.JsonResponse{ID: uuid.New()})
	})
}

var _ connection.Sender = (*capturingSender)(nil)
