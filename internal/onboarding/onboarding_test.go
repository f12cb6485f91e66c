package onboarding

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockfrost/hydra-bridge/internal/config"
)

func TestIsNeededNoConfig(t *testing.T) {
	o := New(filepath.Join(t.TempDir(), "nonexistent-config.yaml"))
	require.True(t, o.IsNeeded())
}

func TestIsNeededWithExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0644))

	o := New(path)
	require.False(t, o.IsNeeded())
}

func TestSubmitHandlerWritesValidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	o := New(path)

	body := map[string]interface{}{
		"role":    map[string]interface{}{"role": "bridge", "gateway_addr": "wss://gw/ws", "backend_url": "http://127.0.0.1:3000"},
		"server":  map[string]interface{}{"host": "0.0.0.0", "port": 8080},
		"network": map[string]interface{}{"mainnet": false, "testnet_magic": 1, "node_socket": "/ipc/node.socket"},
		"payment": map[string]interface{}{"requests_per_microtransaction": 1000, "microtransactions_per_fanout": 10},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	srv := httptest.NewServer(o.SubmitHandler())
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.False(t, o.IsNeeded())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "bridge", cfg.Role)
	require.Equal(t, 8080, cfg.Server.Port)
	require.EqualValues(t, 1000, cfg.Payment.RequestsPerMicrotransaction)
	require.EqualValues(t, config.DefaultMinLovelacePerTransaction, cfg.Payment.MinLovelacePerTransaction)
}

func TestStatusHandlerReportsNeeded(t *testing.T) {
	o := New(filepath.Join(t.TempDir(), "config.yaml"))
	srv := httptest.NewServer(o.StatusHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out["needed"])
}
