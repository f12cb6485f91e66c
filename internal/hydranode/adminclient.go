package hydranode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blockfrost/hydra-bridge/internal/hydra"
)

// AdminClient talks to a local hydra-node's HTTP admin API and WS command
// channel (§6.2). It satisfies hydra.AdminClient.
type AdminClient struct {
	HTTPClient *http.Client
}

// NewAdminClient constructs an AdminClient with sane request timeouts.
func NewAdminClient() *AdminClient {
	return &AdminClient{HTTPClient: &http.Client{Timeout: 5 * time.Second}}
}

var _ hydra.AdminClient = (*AdminClient)(nil)

type headStatusResponse struct {
	Tag string `json:"tag"`
}

// HeadStatus fetches GET /head and returns the node's head status string
// (Idle, Initial, Open, Closed, Fanout).
func (a *AdminClient) HeadStatus(ctx context.Context, apiPort int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/head", apiPort), nil)
	if err != nil {
		return "", fmt.Errorf("hydranode: build head request: %w", err)
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("hydranode: head request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("hydranode: head request returned %d", resp.StatusCode)
	}
	var body headStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("hydranode: decode head response: %w", err)
	}
	return body.Tag, nil
}

type commitResponse struct {
	CBORHex string `json:"cborHex"`
}

// Commit posts a commit request body to POST /commit and returns the
// returned unsigned transaction's CBOR hex.
func (a *AdminClient) Commit(ctx context.Context, apiPort int, body json.RawMessage) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://127.0.0.1:%d/commit", apiPort), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("hydranode: build commit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("hydranode: commit request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("hydranode: commit returned %d: %s", resp.StatusCode, string(raw))
	}
	var out commitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("hydranode: decode commit response: %w", err)
	}
	return out.CBORHex, nil
}

// SendCommand opens a one-shot WS connection to the node's command channel
// and sends a tagged command (Init, Close, Fanout, Abort).
func (a *AdminClient) SendCommand(ctx context.Context, apiPort int, tag string) error {
	url := fmt.Sprintf("ws://127.0.0.1:%d/", apiPort)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("hydranode: dial command channel: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(map[string]string{"tag": tag})
	if err != nil {
		return fmt.Errorf("hydranode: marshal command: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("hydranode: send command %s: %w", tag, err)
	}
	return nil
}

// PeersConnected scrapes the node's Prometheus text-exposition /metrics
// endpoint for hydra_head_peers_connected; the controller uses it to hold
// Init until the peer is connected.
func (a *AdminClient) PeersConnected(ctx context.Context, metricsPort int) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/metrics", metricsPort), nil)
	if err != nil {
		return 0, fmt.Errorf("hydranode: build metrics request: %w", err)
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("hydranode: metrics request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("hydranode: metrics returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "hydra_head_peers_connected") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		return int(value), nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("hydranode: scan metrics: %w", err)
	}
	return 0, nil
}

// SnapshotUTXO fetches GET /snapshot/utxo, the head's current confirmed L2
// ledger state, in the same per-txin JSON shape as cardano-cli's
// `query utxo --output-json` (§6.2 supplement).
func (a *AdminClient) SnapshotUTXO(ctx context.Context, apiPort int) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/snapshot/utxo", apiPort), nil)
	if err != nil {
		return nil, fmt.Errorf("hydranode: build snapshot request: %w", err)
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hydranode: snapshot request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hydranode: snapshot returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hydranode: read snapshot: %w", err)
	}
	return json.RawMessage(raw), nil
}

// NewTx submits a signed L2 transaction's CBOR body to the head over the WS
// command channel, tagged for hydra-node's NewTx command.
func (a *AdminClient) NewTx(ctx context.Context, apiPort int, cborHex string) error {
	url := fmt.Sprintf("ws://127.0.0.1:%d/", apiPort)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("hydranode: dial command channel: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(map[string]string{"tag": "NewTx", "cborHex": cborHex})
	if err != nil {
		return fmt.Errorf("hydranode: marshal new-tx: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("hydranode: submit new-tx: %w", err)
	}
	return nil
}
