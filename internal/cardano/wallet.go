// Package cardano wraps cardano-cli invocations needed to fund and commit a
// Hydra head (§6.3): address derivation, UTXO queries, transaction
// build/sign/submit. It implements the capability interfaces internal/hydra
// depends on so the controller never shells out directly.
package cardano

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/blockfrost/hydra-bridge/internal/hydra"
)

// CLIError wraps a failed cardano-cli invocation with its stderr output.
type CLIError struct {
	Args   []string
	Stderr string
}

func (e *CLIError) Error() string {
	return fmt.Sprintf("cardano-cli %v: %s", e.Args, e.Stderr)
}

// NetworkFlags returns the --mainnet or --testnet-magic N argument pair
// cardano-cli expects on every query/build invocation.
type NetworkFlags struct {
	Mainnet      bool
	TestnetMagic uint32
}

func (n NetworkFlags) args() []string {
	if n.Mainnet {
		return []string{"--mainnet"}
	}
	return []string{"--testnet-magic", fmt.Sprintf("%d", n.TestnetMagic)}
}

// Wallet drives cardano-cli against a node socket to manage the fuel and
// commit addresses for one Hydra peer.
type Wallet struct {
	CLIPath        string
	NodeSocketPath string
	Network        NetworkFlags
	WorkDir        string

	FuelAddress           string
	CommitAddress         string
	PaymentSigningKeyPath string

	HydraNodeCLIPath     string
	HydraSigningKeyPath  string
	HydraVerificationKeyPath string

	Logger *slog.Logger
}

var _ hydra.L1Wallet = (*Wallet)(nil)

func (w *Wallet) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, w.CLIPath, args...)
	cmd.Env = append(os.Environ(), "CARDANO_NODE_SOCKET_PATH="+w.NodeSocketPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CLIError{Args: args, Stderr: stderr.String()}
	}
	return stdout.Bytes(), nil
}

type utxoEntry struct {
	Address string `json:"address"`
	Value   struct {
		Lovelace uint64 `json:"lovelace"`
	} `json:"value"`
}

// queryUTXO runs `cardano-cli query utxo --address <addr> --output-json` and
// returns the raw per-txin map, suitable either for summing a balance or for
// forwarding as-is to hydra-node's POST /commit.
func (w *Wallet) queryUTXO(ctx context.Context, address string) (json.RawMessage, error) {
	args := append([]string{"query", "utxo", "--address", address, "--output-json"}, w.Network.args()...)
	out, err := w.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("cardano: query utxo: %w", err)
	}
	return json.RawMessage(out), nil
}

func sumLovelace(raw json.RawMessage) (uint64, error) {
	var entries map[string]utxoEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("cardano: decode utxo set: %w", err)
	}
	var total uint64
	for _, e := range entries {
		total += e.Value.Lovelace
	}
	return total, nil
}

// EnsureHydraKeys generates the Hydra signing/verification keypair via
// hydra-node's key-generation subcommand if it does not already exist, and
// returns the verification key's path.
func (w *Wallet) EnsureHydraKeys(ctx context.Context) (string, error) {
	vkPath := w.HydraVerificationKeyPath
	if _, err := os.Stat(vkPath); err == nil {
		return vkPath, nil
	}
	base := vkPath[:len(vkPath)-len(filepath.Ext(vkPath))]
	cmd := exec.CommandContext(ctx, w.HydraNodeCLIPath, "gen-hydra-key", "--output-file", base)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &CLIError{Args: cmd.Args, Stderr: stderr.String()}
	}
	return vkPath, nil
}

// FuelBalance reports the total lovelace at the fuel address.
func (w *Wallet) FuelBalance(ctx context.Context) (uint64, error) {
	raw, err := w.queryUTXO(ctx, w.FuelAddress)
	if err != nil {
		return 0, err
	}
	return sumLovelace(raw)
}

// CommitWalletBalance reports the total lovelace at the commit address.
func (w *Wallet) CommitWalletBalance(ctx context.Context) (uint64, error) {
	raw, err := w.queryUTXO(ctx, w.CommitAddress)
	if err != nil {
		return 0, err
	}
	return sumLovelace(raw)
}

// CommitUTXO returns the commit address's UTXO set formatted exactly as
// hydra-node's POST /commit expects (§6.2).
func (w *Wallet) CommitUTXO(ctx context.Context) (json.RawMessage, error) {
	return w.queryUTXO(ctx, w.CommitAddress)
}

// FundCommitWallet builds, signs, and submits a transaction moving
// targetLovelace from the fuel address to the commit address.
func (w *Wallet) FundCommitWallet(ctx context.Context, targetLovelace uint64) error {
	fuelUTXO, err := w.queryUTXO(ctx, w.FuelAddress)
	if err != nil {
		return err
	}
	var entries map[string]utxoEntry
	if err := json.Unmarshal(fuelUTXO, &entries); err != nil {
		return fmt.Errorf("cardano: decode fuel utxo: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("cardano: fuel address %s has no utxo to spend", w.FuelAddress)
	}

	rawTxPath := filepath.Join(w.WorkDir, "fund-commit.raw")
	signedTxPath := filepath.Join(w.WorkDir, "fund-commit.signed")

	var txIn string
	for id := range entries {
		txIn = id
		break
	}

	buildArgs := append([]string{
		"transaction", "build",
		"--tx-in", txIn,
		"--tx-out", fmt.Sprintf("%s+%d", w.CommitAddress, targetLovelace),
		"--change-address", w.FuelAddress,
		"--out-file", rawTxPath,
	}, w.Network.args()...)
	if _, err := w.run(ctx, buildArgs...); err != nil {
		return fmt.Errorf("cardano: build funding tx: %w", err)
	}

	if _, err := w.run(ctx, "transaction", "sign",
		"--tx-body-file", rawTxPath,
		"--signing-key-file", w.PaymentSigningKeyPath,
		"--out-file", signedTxPath,
	); err != nil {
		return fmt.Errorf("cardano: sign funding tx: %w", err)
	}

	submitArgs := append([]string{"transaction", "submit", "--tx-file", signedTxPath}, w.Network.args()...)
	if _, err := w.run(ctx, submitArgs...); err != nil {
		return fmt.Errorf("cardano: submit funding tx: %w", err)
	}
	return nil
}

// SignAndSubmit signs a commit transaction's CBOR body (handed back by
// hydra-node's POST /commit) and submits it to L1.
func (w *Wallet) SignAndSubmit(ctx context.Context, cborHex string) error {
	envelope := map[string]string{
		"type":        "Witnessed Tx ConwayEra",
		"description": "",
		"cborHex":     cborHex,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("cardano: marshal commit tx envelope: %w", err)
	}

	rawTxPath := filepath.Join(w.WorkDir, "commit.raw")
	signedTxPath := filepath.Join(w.WorkDir, "commit.signed")
	if err := os.WriteFile(rawTxPath, raw, 0o600); err != nil {
		return fmt.Errorf("cardano: write commit tx: %w", err)
	}

	if _, err := w.run(ctx, "transaction", "sign",
		"--tx-file", rawTxPath,
		"--signing-key-file", w.PaymentSigningKeyPath,
		"--out-file", signedTxPath,
	); err != nil {
		return fmt.Errorf("cardano: sign commit tx: %w", err)
	}

	submitArgs := append([]string{"transaction", "submit", "--tx-file", signedTxPath}, w.Network.args()...)
	if _, err := w.run(ctx, submitArgs...); err != nil {
		return fmt.Errorf("cardano: submit commit tx: %w", err)
	}
	return nil
}

// TipReader reads the chain tip, used by the staleness monitor to detect a
// wedged or disconnected local node (§6 supplement).
type TipReader interface {
	Tip(ctx context.Context) (slot uint64, err error)
}

type tipResponse struct {
	Slot uint64 `json:"slot"`
}

// Tip runs `cardano-cli query tip --output-json` and returns the current
// slot number.
func (w *Wallet) Tip(ctx context.Context) (uint64, error) {
	args := append([]string{"query", "tip", "--output-json"}, w.Network.args()...)
	out, err := w.run(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("cardano: query tip: %w", err)
	}
	var resp tipResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return 0, fmt.Errorf("cardano: decode tip: %w", err)
	}
	return resp.Slot, nil
}

var _ TipReader = (*Wallet)(nil)
