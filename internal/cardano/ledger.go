package cardano

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/blockfrost/hydra-bridge/internal/hydra"
)

// SnapshotSource reads the head's confirmed L2 UTXO set (§6.2).
type SnapshotSource interface {
	SnapshotUTXO(ctx context.Context, apiPort int) (json.RawMessage, error)
}

// TxSubmitter posts a signed L2 transaction's CBOR body to the head.
type TxSubmitter interface {
	NewTx(ctx context.Context, apiPort int, cborHex string) error
}

// HeadLedger implements hydra.L2Ledger by building microtransactions with
// cardano-cli against the head's own confirmed UTXO snapshot rather than
// the L1 node: Hydra L2 transactions are zero-fee and need no protocol
// parameters beyond what hydra-node already validates.
type HeadLedger struct {
	CLIPath string
	workDir string
	APIPort int

	PayeeAddr             string
	PayerAddr             string
	PaymentSigningKeyPath string

	Snapshots SnapshotSource
	Submitter TxSubmitter
}

// NewHeadLedger constructs a HeadLedger bound to one controller's node.
func NewHeadLedger(cliPath, workDir string, apiPort int, payeeAddr, payerAddr, signingKeyPath string, snapshots SnapshotSource, submitter TxSubmitter) *HeadLedger {
	return &HeadLedger{
		CLIPath:               cliPath,
		workDir:               workDir,
		APIPort:               apiPort,
		PayeeAddr:             payeeAddr,
		PayerAddr:             payerAddr,
		PaymentSigningKeyPath: signingKeyPath,
		Snapshots:             snapshots,
		Submitter:             submitter,
	}
}

var _ hydra.L2Ledger = (*HeadLedger)(nil)

// PayeeBalance sums the lovelace the snapshot UTXO set attributes to
// PayeeAddr.
func (l *HeadLedger) PayeeBalance(ctx context.Context) (uint64, error) {
	raw, err := l.Snapshots.SnapshotUTXO(ctx, l.APIPort)
	if err != nil {
		return 0, fmt.Errorf("cardano: snapshot utxo: %w", err)
	}
	var entries map[string]utxoEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("cardano: decode snapshot utxo: %w", err)
	}
	var total uint64
	for _, e := range entries {
		if e.Address == l.PayeeAddr {
			total += e.Value.Lovelace
		}
	}
	return total, nil
}

// SendMicrotransaction builds a zero-fee L2 transaction spending one of
// PayerAddr's snapshot UTXOs, paying lovelace to toAddr with change back to
// PayerAddr, signs it, and submits it over the head's command channel.
func (l *HeadLedger) SendMicrotransaction(ctx context.Context, lovelace uint64, toAddr string) error {
	raw, err := l.Snapshots.SnapshotUTXO(ctx, l.APIPort)
	if err != nil {
		return fmt.Errorf("cardano: snapshot utxo: %w", err)
	}
	var entries map[string]utxoEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("cardano: decode snapshot utxo: %w", err)
	}

	var txIn string
	var available uint64
	for id, e := range entries {
		if e.Address == l.PayerAddr && e.Value.Lovelace >= lovelace {
			txIn, available = id, e.Value.Lovelace
			break
		}
	}
	if txIn == "" {
		return fmt.Errorf("cardano: payer %s has no snapshot utxo covering %d lovelace", l.PayerAddr, lovelace)
	}

	rawTxPath := filepath.Join(l.workDir, "l2-microtx.raw")
	signedTxPath := filepath.Join(l.workDir, "l2-microtx.signed")

	change := available - lovelace
	buildArgs := []string{
		"transaction", "build-raw",
		"--tx-in", txIn,
		"--tx-out", fmt.Sprintf("%s+%d", toAddr, lovelace),
		"--tx-out", fmt.Sprintf("%s+%d", l.PayerAddr, change),
		"--fee", "0",
		"--out-file", rawTxPath,
	}
	if err := l.run(ctx, buildArgs...); err != nil {
		return fmt.Errorf("cardano: build l2 tx: %w", err)
	}

	if err := l.run(ctx, "transaction", "sign",
		"--tx-body-file", rawTxPath,
		"--signing-key-file", l.PaymentSigningKeyPath,
		"--out-file", signedTxPath,
	); err != nil {
		return fmt.Errorf("cardano: sign l2 tx: %w", err)
	}

	signedRaw, err := os.ReadFile(signedTxPath)
	if err != nil {
		return fmt.Errorf("cardano: read signed l2 tx: %w", err)
	}
	var envelope struct {
		CBORHex string `json:"cborHex"`
	}
	if err := json.Unmarshal(signedRaw, &envelope); err != nil {
		return fmt.Errorf("cardano: decode signed l2 tx envelope: %w", err)
	}

	if err := l.Submitter.NewTx(ctx, l.APIPort, envelope.CBORHex); err != nil {
		return fmt.Errorf("cardano: submit l2 tx: %w", err)
	}
	return nil
}

func (l *HeadLedger) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, l.CLIPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &CLIError{Args: args, Stderr: stderr.String()}
	}
	return nil
}
