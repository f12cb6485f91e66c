package cardano

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSnapshotSource struct {
	raw json.RawMessage
}

func (f fakeSnapshotSource) SnapshotUTXO(ctx context.Context, apiPort int) (json.RawMessage, error) {
	return f.raw, nil
}

type fakeSubmitter struct {
	submitted []string
}

func (f *fakeSubmitter) NewTx(ctx context.Context, apiPort int, cborHex string) error {
	f.submitted = append(f.submitted, cborHex)
	return nil
}

func TestPayeeBalanceSumsOnlyPayeeEntries(t *testing.T) {
	snap := fakeSnapshotSource{raw: json.RawMessage(`{
		"tx1#0": {"address": "addr_payee", "value": {"lovelace": 300000}},
		"tx2#0": {"address": "addr_other", "value": {"lovelace": 999999}}
	}`)}
	l := &HeadLedger{PayeeAddr: "addr_payee", Snapshots: snap}

	balance, err := l.PayeeBalance(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(300_000), balance)
}

func TestSendMicrotransactionFailsWithoutCoveringUTXO(t *testing.T) {
	snap := fakeSnapshotSource{raw: json.RawMessage(`{
		"tx1#0": {"address": "addr_payer", "value": {"lovelace": 100}}
	}`)}
	sub := &fakeSubmitter{}
	l := &HeadLedger{PayerAddr: "addr_payer", Snapshots: snap, Submitter: sub}

	err := l.SendMicrotransaction(context.Background(), 100_000, "addr_payee")
	require.Error(t, err)
	require.Empty(t, sub.submitted)
}
