package cardano

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNetworkFlagsMainnet(t *testing.T) {
	require.Equal(t, []string{"--mainnet"}, NetworkFlags{Mainnet: true}.args())
}

func TestNetworkFlagsTestnet(t *testing.T) {
	require.Equal(t, []string{"--testnet-magic", "2"}, NetworkFlags{TestnetMagic: 2}.args())
}

func TestSumLovelaceAcrossEntries(t *testing.T) {
	raw := json.RawMessage(`{
		"tx1#0": {"address": "addr1", "value": {"lovelace": 1000000}},
		"tx2#1": {"address": "addr1", "value": {"lovelace": 500000}}
	}`)
	total, err := sumLovelace(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(1_500_000), total)
}

func TestSumLovelaceEmptySet(t *testing.T) {
	total, err := sumLovelace(json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, uint64(0), total)
}

func TestCLIErrorMessage(t *testing.T) {
	err := &CLIError{Args: []string{"query", "tip"}, Stderr: "connection refused"}
	require.Contains(t, err.Error(), "connection refused")
	require.Contains(t, err.Error(), "query")
}
