package keys

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveMachineIDIsStableAndHex(t *testing.T) {
	a := deriveMachineID("some-host-uid")
	b := deriveMachineID("some-host-uid")
	require.Equal(t, a, b)
	require.Len(t, a, 64) // 32-byte blake3 digest, hex-encoded
}

func TestDeriveMachineIDDiffersPerUID(t *testing.T) {
	require.NotEqual(t, deriveMachineID("host-a"), deriveMachineID("host-b"))
}

func TestFallbackMachineUIDPersistsAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback-id")

	first, err := fallbackMachineUID(path)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := fallbackMachineUID(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
