package keys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blockfrost/hydra-bridge/internal/wire"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return &Store{BaseDir: filepath.Join(dir, "hydra", "preprod", "peer-1")}
}

func TestWriteIfDifferentWritesOnce(t *testing.T) {
	s := testStore(t)

	changed, err := s.WriteIfDifferent("hydra.sk", []byte("secret"), 0o600)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.WriteIfDifferent("hydra.sk", []byte("secret"), 0o600)
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = s.WriteIfDifferent("hydra.sk", []byte("new-secret"), 0o600)
	require.NoError(t, err)
	require.True(t, changed)
}

func TestWriteAndReadVKeyEnvelope(t *testing.T) {
	s := testStore(t)
	env := wire.VKeyEnvelope{Type: "PaymentVerificationKeyShelley_ed25519", CBORHex: "deadbeef"}

	changed, err := s.WriteVKeyEnvelope("cardano.vk", env)
	require.NoError(t, err)
	require.True(t, changed)

	got, err := s.ReadVKeyEnvelope("cardano.vk")
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestExists(t *testing.T) {
	s := testStore(t)
	require.False(t, s.Exists("hydra.vk"))
	_, err := s.WriteIfDifferent("hydra.vk", []byte("x"), 0o600)
	require.NoError(t, err)
	require.True(t, s.Exists("hydra.vk"))
}

func TestRoleDirName(t *testing.T) {
	require.Equal(t, "sdk-bridge", roleDirName("bridge"))
	require.Equal(t, "gateway", roleDirName("gateway"))
}

func TestEnsureDirCreatesTree(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.EnsureDir())
	info, err := os.Stat(s.BaseDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
