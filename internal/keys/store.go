package keys

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blockfrost/hydra-bridge/internal/wire"
)

// roleDirName maps a role to the directory name conventions expect
// (gateway vs sdk-bridge, §6.4).
func roleDirName(role string) string {
	if role == "bridge" {
		return "sdk-bridge"
	}
	return role
}

// Store manages the on-disk layout for one peer's generated key material:
// {user_config}/blockfrost-{gateway|sdk-bridge}/hydra/{network}/{peer}/.
type Store struct {
	BaseDir string
	Role    string
	Network string
	PeerID  string
}

// NewStore resolves Store's BaseDir under the OS user-config directory.
func NewStore(role, network, peerID string) (*Store, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("keys: resolve user config dir: %w", err)
	}
	dirName := fmt.Sprintf("blockfrost-%s", roleDirName(role))
	base := filepath.Join(cfgDir, dirName, "hydra", network, peerID)
	return &Store{BaseDir: base, Role: role, Network: network, PeerID: peerID}, nil
}

// EnsureDir creates the store's directory tree if it does not exist.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.BaseDir, 0o700); err != nil {
		return fmt.Errorf("keys: create store dir %s: %w", s.BaseDir, err)
	}
	return nil
}

// Path returns the absolute path of a named file within the store.
func (s *Store) Path(name string) string {
	return filepath.Join(s.BaseDir, name)
}

// WriteIfDifferent writes data to name only if the file is absent or its
// contents differ, returning whether a write occurred. This avoids
// needlessly rotating key-file mtimes across restarts when nothing changed.
func (s *Store) WriteIfDifferent(name string, data []byte, perm os.FileMode) (bool, error) {
	path := s.Path(name)
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := s.EnsureDir(); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("keys: write %s: %w", path, err)
	}
	return true, nil
}

// WriteVKeyEnvelope persists a verification-key envelope as indented JSON,
// matching the cardano-cli/hydra-node TextEnvelope convention.
func (s *Store) WriteVKeyEnvelope(name string, env wire.VKeyEnvelope) (bool, error) {
	data, err := json.MarshalIndent(env, "", "    ")
	if err != nil {
		return false, fmt.Errorf("keys: marshal %s: %w", name, err)
	}
	return s.WriteIfDifferent(name, data, 0o600)
}

// ReadVKeyEnvelope loads a previously persisted verification-key envelope.
func (s *Store) ReadVKeyEnvelope(name string) (wire.VKeyEnvelope, error) {
	var env wire.VKeyEnvelope
	raw, err := os.ReadFile(s.Path(name))
	if err != nil {
		return env, fmt.Errorf("keys: read %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("keys: decode %s: %w", name, err)
	}
	return env, nil
}

// Exists reports whether name is already present in the store.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}
