// Package keys derives a peer's stable machine identifier and manages the
// on-disk layout of its generated Cardano and Hydra key material (§6.4).
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// machineIDNamespace salts the raw OS machine UID so the derived identifier
// is stable per-install but not directly equal to the underlying OS value.
const machineIDNamespace = "blockfrost-hydra-bridge/machine-id/v1"

var machineUIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// rawMachineUID reads the OS-level machine identifier. It returns an error
// if none of the known sources are present, which is expected on macOS and
// in some containers — the caller falls back to a persisted random value.
func rawMachineUID() (string, error) {
	if runtime.GOOS == "linux" {
		for _, path := range machineUIDPaths {
			if raw, err := os.ReadFile(path); err == nil {
				return strings.TrimSpace(string(raw)), nil
			}
		}
		return "", errors.New("keys: no machine-id source found")
	}
	return "", fmt.Errorf("keys: machine UID derivation not implemented for %s", runtime.GOOS)
}

// MachineID returns a stable, Blake3-derived identifier for this host. If
// the OS exposes no machine UID, it falls back to a random UUID persisted
// under fallbackPath so the identifier is still stable across restarts,
// just not tied to the underlying hardware/OS install.
func MachineID(fallbackPath string) (string, error) {
	uid, err := rawMachineUID()
	if err != nil {
		uid, err = fallbackMachineUID(fallbackPath)
		if err != nil {
			return "", err
		}
	}
	return deriveMachineID(uid), nil
}

// deriveMachineID hashes a raw OS/fallback UID into the public machine
// identifier. Split out from MachineID so the hashing itself is testable
// without depending on /etc/machine-id being present.
func deriveMachineID(uid string) string {
	digest := blake3.Sum256([]byte(machineIDNamespace + ":" + uid))
	return hex.EncodeToString(digest[:])
}

func fallbackMachineUID(path string) (string, error) {
	if raw, err := os.ReadFile(path); err == nil && len(strings.TrimSpace(string(raw))) > 0 {
		return strings.TrimSpace(string(raw)), nil
	}
	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("keys: persist fallback machine id: %w", err)
	}
	return id, nil
}
