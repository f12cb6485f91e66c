// Package manager implements HydrasManager (§4.6): the per-process registry
// of active Hydra controllers, one per connected peer, gated by a
// configurable concurrency limit.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blockfrost/hydra-bridge/internal/hydra"
	"github.com/blockfrost/hydra-bridge/internal/wire"
)

// CapacityError is returned by SpawnNew when the manager is already running
// its configured maximum number of concurrent controllers.
type CapacityError struct {
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("manager: at capacity (%d concurrent heads)", e.Max)
}

// AlreadyExistsError is returned by SpawnNew when peerID already has a
// registered controller.
type AlreadyExistsError struct {
	PeerID string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("manager: controller already exists for peer %s", e.PeerID)
}

type entry struct {
	controller *hydra.Controller
	cancel     context.CancelFunc
}

// HydrasManager owns the lifecycle of every active Controller in this
// process. Capacity checks and registration happen under a single mutex so
// a burst of concurrent connection attempts cannot overshoot MaxConcurrent
// (the TOCTOU window a separate atomic counter plus map insert would leave
// open).
type HydrasManager struct {
	logger        *slog.Logger
	maxConcurrent int

	mu      sync.Mutex
	entries map[string]entry
}

// New constructs a HydrasManager allowing up to maxConcurrent controllers.
func New(maxConcurrent int, logger *slog.Logger) *HydrasManager {
	return &HydrasManager{
		logger:        logger,
		maxConcurrent: maxConcurrent,
		entries:       make(map[string]entry),
	}
}

// Count reports the number of currently registered controllers.
func (m *HydrasManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Get returns the controller registered for peerID, if any.
func (m *HydrasManager) Get(peerID string) (*hydra.Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[peerID]
	if !ok {
		return nil, false
	}
	return e.controller, true
}

// SpawnNew registers and starts a new controller for peerID if capacity
// allows, returning it already running in its own goroutine bound to a
// context derived from parentCtx.
func (m *HydrasManager) SpawnNew(parentCtx context.Context, peerID string, c *hydra.Controller) (*hydra.Controller, error) {
	m.mu.Lock()
	if _, exists := m.entries[peerID]; exists {
		m.mu.Unlock()
		return nil, &AlreadyExistsError{PeerID: peerID}
	}
	if m.maxConcurrent > 0 && len(m.entries) >= m.maxConcurrent {
		m.mu.Unlock()
		return nil, &CapacityError{Max: m.maxConcurrent}
	}
	ctx, cancel := context.WithCancel(parentCtx)
	m.entries[peerID] = entry{controller: c, cancel: cancel}
	m.mu.Unlock()

	go func() {
		if err := c.Run(ctx); err != nil {
			m.logger.Info("hydra controller stopped", "peer", peerID, "error", err)
		}
		m.Remove(peerID)
	}()

	m.logger.Info("hydra controller registered", "peer", peerID, "active", m.Count())
	return c, nil
}

// Remove deregisters and tears down the controller for peerID, if present.
func (m *HydrasManager) Remove(peerID string) {
	m.mu.Lock()
	e, ok := m.entries[peerID]
	if ok {
		delete(m.entries, peerID)
	}
	m.mu.Unlock()
	if ok {
		e.cancel()
	}
}

// BuildKeyExchangeRequest assembles the first round of the KEx handshake
// (§4.3) from this peer's persisted keys and machine id.
func BuildKeyExchangeRequest(machineID string, cardanoVKey, hydraVKey wire.VKeyEnvelope, acceptedPort *uint16) wire.KeyExchangeRequest {
	return wire.KeyExchangeRequest{
		MachineID:               machineID,
		CardanoVKey:             cardanoVKey,
		HydraVKey:               hydraVKey,
		AcceptedPlatformH2HPort: acceptedPort,
	}
}
