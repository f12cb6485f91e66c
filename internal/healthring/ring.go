// Package healthring tracks each peer's Hydra head-status history so an
// operator dashboard (or a status HTTP endpoint) can show recent state
// transitions rather than only the current one, grounded on the teacher's
// HealthRing ring-buffer-per-member shape.
package healthring

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/blockfrost/hydra-bridge/internal/hydra"
)

// HeadStatusEvent is one recorded transition of a peer's Hydra controller.
type HeadStatusEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	Status           string    `json:"status"`
	CreditsAvailable uint64    `json:"credits_available"`
	HeadOpen         bool      `json:"head_open"`
}

// DefaultHistorySize bounds how many transitions a Ring retains per peer.
const DefaultHistorySize = 20

// Ring implements hydra.StateObserver for a single peer's controller,
// keeping a bounded ring buffer of its recent head-status transitions.
type Ring struct {
	peerID      string
	historySize int

	mu      sync.Mutex
	history []HeadStatusEvent
}

// NewRing builds a Ring for peerID. historySize <= 0 uses DefaultHistorySize.
func NewRing(peerID string, historySize int) *Ring {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Ring{peerID: peerID, historySize: historySize}
}

var _ hydra.StateObserver = (*Ring)(nil)

// ObserveState implements hydra.StateObserver, appending a new transition
// and trimming the oldest entry once historySize is exceeded.
func (r *Ring) ObserveState(role hydra.Role, status string, creditsAvailable uint64, headOpen bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, HeadStatusEvent{
		Timestamp:        time.Now(),
		Status:           status,
		CreditsAvailable: creditsAvailable,
		HeadOpen:         headOpen,
	})
	if len(r.history) > r.historySize {
		r.history = r.history[len(r.history)-r.historySize:]
	}
}

// History returns a copy of the recorded transitions, oldest first.
func (r *Ring) History() []HeadStatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HeadStatusEvent, len(r.history))
	copy(out, r.history)
	return out
}

// Latest returns the most recent transition, if any has been recorded.
func (r *Ring) Latest() (HeadStatusEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return HeadStatusEvent{}, false
	}
	return r.history[len(r.history)-1], true
}

// Registry holds one Ring per peer, created on demand as peers complete
// their key-exchange handshake, and serves them over HTTP for dashboards.
type Registry struct {
	historySize int

	mu    sync.Mutex
	rings map[string]*Ring
}

// NewRegistry builds an empty Registry. historySize <= 0 uses
// DefaultHistorySize for every Ring it creates.
func NewRegistry(historySize int) *Registry {
	return &Registry{historySize: historySize, rings: make(map[string]*Ring)}
}

// RingFor returns the Ring for peerID, creating it on first use.
func (reg *Registry) RingFor(peerID string) *Ring {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rings[peerID]
	if !ok {
		r = NewRing(peerID, reg.historySize)
		reg.rings[peerID] = r
	}
	return r
}

// Remove drops a peer's Ring, e.g. once its connection has closed for good.
func (reg *Registry) Remove(peerID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rings, peerID)
}

// Snapshot returns each tracked peer's latest known status.
func (reg *Registry) Snapshot() map[string]HeadStatusEvent {
	reg.mu.Lock()
	peers := make([]*Ring, 0, len(reg.rings))
	ids := make([]string, 0, len(reg.rings))
	for id, r := range reg.rings {
		ids = append(ids, id)
		peers = append(peers, r)
	}
	reg.mu.Unlock()

	out := make(map[string]HeadStatusEvent, len(peers))
	for i, r := range peers {
		if latest, ok := r.Latest(); ok {
			out[ids[i]] = latest
		}
	}
	return out
}

// StatusHandler serves a JSON snapshot of every tracked peer's latest
// status, for an operator dashboard at e.g. GET /api/v1/status.
func (reg *Registry) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reg.Snapshot())
	}
}

// PeerHistoryHandler serves a single peer's full transition history, at
// e.g. GET /api/v1/status/{peerID}.
func (reg *Registry) PeerHistoryHandler(pathPrefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		peerID := strings.TrimPrefix(r.URL.Path, pathPrefix)
		if peerID == "" {
			http.Error(w, "peer id required", http.StatusBadRequest)
			return
		}
		reg.mu.Lock()
		ring, ok := reg.rings[peerID]
		reg.mu.Unlock()
		if !ok {
			http.Error(w, fmt.Sprintf("peer %q not tracked", peerID), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ring.History())
	}
}
