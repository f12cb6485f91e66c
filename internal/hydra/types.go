// Package hydra implements the per-peer Hydra controller state machine
// (§4.3): it drives a local hydra-node subprocess through init -> commit ->
// open -> monitor -> close -> fanout -> reinit, and gates HTTP request
// servicing on prepaid L2 credits. One Controller type is parameterized by
// Role rather than duplicated per side (see SPEC_FULL.md §9 Open Question 1).
package hydra

import (
	"context"
	"encoding/json"
	"time"

	"github.com/blockfrost/hydra-bridge/internal/wire"
)

// Role distinguishes the two sides of the connection driving a controller.
type Role int

const (
	RoleGateway Role = iota
	RoleBridge
)

func (r Role) String() string {
	if r == RoleGateway {
		return "gateway"
	}
	return "bridge"
}

// Head status strings as surfaced by hydra-node's /head endpoint (§3).
const (
	StatusIdle    = "Idle"
	StatusInitial = "Initial"
	StatusOpen    = "Open"
	StatusClosed  = "Closed"
	StatusFanout  = "Fanout"
)

// Timing constants (§4.3, §5).
const (
	RestartDelay       = 5 * time.Second
	PollRetryDelay     = 3 * time.Second
	MinFuelLovelace    = 5_000_000
	MaxCloseRetries    = 10
)

// EventKind enumerates the controller's event-loop events (§4.3).
type EventKind int

const (
	EvRestart EventKind = iota
	EvTerminate
	EvKeyExchangeResponse
	EvTryToInitHead
	EvFundCommitAddr
	EvTryToCommit
	EvWaitForOpen
	EvMonitorStates
	EvMonitorCredits
	EvAccountOneRequest
	EvTryToClose
	EvWaitForClosed
	EvDoFanout
	EvWaitForIdleAfterClose
	EvSendPayment
)

// Event is the controller's single MPSC event type; only the fields
// relevant to Kind are populated (§4.3 — mirrors the pack's tagged-struct
// message convention rather than a sealed interface hierarchy).
type Event struct {
	Kind EventKind

	KExResponse *wire.KeyExchangeResponse
	Retries     int

	PaymentAmountLovelace uint64
	PaymentTo             string
	PaymentReply          chan<- error
}

// ConsumeResult is returned by Controller.TryConsumeCredit (§4.3.2).
type ConsumeResult int

const (
	ConsumeOK ConsumeResult = iota
	ConsumeHeadNotOpen
	ConsumeInsufficientCredits
)

// ControllerError is the sum-typed error domain for the controller's event
// handlers (§9 design notes: explicit sum types instead of exceptions).
type ControllerError struct {
	Stage string
	Err   error
}

func (e *ControllerError) Error() string { return "hydra: " + e.Stage + ": " + e.Err.Error() }
func (e *ControllerError) Unwrap() error  { return e.Err }

// NodeArgs is the full hydra-node invocation argument set (§6.3).
type NodeArgs struct {
	NodeID                   string
	PersistenceDir           string
	CardanoSigningKeyPath    string
	HydraSigningKeyPath      string
	HydraScriptsTxID         string
	LedgerProtocolParamsPath string
	ContestationPeriodSecs   uint64
	Mainnet                  bool
	TestnetMagic             uint32
	NodeSocketPath           string
	APIPort                  int
	ListenPort               int
	PeerPort                 int
	MonitoringPort           int
	HydraVerificationKeyPath string
	CardanoVerificationKeyPath string
	PeerHydraVKeyPaths       []string
	PeerCardanoVKeyPaths     []string
}

// NodeHandle controls a spawned hydra-node subprocess (§6.3).
type NodeHandle interface {
	Start(ctx context.Context, args NodeArgs) error
	Stop()
	Exited() <-chan error
	APIPort() int
	MetricsPort() int
}

// AdminClient talks to a hydra-node's local admin API (§6.2).
type AdminClient interface {
	HeadStatus(ctx context.Context, apiPort int) (string, error)
	Commit(ctx context.Context, apiPort int, body json.RawMessage) (cborHex string, err error)
	SendCommand(ctx context.Context, apiPort int, tag string) error
	PeersConnected(ctx context.Context, metricsPort int) (int, error)
}

// L1Wallet wraps cardano-cli operations needed to fund and commit (§6.3).
type L1Wallet interface {
	EnsureHydraKeys(ctx context.Context) (hydraVKeyPath string, err error)
	FuelBalance(ctx context.Context) (lovelace uint64, err error)
	CommitUTXO(ctx context.Context) (utxoBody json.RawMessage, err error)
	FundCommitWallet(ctx context.Context, targetLovelace uint64) error
	CommitWalletBalance(ctx context.Context) (lovelace uint64, err error)
	SignAndSubmit(ctx context.Context, cborHex string) error
}

// L2Ledger reads/writes the Hydra head's off-chain ledger for payment
// accounting (§4.3.1 MonitorCredits / AccountOneRequest).
type L2Ledger interface {
	PayeeBalance(ctx context.Context) (uint64, error)
	SendMicrotransaction(ctx context.Context, lovelace uint64, toAddr string) error
}

// StateObserver receives controller state transitions for external
// observability (wired to internal/statestream).
type StateObserver interface {
	ObserveState(role Role, status string, creditsAvailable uint64, headOpen bool)
}

type noopObserver struct{}

func (noopObserver) ObserveState(Role, string, uint64, bool) {}
