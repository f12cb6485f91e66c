package hydra

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/blockfrost/hydra-bridge/internal/wire"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeNode struct {
	startCalls int
	stopCalls  int
	exited     chan error
}

func newFakeNode() *fakeNode { return &fakeNode{exited: make(chan error, 1)} }

func (f *fakeNode) Start(ctx context.Context, args NodeArgs) error { f.startCalls++; return nil }
func (f *fakeNode) Stop()                                          { f.stopCalls++ }
func (f *fakeNode) Exited() <-chan error                          { return f.exited }
func (f *fakeNode) APIPort() int                                  { return 9001 }
func (f *fakeNode) MetricsPort() int                               { return 9002 }

// fakeAdmin simulates the hydra-node admin API with an in-memory status that
// advances as each command is issued — Init -> Initial, Commit -> Open,
// Close -> Closed, Fanout -> Idle — so tests can drive a full lifecycle
// without a real subprocess.
type fakeAdmin struct {
	mu         sync.Mutex
	status     string
	commands   []string
	commitBody json.RawMessage
}

func newFakeAdmin() *fakeAdmin { return &fakeAdmin{status: StatusIdle} }

func (f *fakeAdmin) HeadStatus(ctx context.Context, port int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeAdmin) Commit(ctx context.Context, port int, body json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = StatusOpen
	f.commitBody = body
	return "deadbeefcbor", nil
}

func (f *fakeAdmin) lastCommitBody() json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commitBody
}

func (f *fakeAdmin) SendCommand(ctx context.Context, port int, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, tag)
	switch tag {
	case "Init":
		f.status = StatusInitial
	case "Close":
		f.status = StatusClosed
	case "Fanout":
		f.status = StatusIdle
	}
	return nil
}

func (f *fakeAdmin) PeersConnected(ctx context.Context, metricsPort int) (int, error) { return 2, nil }

func (f *fakeAdmin) commandLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

type fakeWallet struct{}

func (fakeWallet) EnsureHydraKeys(ctx context.Context) (string, error)          { return "hydra.vk", nil }
func (fakeWallet) FuelBalance(ctx context.Context) (uint64, error)              { return 10_000_000, nil }
func (fakeWallet) CommitUTXO(ctx context.Context) (json.RawMessage, error)      { return json.RawMessage(`{}`), nil }
func (fakeWallet) FundCommitWallet(ctx context.Context, target uint64) error    { return nil }
func (fakeWallet) CommitWalletBalance(ctx context.Context) (uint64, error)      { return 10_000_000, nil }
func (fakeWallet) SignAndSubmit(ctx context.Context, cborHex string) error      { return nil }

type fakeLedger struct {
	mu      sync.Mutex
	balance uint64
	sent    []uint64
}

func (f *fakeLedger) PayeeBalance(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeLedger) SendMicrotransaction(ctx context.Context, lovelace uint64, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, lovelace)
	return nil
}

func (f *fakeLedger) sentLog() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestController(t *testing.T, role Role, behavior RoleBehavior, admin *fakeAdmin, ledger *fakeLedger) *Controller {
	t.Helper()
	node := newFakeNode()
	c := NewController(role, behavior, func() NodeArgs { return NodeArgs{} }, node, admin, fakeWallet{}, ledger, discardLogger())
	c.RestartDelay = 5 * time.Millisecond
	c.PollRetryDelay = 5 * time.Millisecond
	return c
}

func TestControllerReachesOpenHead(t *testing.T) {
	admin := newFakeAdmin()
	ledger := &fakeLedger{}
	c := newTestController(t, RoleBridge, BridgeBehavior{GatewayAddr: "addr_gateway"}, admin, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, c.HeadOpen, 2*time.Second, 5*time.Millisecond)
	require.Contains(t, admin.commandLog(), "Init")
}

func TestAccountOneRequestTriggersMicrotransactionAndClose(t *testing.T) {
	admin := newFakeAdmin()
	ledger := &fakeLedger{}
	c := newTestController(t, RoleBridge, BridgeBehavior{GatewayAddr: "addr_gateway"}, admin, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, c.HeadOpen, 2*time.Second, 5*time.Millisecond)

	c.Events() <- Event{Kind: EvKeyExchangeResponse, KExResponse: &wire.KeyExchangeResponse{
		Payment: wire.PaymentParams{
			CommitADA:                   5.0,
			LovelacePerRequest:          100_000,
			RequestsPerMicrotransaction: 1,
			MicrotransactionsPerFanout:  1,
		},
	}}
	time.Sleep(20 * time.Millisecond) // let the KEx event land before consuming credit
	c.SetCredits(3)

	require.Equal(t, ConsumeOK, c.TryConsumeCredit())

	require.Eventually(t, func() bool { return len(ledger.sentLog()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(100_000), ledger.sentLog()[0])

	require.Eventually(t, func() bool {
		log := admin.commandLog()
		return len(log) >= 3 && log[len(log)-1] == "Fanout"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGatewayCommitsEmptyUTXOOncePeerInitsHead(t *testing.T) {
	admin := newFakeAdmin()
	ledger := &fakeLedger{}
	c := newTestController(t, RoleGateway, GatewayBehavior{}, admin, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// Gateway never calls onTryToInitHead itself; simulate the Bridge peer
	// driving Init on the shared head so onMonitorStates observes Initial.
	require.Eventually(t, func() bool { return len(admin.commandLog()) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, admin.SendCommand(ctx, 0, "Init"))

	require.Eventually(t, c.HeadOpen, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, json.RawMessage("{}"), admin.lastCommitBody())
}

func TestTryConsumeCreditRejectsWhenHeadNotOpen(t *testing.T) {
	admin := &fakeAdmin{status: StatusInitial} // never reaches Open
	ledger := &fakeLedger{}
	c := newTestController(t, RoleGateway, GatewayBehavior{}, admin, ledger)
	c.SetCredits(10)

	require.Equal(t, ConsumeHeadNotOpen, c.TryConsumeCredit())
}

func TestTryConsumeCreditRejectsWhenExhausted(t *testing.T) {
	admin := newFakeAdmin()
	ledger := &fakeLedger{}
	c := newTestController(t, RoleGateway, GatewayBehavior{}, admin, ledger)

	// The Gateway side only ever reaches Open once its peer drives the head
	// through Init; exercising that full two-sided handshake is the Bridge
	// lifecycle test above, so this test only needs the post-Open
	// bookkeeping TryConsumeCredit relies on.
	c.headOpen.Store(true)
	c.SetCredits(0)

	require.Equal(t, ConsumeInsufficientCredits, c.TryConsumeCredit())
}
