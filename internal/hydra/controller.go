package hydra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockfrost/hydra-bridge/internal/wire"
)

// Controller drives one Hydra head lifecycle for one peer connection
// (§4.3.1). It owns the node subprocess, the admin client, and the
// payment-accounting state; every field it mutates across the handle
// methods belongs to the single goroutine running Run, per the project's
// single-owner concurrency convention. Only TryConsumeCredit and the
// HeadOpen/CreditsAvailable readers are safe to call from other goroutines,
// backed by atomics.
type Controller struct {
	Role     Role
	Behavior RoleBehavior
	Node     NodeHandle
	Admin    AdminClient
	Wallet   L1Wallet
	Ledger   L2Ledger
	Observer StateObserver
	Logger   *slog.Logger

	BuildArgs func() NodeArgs

	// RestartDelay and PollRetryDelay default to the package constants of
	// the same name; tests override them to run the state machine at a
	// faster cadence.
	RestartDelay   time.Duration
	PollRetryDelay time.Duration

	events chan Event
	ctx    context.Context

	mu     sync.Mutex
	status string
	payment wire.PaymentParams

	creditsAvailable atomic.Uint64
	headOpen         atomic.Bool

	// requiredPeers is the number of peers AdminClient.PeersConnected must
	// report before onTryToInitHead sends Init; set from BuildArgs' peer
	// vkey lists on every restart.
	requiredPeers int

	// fundingTriggered guards EvFundCommitAddr against being posted twice
	// for the same head cycle: both onTryToInitHead (the initiating side)
	// and onMonitorStates (the side that only observes Initial) can reach
	// it, and only one should fire.
	fundingTriggered atomic.Bool

	requestsSinceMicrotx         uint64
	microtransactionsSinceFanout uint64
}

// NewController constructs a Controller in its initial (pre-Run) state.
func NewController(role Role, behavior RoleBehavior, buildArgs func() NodeArgs, node NodeHandle, admin AdminClient, wallet L1Wallet, ledger L2Ledger, logger *slog.Logger) *Controller {
	return &Controller{
		Role:           role,
		Behavior:       behavior,
		Node:           node,
		Admin:          admin,
		Wallet:         wallet,
		Ledger:         ledger,
		Observer:       noopObserver{},
		Logger:         logger,
		BuildArgs:      buildArgs,
		RestartDelay:   RestartDelay,
		PollRetryDelay: PollRetryDelay,
		events:         make(chan Event, 32),
		status:         StatusIdle,
	}
}

// Events returns the send side of the controller's event channel so callers
// (the connection event loop, the manager, an operator command) can push
// events without reaching into controller internals.
func (c *Controller) Events() chan<- Event { return c.events }

// HeadOpen reports whether the local head is currently Open.
func (c *Controller) HeadOpen() bool { return c.headOpen.Load() }

// CreditsAvailable reports the current prepaid-request balance.
func (c *Controller) CreditsAvailable() uint64 { return c.creditsAvailable.Load() }

// SetCredits replaces the credit balance, used after a KEx response or a
// completed top-up.
func (c *Controller) SetCredits(n uint64) { c.creditsAvailable.Store(n) }

// Status returns the last observed head status string.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// TryConsumeCredit gates one serviced request on the prepaid balance
// (§4.3.2). It never blocks: callers on the hot request path call this and
// immediately know whether to proceed.
func (c *Controller) TryConsumeCredit() ConsumeResult {
	if !c.headOpen.Load() {
		return ConsumeHeadNotOpen
	}
	for {
		cur := c.creditsAvailable.Load()
		if cur == 0 {
			return ConsumeInsufficientCredits
		}
		if c.creditsAvailable.CompareAndSwap(cur, cur-1) {
			if c.Behavior.AccountsForRequests() {
				c.post(Event{Kind: EvAccountOneRequest})
			}
			return ConsumeOK
		}
	}
}

// Run executes the controller's event loop until ctx is cancelled. It is
// meant to be run in its own goroutine for the lifetime of the connection.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	c.post(Event{Kind: EvRestart})
	for {
		select {
		case <-ctx.Done():
			c.Node.Stop()
			return ctx.Err()
		case ev := <-c.events:
			if err := c.handle(ctx, ev); err != nil {
				c.Logger.Error("hydra controller step failed", "role", c.Role, "event", ev.Kind, "error", err)
				c.schedule(c.RestartDelay, Event{Kind: EvRestart})
			}
		}
	}
}

// post enqueues ev without blocking the caller, even if called from within
// handle itself.
func (c *Controller) post(ev Event) {
	go func() {
		select {
		case c.events <- ev:
		case <-c.ctx.Done():
		}
	}()
}

// schedule posts ev after delay, cancellable via ctx.
func (c *Controller) schedule(delay time.Duration, ev Event) {
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			c.post(ev)
		case <-c.ctx.Done():
		}
	}()
}

func (c *Controller) setStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	c.Observer.ObserveState(c.Role, s, c.creditsAvailable.Load(), c.headOpen.Load())
}

func (c *Controller) handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EvRestart:
		return c.onRestart(ctx)
	case EvKeyExchangeResponse:
		c.mu.Lock()
		c.payment = ev.KExResponse.Payment
		c.mu.Unlock()
		return nil
	case EvTryToInitHead:
		return c.onTryToInitHead(ctx)
	case EvFundCommitAddr:
		return c.onFundCommitAddr(ctx)
	case EvTryToCommit:
		return c.onTryToCommit(ctx)
	case EvWaitForOpen:
		return c.onWaitForOpen(ctx)
	case EvMonitorStates:
		return c.onMonitorStates(ctx)
	case EvMonitorCredits:
		return c.onMonitorCredits(ctx)
	case EvAccountOneRequest:
		return c.onAccountOneRequest(ctx)
	case EvTryToClose:
		return c.onTryToClose(ctx)
	case EvWaitForClosed:
		return c.onWaitForClosed(ctx, ev.Retries)
	case EvDoFanout:
		return c.onDoFanout(ctx)
	case EvWaitForIdleAfterClose:
		return c.onWaitForIdleAfterClose(ctx)
	case EvSendPayment:
		return c.onSendPayment(ctx, ev)
	case EvTerminate:
		c.Node.Stop()
		return nil
	default:
		return &ControllerError{Stage: "handle", Err: fmt.Errorf("unknown event kind %d", ev.Kind)}
	}
}

func (c *Controller) onRestart(ctx context.Context) error {
	c.Node.Stop()
	c.headOpen.Store(false)
	c.setStatus(StatusIdle)
	c.fundingTriggered.Store(false)
	c.mu.Lock()
	c.requestsSinceMicrotx = 0
	c.microtransactionsSinceFanout = 0
	c.mu.Unlock()

	if _, err := c.Wallet.EnsureHydraKeys(ctx); err != nil {
		return &ControllerError{Stage: "ensure hydra keys", Err: err}
	}

	fuel, err := c.Wallet.FuelBalance(ctx)
	if err != nil {
		return &ControllerError{Stage: "fuel balance", Err: err}
	}
	if fuel < MinFuelLovelace {
		c.Logger.Warn("hydra controller: fuel address underfunded, retrying restart", "role", c.Role, "fuel", fuel, "min", MinFuelLovelace)
		c.schedule(c.RestartDelay, Event{Kind: EvRestart})
		return nil
	}

	args := c.BuildArgs()
	// A head here is always exactly Gateway+Bridge, so there is always
	// one peer to wait for even before PeerHydraVKeyPaths is populated.
	c.requiredPeers = len(args.PeerHydraVKeyPaths)
	if c.requiredPeers == 0 {
		c.requiredPeers = 1
	}
	if err := c.Node.Start(ctx, args); err != nil {
		return &ControllerError{Stage: "start node", Err: err}
	}

	c.schedule(c.RestartDelay, Event{Kind: EvMonitorStates})
	if c.Behavior.InitiatesHeadOpen() {
		c.schedule(c.RestartDelay, Event{Kind: EvTryToInitHead})
	}
	return nil
}

func (c *Controller) onTryToInitHead(ctx context.Context) error {
	status, err := c.Admin.HeadStatus(ctx, c.Node.APIPort())
	if err == nil && status != StatusIdle {
		return nil // already past Init, e.g. peer beat us to it
	}
	if c.requiredPeers > 0 {
		connected, err := c.Admin.PeersConnected(ctx, c.Node.MetricsPort())
		if err != nil || connected < c.requiredPeers {
			c.schedule(c.PollRetryDelay, Event{Kind: EvTryToInitHead})
			return nil
		}
	}
	if err := c.Admin.SendCommand(ctx, c.Node.APIPort(), "Init"); err != nil {
		c.schedule(c.PollRetryDelay, Event{Kind: EvTryToInitHead})
		return nil
	}
	if c.fundingTriggered.CompareAndSwap(false, true) {
		c.schedule(c.PollRetryDelay, Event{Kind: EvFundCommitAddr})
	}
	return nil
}

func (c *Controller) onFundCommitAddr(ctx context.Context) error {
	if c.Behavior.EmptyCommit() {
		c.schedule(c.PollRetryDelay, Event{Kind: EvTryToCommit})
		return nil
	}

	c.mu.Lock()
	commitLovelace := uint64(c.payment.CommitADA * 1_000_000)
	c.mu.Unlock()
	if commitLovelace == 0 {
		commitLovelace = MinFuelLovelace
	}

	balance, err := c.Wallet.CommitWalletBalance(ctx)
	if err != nil {
		return &ControllerError{Stage: "commit balance", Err: err}
	}
	if balance < commitLovelace {
		if err := c.Wallet.FundCommitWallet(ctx, commitLovelace); err != nil {
			c.schedule(c.PollRetryDelay, Event{Kind: EvFundCommitAddr})
			return nil
		}
	}
	c.schedule(c.PollRetryDelay, Event{Kind: EvTryToCommit})
	return nil
}

func (c *Controller) onTryToCommit(ctx context.Context) error {
	var utxo json.RawMessage
	if c.Behavior.EmptyCommit() {
		utxo = json.RawMessage("{}")
	} else {
		var err error
		utxo, err = c.Wallet.CommitUTXO(ctx)
		if err != nil {
			return &ControllerError{Stage: "commit utxo", Err: err}
		}
	}
	cborHex, err := c.Admin.Commit(ctx, c.Node.APIPort(), utxo)
	if err != nil {
		c.schedule(c.PollRetryDelay, Event{Kind: EvTryToCommit})
		return nil
	}
	if err := c.Wallet.SignAndSubmit(ctx, cborHex); err != nil {
		return &ControllerError{Stage: "sign and submit commit", Err: err}
	}
	c.schedule(c.PollRetryDelay, Event{Kind: EvWaitForOpen})
	return nil
}

func (c *Controller) onWaitForOpen(ctx context.Context) error {
	status, err := c.Admin.HeadStatus(ctx, c.Node.APIPort())
	if err != nil {
		c.schedule(c.PollRetryDelay, Event{Kind: EvWaitForOpen})
		return nil
	}
	if status != StatusOpen {
		c.schedule(c.PollRetryDelay, Event{Kind: EvWaitForOpen})
		return nil
	}
	c.headOpen.Store(true)
	c.setStatus(StatusOpen)
	c.post(Event{Kind: EvMonitorCredits})
	return nil
}

func (c *Controller) onMonitorStates(ctx context.Context) error {
	status, err := c.Admin.HeadStatus(ctx, c.Node.APIPort())
	if err != nil {
		c.schedule(c.PollRetryDelay, Event{Kind: EvMonitorStates})
		return nil
	}
	wasOpen := c.headOpen.Load()
	c.setStatus(status)
	switch status {
	case StatusInitial:
		// Both sides must commit once the head reaches Initial, but only
		// the side that calls onTryToInitHead (InitiatesHeadOpen) ever
		// observes its own Init call succeed; the other side (Gateway)
		// only ever sees Initial here and needs its own trigger into the
		// FundCommitAddr/TryToCommit sequence.
		if c.fundingTriggered.CompareAndSwap(false, true) {
			c.post(Event{Kind: EvFundCommitAddr})
			return nil
		}
	case StatusClosed:
		c.headOpen.Store(false)
		c.post(Event{Kind: EvWaitForClosed, Retries: 0})
		return nil
	case StatusIdle:
		if wasOpen {
			// Head vanished without going through our own close flow
			// (peer-initiated or contested close already fanned out).
			c.headOpen.Store(false)
			c.schedule(c.RestartDelay, Event{Kind: EvRestart})
			return nil
		}
	}
	c.schedule(c.PollRetryDelay, Event{Kind: EvMonitorStates})
	return nil
}

func (c *Controller) onMonitorCredits(ctx context.Context) error {
	if !c.headOpen.Load() {
		return nil
	}
	balance, err := c.Ledger.PayeeBalance(ctx)
	if err == nil {
		c.mu.Lock()
		lovelacePerReq := c.payment.LovelacePerRequest
		c.mu.Unlock()
		if lovelacePerReq > 0 {
			c.creditsAvailable.Store(balance / lovelacePerReq)
		}
	}
	c.schedule(c.PollRetryDelay, Event{Kind: EvMonitorCredits})
	return nil
}

func (c *Controller) onAccountOneRequest(ctx context.Context) error {
	c.mu.Lock()
	c.requestsSinceMicrotx++
	due := c.requestsSinceMicrotx >= c.payment.RequestsPerMicrotransaction && c.payment.RequestsPerMicrotransaction > 0
	if due {
		c.requestsSinceMicrotx = 0
	}
	lovelace := c.payment.MicrotransactionLovelace()
	microFanoutThreshold := c.payment.MicrotransactionsPerFanout
	c.mu.Unlock()
	if !due {
		return nil
	}
	if err := c.Ledger.SendMicrotransaction(ctx, lovelace, c.Behavior.PayeeAddress()); err != nil {
		return &ControllerError{Stage: "send microtransaction", Err: err}
	}
	c.mu.Lock()
	c.microtransactionsSinceFanout++
	closeDue := microFanoutThreshold > 0 && c.microtransactionsSinceFanout >= microFanoutThreshold
	if closeDue {
		c.microtransactionsSinceFanout = 0
	}
	c.mu.Unlock()
	if closeDue {
		c.post(Event{Kind: EvTryToClose})
	}
	return nil
}

func (c *Controller) onTryToClose(ctx context.Context) error {
	if err := c.Admin.SendCommand(ctx, c.Node.APIPort(), "Close"); err != nil {
		return &ControllerError{Stage: "close", Err: err}
	}
	c.schedule(c.PollRetryDelay, Event{Kind: EvWaitForClosed, Retries: 0})
	return nil
}

func (c *Controller) onWaitForClosed(ctx context.Context, retries int) error {
	status, err := c.Admin.HeadStatus(ctx, c.Node.APIPort())
	if err == nil && status == StatusClosed {
		c.post(Event{Kind: EvDoFanout})
		return nil
	}
	if retries >= MaxCloseRetries {
		return &ControllerError{Stage: "wait for closed", Err: fmt.Errorf("head did not close after %d retries", retries)}
	}
	c.schedule(c.PollRetryDelay, Event{Kind: EvWaitForClosed, Retries: retries + 1})
	return nil
}

func (c *Controller) onDoFanout(ctx context.Context) error {
	if err := c.Admin.SendCommand(ctx, c.Node.APIPort(), "Fanout"); err != nil {
		return &ControllerError{Stage: "fanout", Err: err}
	}
	c.schedule(c.PollRetryDelay, Event{Kind: EvWaitForIdleAfterClose})
	return nil
}

func (c *Controller) onWaitForIdleAfterClose(ctx context.Context) error {
	status, err := c.Admin.HeadStatus(ctx, c.Node.APIPort())
	if err == nil && status == StatusIdle {
		c.setStatus(StatusIdle)
		c.schedule(c.RestartDelay, Event{Kind: EvRestart})
		return nil
	}
	c.schedule(c.PollRetryDelay, Event{Kind: EvWaitForIdleAfterClose})
	return nil
}

func (c *Controller) onSendPayment(ctx context.Context, ev Event) error {
	err := c.Ledger.SendMicrotransaction(ctx, ev.PaymentAmountLovelace, ev.PaymentTo)
	if ev.PaymentReply != nil {
		select {
		case ev.PaymentReply <- err:
		default:
		}
	}
	return nil
}
