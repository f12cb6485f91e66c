// Package hydranode manages a local hydra-node subprocess and its admin
// HTTP/WS API (§6.2, §6.3), implementing the capability interfaces
// internal/hydra depends on so the controller never imports os/exec or
// net/http directly.
package hydranode

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/blockfrost/hydra-bridge/internal/hydra"
)

// Process wraps one hydra-node subprocess invocation. It satisfies
// hydra.NodeHandle.
type Process struct {
	BinaryPath string
	Logger     *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	apiPort int
	metrics int
	exited  chan error
}

// NewProcess constructs a Process bound to the given hydra-node binary.
func NewProcess(binaryPath string, logger *slog.Logger) *Process {
	return &Process{BinaryPath: binaryPath, Logger: logger}
}

var _ hydra.NodeHandle = (*Process)(nil)

// Start launches hydra-node with args translated to CLI flags (§6.3). If a
// process is already running it is stopped first.
func (p *Process) Start(ctx context.Context, args hydra.NodeArgs) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		p.stopLocked()
	}

	cmd := exec.CommandContext(ctx, p.BinaryPath, buildFlags(args)...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }

	exited := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("hydranode: start: %w", err)
	}

	p.cmd = cmd
	p.apiPort = args.APIPort
	p.metrics = args.MonitoringPort
	p.exited = exited

	go func() {
		exited <- cmd.Wait()
	}()

	p.Logger.Info("hydra-node started", "node_id", args.NodeID, "api_port", args.APIPort, "pid", cmd.Process.Pid)
	return nil
}

func buildFlags(a hydra.NodeArgs) []string {
	flags := []string{
		"--node-id", a.NodeID,
		"--persistence-dir", a.PersistenceDir,
		"--cardano-signing-key", a.CardanoSigningKeyPath,
		"--hydra-signing-key", a.HydraSigningKeyPath,
		"--ledger-protocol-parameters", a.LedgerProtocolParamsPath,
		"--contestation-period", strconv.FormatUint(a.ContestationPeriodSecs, 10),
		"--node-socket", a.NodeSocketPath,
		"--api-port", strconv.Itoa(a.APIPort),
		"--listen", "127.0.0.1:" + strconv.Itoa(a.ListenPort),
		"--hydra-scripts-tx-id", a.HydraScriptsTxID,
		"--monitoring-port", strconv.Itoa(a.MonitoringPort),
	}
	if a.Mainnet {
		flags = append(flags, "--mainnet")
	} else {
		flags = append(flags, "--testnet-magic", strconv.FormatUint(uint64(a.TestnetMagic), 10))
	}
	for i := range a.PeerHydraVKeyPaths {
		flags = append(flags, "--hydra-verification-key", a.PeerHydraVKeyPaths[i])
		if i < len(a.PeerCardanoVKeyPaths) {
			flags = append(flags, "--cardano-verification-key", a.PeerCardanoVKeyPaths[i])
		}
	}
	return flags
}

// Stop sends SIGTERM and detaches; it does not wait for exit.
func (p *Process) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Process) stopLocked() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.Logger.Warn("hydra-node stop signal failed", "error", err)
	}
	p.cmd = nil
}

// Exited reports the subprocess's terminal Wait() result.
func (p *Process) Exited() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited == nil {
		p.exited = make(chan error, 1)
	}
	return p.exited
}

func (p *Process) APIPort() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apiPort
}

func (p *Process) MetricsPort() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// WaitForReady polls the subprocess health until it accepts connections on
// apiPort or ctx expires, used right after Start (§6.3).
func WaitForReady(ctx context.Context, client *AdminClient, apiPort int, pollInterval time.Duration) error {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		if _, err := client.HeadStatus(ctx, apiPort); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
