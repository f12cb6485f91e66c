// Package main is the entry point for hydra-bridge: the Gateway load
// balancer or a self-hosted Bridge relay, selected by subcommand.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/blockfrost/hydra-bridge/internal/bridgetui"
	"github.com/blockfrost/hydra-bridge/internal/cardano"
	"github.com/blockfrost/hydra-bridge/internal/chainwatch"
	"github.com/blockfrost/hydra-bridge/internal/config"
	"github.com/blockfrost/hydra-bridge/internal/connection"
	"github.com/blockfrost/hydra-bridge/internal/healthring"
	"github.com/blockfrost/hydra-bridge/internal/hydra"
	"github.com/blockfrost/hydra-bridge/internal/hydra/kex"
	"github.com/blockfrost/hydra-bridge/internal/hydranode"
	"github.com/blockfrost/hydra-bridge/internal/keys"
	"github.com/blockfrost/hydra-bridge/internal/logging"
	"github.com/blockfrost/hydra-bridge/internal/manager"
	"github.com/blockfrost/hydra-bridge/internal/messaging"
	"github.com/blockfrost/hydra-bridge/internal/onboarding"
	"github.com/blockfrost/hydra-bridge/internal/statestream"
	"github.com/blockfrost/hydra-bridge/internal/tunnel"
	"github.com/blockfrost/hydra-bridge/internal/wire"
	"github.com/blockfrost/hydra-bridge/internal/wsclient"
	"github.com/blockfrost/hydra-bridge/internal/wsserver"
)

var (
	version    = "0.1.0"
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hydra-bridge",
		Short: "Metered WebSocket bridge between a Gateway and self-hosted Bridge relays",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "config file path")

	rootCmd.AddCommand(
		versionCmd(),
		gatewayCmd(),
		bridgeCmd(),
		onboardCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hydra-bridge v%s\n", version)
		},
	}
}

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively generate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboarding.New(configPath).CLI()
		},
	}
}

// buildVKeyMaterial ensures the Hydra signing/verification keys exist on
// disk, then reads the Cardano and Hydra vkey envelopes from store and
// returns them for the key-exchange. The Cardano vkey must already exist.
func buildVKeyMaterial(ctx context.Context, store *keys.Store, wallet *cardano.Wallet) (cardanoVKey, hydraVKey wire.VKeyEnvelope, err error) {
	if _, err = wallet.EnsureHydraKeys(ctx); err != nil {
		return wire.VKeyEnvelope{}, wire.VKeyEnvelope{}, fmt.Errorf("ensure hydra keys: %w", err)
	}
	cardanoVKey, err = store.ReadVKeyEnvelope("cardano.vkey")
	if err != nil {
		return wire.VKeyEnvelope{}, wire.VKeyEnvelope{}, fmt.Errorf("read cardano vkey: %w", err)
	}
	hydraVKey, err = store.ReadVKeyEnvelope("hydra.vkey")
	if err != nil {
		return wire.VKeyEnvelope{}, wire.VKeyEnvelope{}, fmt.Errorf("read hydra vkey: %w", err)
	}
	return cardanoVKey, hydraVKey, nil
}

func serveMetrics(port int, logger *slog.Logger) {
	if port <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
}

func runUntilSignal(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the Gateway load balancer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(configPath)
		},
	}
}

func runGateway(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Role != "gateway" {
		return fmt.Errorf("hydra-bridge: config role %q is not \"gateway\"", cfg.Role)
	}

	logger := logging.WithComponent("gateway")
	ctx := runUntilSignal(context.Background())

	gatewayMachineID, err := keys.MachineID(cfg.Persistence.BaseDir + "/machine-id")
	if err != nil {
		return fmt.Errorf("resolve machine id: %w", err)
	}
	gatewayStore, err := keys.NewStore("gateway", networkName(cfg), gatewayMachineID)
	if err != nil {
		return err
	}
	if err := gatewayStore.EnsureDir(); err != nil {
		return err
	}

	statusRegistry := healthring.NewRegistry(healthring.DefaultHistorySize)
	mgr := manager.New(cfg.MaxHeads, logger)

	var redisClient *messaging.RedisClient
	if cfg.Node.RedisAddr != "" {
		redisClient, err = messaging.NewRedisClient(messaging.RedisConfig{Addr: cfg.Node.RedisAddr})
		if err != nil {
			logger.Warn("statestream disabled: redis connect failed", "error", err)
			redisClient = nil
		}
	}

	newController := func(peerID string) (*hydra.Controller, error) {
		peerStore, err := keys.NewStore("gateway", networkName(cfg), peerID)
		if err != nil {
			return nil, err
		}
		if err := peerStore.EnsureDir(); err != nil {
			return nil, err
		}
		wallet := buildWallet(cfg, peerStore)
		node := hydranode.NewProcess(cfg.Node.HydraNodeBin, logger)
		admin := hydranode.NewAdminClient()
		ledger := cardano.NewHeadLedger(cfg.Node.CardanoCLIPath, cfg.Persistence.BaseDir+"/"+peerID, 0, "", "", wallet.PaymentSigningKeyPath, admin, admin)
		controller := hydra.NewController(hydra.RoleGateway, hydra.GatewayBehavior{}, func() hydra.NodeArgs {
			return buildNodeArgs(cfg, peerID)
		}, node, admin, wallet, ledger, logger)

		ring := statusRegistry.RingFor(peerID)
		if redisClient != nil {
			publisher := statestream.NewPublisher(redisClient, peerID, logger)
			controller.Observer = chainObserver{ring, publisher}
		} else {
			controller.Observer = ring
		}
		return controller, nil
	}

	gatewayWallet := buildWallet(cfg, gatewayStore)
	cardanoVKey, hydraVKey, err := buildVKeyMaterial(ctx, gatewayStore, gatewayWallet)
	if err != nil {
		return fmt.Errorf("gateway key material: %w", err)
	}

	lovelacePerRequest := cfg.Payment.MinLovelacePerTransaction / uint64(cfg.Payment.RequestsPerMicrotransaction)
	gatewayKEx := &kex.GatewayKEx{
		Manager:            mgr,
		NewController:      newController,
		CardanoVKey:        cardanoVKey,
		HydraVKey:          hydraVKey,
		ProtocolParameters: json.RawMessage(`{}`),
		ContestationPeriod: 3600,
		GatewayH2HPort:     uint16(cfg.Server.Port + 1),
		Payment: wire.PaymentParams{
			LovelacePerRequest:          lovelacePerRequest,
			RequestsPerMicrotransaction: uint64(cfg.Payment.RequestsPerMicrotransaction),
			MicrotransactionsPerFanout:  uint64(cfg.Payment.MicrotransactionsPerFanout),
		},
		Logger: logger,
	}

	srv := wsserver.New(wsserver.Config{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		BackendURL:     cfg.BackendURL,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		TunnelConfig:   tunnel.Config{},
		ConnConfig:     connection.Config{},
	}, gatewayKEx, logger)

	serveMetrics(cfg.MetricsPort, logger)
	serveStatus(cfg, statusRegistry, logger)

	watcher, err := config.NewWatcher(path, logger, func(newCfg *config.Config) {
		logger.Info("config reloaded", "requests_per_microtransaction", newCfg.Payment.RequestsPerMicrotransaction)
	})
	if err == nil {
		defer watcher.Close()
	}

	tip := &cardano.Wallet{
		CLIPath:        cfg.Node.CardanoCLIPath,
		NodeSocketPath: cfg.Network.NodeSocket,
		Network:        cardano.NetworkFlags{Mainnet: cfg.Network.Mainnet, TestnetMagic: cfg.Network.TestnetMagic},
		Logger:         logger,
	}
	monitor := chainwatch.NewMonitor(tip, time.Duration(cfg.ChainWatch.StaleThresholdSecs)*time.Second, 30*time.Second, logger)
	monitor.Start()
	defer monitor.Stop()

	if cfg.Dashboard.Enabled {
		go runGatewayDashboard(mgr, monitor)
	}

	logger.Info("gateway listening", "addr", cfg.Server.Host, "port", cfg.Server.Port)
	return srv.ListenAndServe(ctx)
}

// chainObserver fans one controller's state transitions out to both the
// operator-facing history ring and the Redis state-transition stream.
type chainObserver struct {
	ring      *healthring.Ring
	publisher *statestream.Publisher
}

func (c chainObserver) ObserveState(role hydra.Role, status string, creditsAvailable uint64, headOpen bool) {
	c.ring.ObserveState(role, status, creditsAvailable, headOpen)
	c.publisher.ObserveState(role, status, creditsAvailable, headOpen)
}

func serveStatus(cfg *config.Config, reg *healthring.Registry, logger *slog.Logger) {
	if cfg.MetricsPort <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", reg.StatusHandler())
	mux.HandleFunc("/api/v1/status/", reg.PeerHistoryHandler("/api/v1/status/"))
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort+1), mux); err != nil {
			logger.Warn("status server stopped", "error", err)
		}
	}()
}

func bridgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Run a self-hosted Bridge relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(configPath)
		},
	}
}

func runBridge(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Role != "bridge" {
		return fmt.Errorf("hydra-bridge: config role %q is not \"bridge\"", cfg.Role)
	}

	logger := logging.WithComponent("bridge")
	ctx := runUntilSignal(context.Background())

	machineID, err := keys.MachineID(cfg.Persistence.BaseDir + "/machine-id")
	if err != nil {
		return fmt.Errorf("resolve machine id: %w", err)
	}
	store, err := keys.NewStore("bridge", networkName(cfg), machineID)
	if err != nil {
		return err
	}
	if err := store.EnsureDir(); err != nil {
		return err
	}

	wallet := buildWallet(cfg, store)
	node := hydranode.NewProcess(cfg.Node.HydraNodeBin, logger)
	admin := hydranode.NewAdminClient()
	ledger := cardano.NewHeadLedger(cfg.Node.CardanoCLIPath, cfg.Persistence.BaseDir, 0, cfg.GatewayAddr, "", wallet.PaymentSigningKeyPath, admin, admin)

	controller := hydra.NewController(hydra.RoleBridge, hydra.BridgeBehavior{GatewayAddr: cfg.GatewayAddr}, func() hydra.NodeArgs {
		return buildNodeArgs(cfg, machineID)
	}, node, admin, wallet, ledger, logger)

	ring := healthring.NewRing(machineID, healthring.DefaultHistorySize)
	controller.Observer = ring

	go func() {
		if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("hydra controller stopped", "error", err)
		}
	}()

	if cfg.Node.RedisAddr != "" {
		if redisClient, err := messaging.NewRedisClient(messaging.RedisConfig{Addr: cfg.Node.RedisAddr}); err != nil {
			logger.Warn("heartbeat disabled: redis connect failed", "error", err)
		} else {
			hb := messaging.NewHeartbeatManager(redisClient, machineID)
			go hb.StartHeartbeatLoop(ctx, 30*time.Second, controller.Status(), nil)
		}
	}

	cardanoVKey, hydraVKey, err := buildVKeyMaterial(ctx, store, wallet)
	if err != nil {
		return fmt.Errorf("bridge key material: %w", err)
	}

	bridgeKEx := &kex.BridgeKEx{
		Controller:   controller,
		MachineID:    machineID,
		CardanoVKey:  cardanoVKey,
		HydraVKey:    hydraVKey,
		LocalH2HPort: uint16(cfg.Server.Port + 1),
		Logger:       logger,
	}

	client := wsclient.New(wsclient.Config{
		GatewayURL:    cfg.GatewayAddr,
		LocalHTTPAddr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		TunnelConfig:  tunnel.Config{},
		ConnConfig:    connection.Config{},
	}, bridgeKEx, logger)

	serveMetrics(cfg.MetricsPort, logger)

	if cfg.Dashboard.Enabled {
		go runBridgeDashboard(controller, ring)
	}

	logger.Info("bridge connecting", "gateway", cfg.GatewayAddr)
	return client.Run(ctx)
}

func runBridgeDashboard(controller *hydra.Controller, ring *healthring.Ring) {
	snapshot := func() bridgetui.Snapshot {
		return bridgetui.Snapshot{
			Role:             "bridge",
			Status:           controller.Status(),
			HeadOpen:         controller.HeadOpen(),
			CreditsAvailable: controller.CreditsAvailable(),
		}
	}
	_ = ring
	p := tea.NewProgram(bridgetui.NewApp(snapshot, version))
	p.Run()
}

func runGatewayDashboard(mgr *manager.HydrasManager, monitor *chainwatch.Monitor) {
	snapshot := func() bridgetui.Snapshot {
		return bridgetui.Snapshot{
			Role:          "gateway",
			TunnelStreams: mgr.Count(),
			Stale:         monitor.Stale(),
		}
	}
	p := tea.NewProgram(bridgetui.NewApp(snapshot, version))
	p.Run()
}

func networkName(cfg *config.Config) string {
	if cfg.Network.Mainnet {
		return "mainnet"
	}
	return fmt.Sprintf("testnet-%d", cfg.Network.TestnetMagic)
}

func buildWallet(cfg *config.Config, store *keys.Store) *cardano.Wallet {
	return &cardano.Wallet{
		CLIPath:               cfg.Node.CardanoCLIPath,
		NodeSocketPath:        cfg.Network.NodeSocket,
		Network:               cardano.NetworkFlags{Mainnet: cfg.Network.Mainnet, TestnetMagic: cfg.Network.TestnetMagic},
		WorkDir:               cfg.Persistence.BaseDir,
		PaymentSigningKeyPath: store.Path("payment.skey"),
		HydraSigningKeyPath:   store.Path("hydra.skey"),
	}
}

func buildNodeArgs(cfg *config.Config, peerID string) hydra.NodeArgs {
	return hydra.NodeArgs{
		NodeID:         peerID,
		PersistenceDir: cfg.Persistence.BaseDir + "/" + peerID,
		Mainnet:        cfg.Network.Mainnet,
		TestnetMagic:   cfg.Network.TestnetMagic,
		NodeSocketPath: cfg.Network.NodeSocket,
	}
}
