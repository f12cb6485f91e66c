// Package config loads the YAML configuration shared by the gateway and
// bridge commands and watches the config file for changes.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DefaultMinLovelacePerTransaction is the floor Cardano enforces per UTXO
// output, applied when a config omits payment.min_lovelace_per_transaction.
const DefaultMinLovelacePerTransaction uint64 = 840_450

// ServerConfig controls the local listener each role binds.
type ServerConfig struct {
	Port int    `mapstructure:"port" yaml:"port"`
	Host string `mapstructure:"host" yaml:"host"`
}

// PaymentConfig mirrors spec.md's payment parameters (§3), negotiated into
// the KeyExchangeResponse and enforced by the Hydra controller.
type PaymentConfig struct {
	RequestsPerMicrotransaction int    `mapstructure:"requests_per_microtransaction" yaml:"requests_per_microtransaction"`
	MicrotransactionsPerFanout int    `mapstructure:"microtransactions_per_fanout" yaml:"microtransactions_per_fanout"`
	MinLovelacePerTransaction  uint64 `mapstructure:"min_lovelace_per_transaction" yaml:"min_lovelace_per_transaction"`
}

// NetworkConfig selects the Cardano network cardano-cli/hydra-node target.
type NetworkConfig struct {
	Mainnet      bool   `mapstructure:"mainnet" yaml:"mainnet"`
	TestnetMagic uint32 `mapstructure:"testnet_magic" yaml:"testnet_magic"`
	NodeSocket   string `mapstructure:"node_socket" yaml:"node_socket"`
}

// PersistenceConfig controls where vkeys, fallback machine-id, and other
// role-scoped state live on disk.
type PersistenceConfig struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// NodeConfig locates the external binaries and Redis endpoint the Hydra
// controller and observability leaves shell out / connect to.
type NodeConfig struct {
	CardanoCLIPath string `mapstructure:"cardano_cli_path" yaml:"cardano_cli_path"`
	HydraNodeBin   string `mapstructure:"hydra_node_bin" yaml:"hydra_node_bin"`
	RedisAddr      string `mapstructure:"redis_addr" yaml:"redis_addr"` // empty disables statestream publishing
}

// DashboardConfig controls the optional bubbletea operator dashboard.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// ChainWatchConfig tunes the L1 staleness monitor (§6, supplemented).
type ChainWatchConfig struct {
	StaleThresholdSecs int `mapstructure:"chain_stale_threshold_secs" yaml:"chain_stale_threshold_secs"`
}

// Config is the root configuration document for both hydra-bridge roles.
type Config struct {
	Role               string `mapstructure:"role" yaml:"role"` // "gateway" or "bridge"
	GatewayAddr        string `mapstructure:"gateway_addr" yaml:"gateway_addr"`
	BackendURL         string `mapstructure:"backend_url" yaml:"backend_url"`
	MetricsPort        int    `mapstructure:"metrics_port" yaml:"metrics_port"`
	MaxHeads           int    `mapstructure:"max_heads" yaml:"max_heads"`
	RequestTimeoutSecs int    `mapstructure:"request_timeout_secs" yaml:"request_timeout_secs"` // §3 REQUEST_TIMEOUT

	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Network     NetworkConfig     `mapstructure:"network" yaml:"network"`
	Payment     PaymentConfig     `mapstructure:"payment" yaml:"payment"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
	ChainWatch  ChainWatchConfig  `mapstructure:"chain_watch" yaml:"chain_watch"`
	Node        NodeConfig        `mapstructure:"node" yaml:"node"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard" yaml:"dashboard"`
}

// Load reads the YAML file at path into a Config via Viper, allowing any
// field to be overridden by a HYDRA_BRIDGE_-prefixed environment variable
// (e.g. HYDRA_BRIDGE_PAYMENT_MIN_LOVELACE_PER_TRANSACTION), the way the
// teacher's core config package layers env vars over its YAML file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HYDRA_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RequestTimeoutSecs <= 0 {
		c.RequestTimeoutSecs = 60
	}
	if c.ChainWatch.StaleThresholdSecs <= 0 {
		c.ChainWatch.StaleThresholdSecs = 300
	}
	if c.Payment.MinLovelacePerTransaction == 0 {
		c.Payment.MinLovelacePerTransaction = DefaultMinLovelacePerTransaction
	}
	if c.Node.CardanoCLIPath == "" {
		c.Node.CardanoCLIPath = "cardano-cli"
	}
	if c.Node.HydraNodeBin == "" {
		c.Node.HydraNodeBin = "hydra-node"
	}
	if c.Persistence.BaseDir == "" {
		c.Persistence.BaseDir = "/var/lib/hydra-bridge"
	}
}

// Validate checks the fields Load cannot sanity-check structurally.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	if c.Role != "gateway" && c.Role != "bridge" {
		return fmt.Errorf("config: role must be \"gateway\" or \"bridge\", got %q", c.Role)
	}
	if c.Payment.RequestsPerMicrotransaction <= 0 {
		return fmt.Errorf("config: payment.requests_per_microtransaction must be positive")
	}
	if c.Payment.MicrotransactionsPerFanout <= 0 {
		return fmt.Errorf("config: payment.microtransactions_per_fanout must be positive")
	}
	return nil
}

// Watcher reloads Config from disk whenever path changes and invokes onChange
// with the freshly parsed value. It uses fsnotify the way the teacher's
// onboarding/config packages watch state directories.
type Watcher struct {
	path     string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	current  *Config
	onChange func(*Config)
}

// NewWatcher starts watching path, calling onChange on every write or create
// event whose reloaded config parses and passes Validate. It does not invoke onChange for the initial load;
// callers should Load once up front and pass that value to their components.
func NewWatcher(path string, logger *slog.Logger, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w := &Watcher{path: path, logger: logger, watcher: fw, onChange: onChange}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config: reload failed, keeping previous value", "error", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				w.logger.Warn("config: reloaded config failed validation, keeping previous value", "error", err)
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config: watcher error", "error", err)
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
