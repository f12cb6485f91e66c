// Package onboarding walks an operator through generating a hydra-bridge
// config file on first run, as a CLI wizard or as a small JSON step API,
// grounded on the teacher's internal/onboarding step-state wizard shape.
package onboarding

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/blockfrost/hydra-bridge/internal/config"
)

// Onboarding collects answers for each wizard step into a state map before
// assembling and writing the final config.Config.
type Onboarding struct {
	configPath  string
	complete    bool
	state       map[string]interface{}
	currentStep int
}

// New reports onboarding as already complete if a config file already
// exists at configPath.
func New(configPath string) *Onboarding {
	complete := fileExists(configPath)
	o := &Onboarding{
		configPath: configPath,
		complete:   complete,
		state:      make(map[string]interface{}),
	}
	if !complete {
		o.currentStep = 1
	}
	return o
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// asInt accepts either an int (set directly by the CLI prompts) or a
// float64 (as produced by decoding a JSON request body), returning 0 for
// anything else or a nil value.
func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// IsNeeded reports whether no config file exists yet.
func (o *Onboarding) IsNeeded() bool {
	return !o.complete
}

// CLI runs the four-step interactive wizard against stdin/stdout.
func (o *Onboarding) CLI() error {
	if o.complete {
		fmt.Println("Config already exists, skipping onboarding")
		return nil
	}
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("hydra-bridge setup")
	o.promptRole(scanner)
	o.promptServer(scanner)
	o.promptNetwork(scanner)
	o.promptPayment(scanner)
	return o.writeConfig()
}

func (o *Onboarding) promptRole(scanner *bufio.Scanner) {
	fmt.Print("Role (gateway/bridge) [bridge]: ")
	scanner.Scan()
	role := strings.ToLower(strings.TrimSpace(scanner.Text()))
	if role == "" {
		role = "bridge"
	}

	gatewayAddr := ""
	backendURL := ""
	if role == "bridge" {
		fmt.Print("Gateway WebSocket URL (e.g. wss://gateway.example.com/ws): ")
		scanner.Scan()
		gatewayAddr = strings.TrimSpace(scanner.Text())
		fmt.Print("Local Blockfrost-compatible backend URL to proxy to: ")
		scanner.Scan()
		backendURL = strings.TrimSpace(scanner.Text())
	}

	o.state["role"] = map[string]interface{}{
		"role":         role,
		"gateway_addr": gatewayAddr,
		"backend_url":  backendURL,
	}
}

func (o *Onboarding) promptServer(scanner *bufio.Scanner) {
	fmt.Print("Listen host (default 0.0.0.0): ")
	scanner.Scan()
	host := strings.TrimSpace(scanner.Text())
	if host == "" {
		host = "0.0.0.0"
	}
	fmt.Print("Listen port (default 8080): ")
	scanner.Scan()
	port := 8080
	if v, err := strconv.Atoi(strings.TrimSpace(scanner.Text())); err == nil && v != 0 {
		port = v
	}
	o.state["server"] = map[string]interface{}{"host": host, "port": port}
}

func (o *Onboarding) promptNetwork(scanner *bufio.Scanner) {
	fmt.Print("Network mainnet? (y/n) [n]: ")
	scanner.Scan()
	mainnet := strings.ToLower(strings.TrimSpace(scanner.Text())) == "y"
	testnetMagic := 1
	if !mainnet {
		fmt.Print("Testnet magic (default 1): ")
		scanner.Scan()
		if v, err := strconv.Atoi(strings.TrimSpace(scanner.Text())); err == nil && v != 0 {
			testnetMagic = v
		}
	}
	fmt.Print("Cardano node socket path (default /ipc/node.socket): ")
	scanner.Scan()
	socket := strings.TrimSpace(scanner.Text())
	if socket == "" {
		socket = "/ipc/node.socket"
	}
	o.state["network"] = map[string]interface{}{
		"mainnet":       mainnet,
		"testnet_magic": testnetMagic,
		"node_socket":   socket,
	}
}

func (o *Onboarding) promptPayment(scanner *bufio.Scanner) {
	requestsPer := 1000
	fmt.Print("Requests per microtransaction (default 1000): ")
	scanner.Scan()
	if v, err := strconv.Atoi(strings.TrimSpace(scanner.Text())); err == nil && v != 0 {
		requestsPer = v
	}
	microPerFanout := 10
	fmt.Print("Microtransactions per fanout (default 10): ")
	scanner.Scan()
	if v, err := strconv.Atoi(strings.TrimSpace(scanner.Text())); err == nil && v != 0 {
		microPerFanout = v
	}
	o.state["payment"] = map[string]interface{}{
		"requests_per_microtransaction":  requestsPer,
		"microtransactions_per_fanout":   microPerFanout,
		"min_lovelace_per_transaction":   config.DefaultMinLovelacePerTransaction,
	}
}

func (o *Onboarding) writeConfig() error {
	cfg := &config.Config{}

	if role, ok := o.state["role"].(map[string]interface{}); ok {
		cfg.Role, _ = role["role"].(string)
		cfg.GatewayAddr, _ = role["gateway_addr"].(string)
		cfg.BackendURL, _ = role["backend_url"].(string)
	}
	if server, ok := o.state["server"].(map[string]interface{}); ok {
		cfg.Server.Host, _ = server["host"].(string)
		cfg.Server.Port = asInt(server["port"])
	}
	if network, ok := o.state["network"].(map[string]interface{}); ok {
		cfg.Network.Mainnet, _ = network["mainnet"].(bool)
		cfg.Network.TestnetMagic = uint32(asInt(network["testnet_magic"]))
		cfg.Network.NodeSocket, _ = network["node_socket"].(string)
	}
	if payment, ok := o.state["payment"].(map[string]interface{}); ok {
		cfg.Payment.RequestsPerMicrotransaction = asInt(payment["requests_per_microtransaction"])
		cfg.Payment.MicrotransactionsPerFanout = asInt(payment["microtransactions_per_fanout"])
		cfg.Payment.MinLovelacePerTransaction = uint64(asInt(payment["min_lovelace_per_transaction"]))
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("onboarding: generated config invalid: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("onboarding: marshal config: %w", err)
	}
	if err := os.WriteFile(o.configPath, data, 0644); err != nil {
		return fmt.Errorf("onboarding: write config: %w", err)
	}
	o.complete = true
	return nil
}

// StatusHandler reports whether onboarding is still needed, for a UI to
// decide whether to show the wizard.
func (o *Onboarding) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"needed": o.IsNeeded()})
	}
}

// SubmitHandler accepts the wizard's full answer set as one JSON document
// (role, server, network, payment keys matching the CLI prompts above) and
// writes the resulting config file.
func (o *Onboarding) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		for _, key := range []string{"role", "server", "network", "payment"} {
			if v, ok := body[key]; ok {
				o.state[key] = v
			}
		}
		if err := o.writeConfig(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}
}
