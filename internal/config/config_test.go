package config

import (
	"os"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	yaml := []byte(`
role: gateway
gateway_addr: ":8080"
backend_url: "http://localhost:3000"
server:
  port: 18800
  host: localhost
network:
  mainnet: false
  testnet_magic: 2
payment:
  requests_per_microtransaction: 100
  microtransactions_per_fanout: 10
`)
	f, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(yaml); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	f.Close()

	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 18800 {
		t.Errorf("Expected port 18800, got %d", cfg.Server.Port)
	}
	if cfg.Role != "gateway" {
		t.Errorf("Expected role gateway, got %s", cfg.Role)
	}
	if cfg.Payment.MinLovelacePerTransaction != 840_450 {
		t.Errorf("Expected default min lovelace 840450, got %d", cfg.Payment.MinLovelacePerTransaction)
	}
	if cfg.ChainWatch.StaleThresholdSecs != 300 {
		t.Errorf("Expected default stale threshold 300, got %d", cfg.ChainWatch.StaleThresholdSecs)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Role:   "bridge",
		Server: ServerConfig{Port: 18800, Host: "localhost"},
		Payment: PaymentConfig{
			RequestsPerMicrotransaction: 100,
			MicrotransactionsPerFanout:  10,
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	cfg := &Config{Role: "gateway", Server: ServerConfig{Port: -1}}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for invalid port")
	}
}

func TestValidateInvalidRole(t *testing.T) {
	cfg := &Config{
		Role:   "not-a-role",
		Server: ServerConfig{Port: 8080},
		Payment: PaymentConfig{
			RequestsPerMicrotransaction: 1,
			MicrotransactionsPerFanout:  1,
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for invalid role")
	}
}
