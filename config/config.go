package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// LedgerConfig points the engine at the ledger-of-record RPC endpoint.
type LedgerConfig struct {
	URL       string   `toml:"URL"`
	AuthToken string   `toml:"AuthToken"`
	Timeout   Duration `toml:"Timeout"`
}

// WebhookConfig configures the outbound notification dispatcher.
type WebhookConfig struct {
	Endpoint    string `toml:"Endpoint"`
	Secret      string `toml:"Secret"`
	MaxAttempts int    `toml:"MaxAttempts"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// LogConfig controls structured log output and optional rotation.
type LogConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// AuthConfig secures the HTTP gateway with HMAC-signed bearer tokens.
type AuthConfig struct {
	Enabled    bool     `toml:"Enabled"`
	HMACSecret string   `toml:"HMACSecret"`
	Issuer     string   `toml:"Issuer"`
	Audience   string   `toml:"Audience"`
	ClockSkew  Duration `toml:"ClockSkew"`
}

// RateLimitConfig bounds request rates per client for one route group.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Config captures runtime configuration for the confirmation service.
type Config struct {
	ListenAddress string                     `toml:"ListenAddress"`
	DataDir       string                     `toml:"DataDir"`
	PolicyFile    string                     `toml:"PolicyFile"`
	Environment   string                     `toml:"Environment"`
	Ledger        LedgerConfig               `toml:"Ledger"`
	Webhook       WebhookConfig              `toml:"Webhook"`
	Telemetry     TelemetryConfig            `toml:"Telemetry"`
	Log           LogConfig                  `toml:"Log"`
	Auth          AuthConfig                 `toml:"Auth"`
	RateLimits    map[string]RateLimitConfig `toml:"RateLimits"`
}

// Load loads the service configuration from the given path, creating a default
// file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg, path)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg, path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8085"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./twocheck-data"
	}
	if strings.TrimSpace(cfg.PolicyFile) == "" {
		cfg.PolicyFile = filepath.Join(filepath.Dir(path), "policy.yaml")
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.Ledger.Timeout <= 0 {
		cfg.Ledger.Timeout = Duration(10 * time.Second)
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 5
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = Duration(2 * time.Minute)
	}
}

func (c *Config) validate() error {
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return errors.New("auth enabled without HMAC secret")
	}
	for name, rl := range c.RateLimits {
		if rl.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate limit %q requests per minute must be positive", name)
		}
	}
	return nil
}
