// Package config loads gateway/ledger configuration from an optional YAML
// file overlaid with environment variables, following the teacher's
// defaults-then-overlay shape but generalized from a single env-only
// source to a file-plus-env one.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything a sentinel-gateway process needs to start.
type Config struct {
	ListenAddr   string        `yaml:"listen_addr"`
	DataDir      string        `yaml:"data_dir"`
	GatewayID    string        `yaml:"gateway_id"`
	LedgerAddr   string        `yaml:"ledger_addr"`
	ShardCount   int           `yaml:"shard_count"`
	PCSBaseURL   string        `yaml:"pcs_base_url"`
	SigningKeys  string        `yaml:"signing_keys_path"`
	GatewayKey   string        `yaml:"gateway_key_path"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

func defaults() Config {
	return Config{
		ListenAddr:   ":9443",
		DataDir:      "./data",
		GatewayID:    "gw-default",
		LedgerAddr:   "127.0.0.1:9444",
		ShardCount:   16,
		PCSBaseURL:   "https://api.trustedservices.intel.com/sgx/certification/v4",
		SigningKeys:  "./config/signing-keys.json",
		GatewayKey:   "",
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  5 * time.Second,
	}
}

// Load builds a Config from defaults, then an optional YAML file at path
// (skipped entirely if path is empty or the file does not exist), then
// environment variable overrides — each layer only overwriting fields the
// layer above it actually sets.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 16
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	getString := func(key string, cur *string) {
		if val := os.Getenv(key); val != "" {
			*cur = val
		}
	}
	getInt := func(key string, cur *int) error {
		val := os.Getenv(key)
		if val == "" {
			return nil
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("config: invalid %s=%q: %w", key, val, err)
		}
		*cur = n
		return nil
	}
	getDuration := func(key string, cur *time.Duration) error {
		val := os.Getenv(key)
		if val == "" {
			return nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("config: invalid %s=%q: %w", key, val, err)
		}
		*cur = d
		return nil
	}

	getString("SENTINEL_LISTEN_ADDR", &cfg.ListenAddr)
	getString("SENTINEL_DATA_DIR", &cfg.DataDir)
	getString("SENTINEL_GATEWAY_ID", &cfg.GatewayID)
	getString("SENTINEL_LEDGER_ADDR", &cfg.LedgerAddr)
	getString("SENTINEL_PCS_BASE_URL", &cfg.PCSBaseURL)
	getString("SENTINEL_SIGNING_KEYS", &cfg.SigningKeys)
	getString("SENTINEL_GATEWAY_KEY", &cfg.GatewayKey)
	if err := getInt("SENTINEL_SHARD_COUNT", &cfg.ShardCount); err != nil {
		return err
	}
	if err := getDuration("SENTINEL_WRITE_TIMEOUT", &cfg.WriteTimeout); err != nil {
		return err
	}
	if err := getDuration("SENTINEL_READ_TIMEOUT", &cfg.ReadTimeout); err != nil {
		return err
	}
	return nil
}
