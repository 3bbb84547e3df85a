package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	Environment string          `toml:"Environment" yaml:"environment"`
	DataDir     string          `toml:"DataDir" yaml:"data_dir"`
	Wallet      WalletConfig    `toml:"wallet" yaml:"wallet"`
	RPC         RPCConfig       `toml:"rpc" yaml:"rpc"`
	Logging     LoggingConfig   `toml:"logging" yaml:"logging"`
	Telemetry   TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	EventLog    EventLogConfig  `toml:"eventlog" yaml:"eventlog"`
}

// Default returns the configuration written for a fresh install.
func Default() *Config {
	return &Config{
		Environment: "local",
		DataDir:     "./otpwallet-data",
		Wallet: WalletConfig{
			Hash:                   "keccak256",
			ParityConvention:       "even-left",
			RevealMinDelaySeconds:  1,
			RevealWindowSeconds:    60,
			SlotTolerance:          1,
			MaxTrackedTokens:       64,
			MaxPendingCommits:      128,
			MaxBacklinks:           32,
			MaxSignatures:          512,
			InvalidRevealThreshold: 0,
			PruneIntervalSeconds:   300,
		},
		RPC: RPCConfig{
			Address:            ":8645",
			ReadTimeoutSeconds: 10,
			RequestsPerSecond:  20,
			Burst:              40,
		},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads the configuration at path, writing the default file first when
// none exists. Files ending in .yaml or .yml are decoded as YAML, anything
// else as TOML. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: %s has unknown key %q", path, undecoded[0].String())
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	}
	return toml.NewEncoder(f).Encode(cfg)
}
