package config

// WalletConfig bounds the wallet engine.
type WalletConfig struct {
	Hash                   string `toml:"Hash" yaml:"hash"`
	ParityConvention       string `toml:"ParityConvention" yaml:"parity_convention"`
	RevealMinDelaySeconds  int64  `toml:"RevealMinDelaySeconds" yaml:"reveal_min_delay_seconds"`
	RevealWindowSeconds    int64  `toml:"RevealWindowSeconds" yaml:"reveal_window_seconds"`
	SlotTolerance          uint32 `toml:"SlotTolerance" yaml:"slot_tolerance"`
	MaxTrackedTokens       int    `toml:"MaxTrackedTokens" yaml:"max_tracked_tokens"`
	MaxPendingCommits      int    `toml:"MaxPendingCommits" yaml:"max_pending_commits"`
	MaxBacklinks           int    `toml:"MaxBacklinks" yaml:"max_backlinks"`
	MaxSignatures          int    `toml:"MaxSignatures" yaml:"max_signatures"`
	InvalidRevealThreshold uint32 `toml:"InvalidRevealThreshold" yaml:"invalid_reveal_threshold"`
	PruneIntervalSeconds   int64  `toml:"PruneIntervalSeconds" yaml:"prune_interval_seconds"`
}

// RPCConfig configures the HTTP surface.
type RPCConfig struct {
	Address            string  `toml:"Address" yaml:"address"`
	ReadTimeoutSeconds int     `toml:"ReadTimeoutSeconds" yaml:"read_timeout_seconds"`
	RequestsPerSecond  float64 `toml:"RequestsPerSecond" yaml:"requests_per_second"`
	Burst              int     `toml:"Burst" yaml:"burst"`
}

// LoggingConfig selects level and optional file rotation.
type LoggingConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
}

// TelemetryConfig mirrors the OTLP exporter settings.
type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// EventLogConfig points at the sqlite event journal. An empty DSN disables it.
type EventLogConfig struct {
	DSN string `toml:"DSN" yaml:"dsn"`
}
