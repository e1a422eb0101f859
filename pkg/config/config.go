// Package config holds the tunables governing DAG cleanup, Merkle
// chunking, sync pagination, and bloom filter sizing, loaded the way the
// teacher loads node configuration: viper defaults, optional config
// file, environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable named in spec.md's external interfaces
// table. Node identity/storage path/log level are carried as ambient
// NodeConfig; everything collaborator-specific (network listen address,
// API ports, consensus timing, CAS credentials) is out of scope and
// dropped.
type Config struct {
	Node  NodeConfig  `mapstructure:"node"`
	Sync  SyncConfig  `mapstructure:"sync"`
	Merkle MerkleConfig `mapstructure:"merkle"`
	DAG   DAGConfig   `mapstructure:"dag"`
	Applier ApplierConfig `mapstructure:"applier"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// NodeConfig holds node-identity ambient configuration.
type NodeConfig struct {
	ID      string `mapstructure:"id"`
	DataDir string `mapstructure:"data_dir"`
}

// SyncConfig holds the sync engine tunables.
type SyncConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	PageLimit          int           `mapstructure:"page_limit"`
	ByteLimit          int64         `mapstructure:"byte_limit"`
	BloomFPRate        float64       `mapstructure:"bloom_fp_rate"`
	SnapshotBufferCap  int           `mapstructure:"snapshot_buffer_cap"`
	ProactiveInterval  time.Duration `mapstructure:"proactive_interval"`
	ProactiveJitterPct float64       `mapstructure:"proactive_jitter_pct"`
}

// MerkleConfig holds the chunked sync tree's shape.
type MerkleConfig struct {
	Branching       int `mapstructure:"branching"`
	ChunkSize       int `mapstructure:"chunk_size"`
	MaxCursorBytes  int `mapstructure:"max_cursor_bytes"`
	CursorPersistEvery int `mapstructure:"cursor_persist_every"`
}

// DAGConfig holds the causal DAG store's pending-set bookkeeping.
type DAGConfig struct {
	PendingMaxAge      time.Duration `mapstructure:"pending_max_age"`
	TombstoneRetention time.Duration `mapstructure:"tombstone_retention"`
}

// ApplierConfig tunes the Delta Applier's blob-availability retry, used
// when the Executor reports ApplicationNotAvailable because the
// application's WASM blob hasn't finished downloading yet.
type ApplierConfig struct {
	BlobWaitBase   time.Duration `mapstructure:"blob_wait_base"`
	BlobWaitMax    time.Duration `mapstructure:"blob_wait_max"`
	BlobWaitFactor float64       `mapstructure:"blob_wait_factor"`
	BlobWaitBudget time.Duration `mapstructure:"blob_wait_budget"`
}

// LoggingConfig is ambient, matching the teacher's shape.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Debug bool   `mapstructure:"debug"`
}

// DefaultConfig returns the tunable defaults from spec.md's external
// interfaces table.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{DataDir: "./data"},
		Sync: SyncConfig{
			Timeout:            30 * time.Second,
			PageLimit:          500,
			ByteLimit:          4 * 1024 * 1024,
			BloomFPRate:        0.01,
			SnapshotBufferCap:  1000,
			ProactiveInterval:  60 * time.Second,
			ProactiveJitterPct: 0.2,
		},
		Merkle: MerkleConfig{
			Branching:          16,
			ChunkSize:          256,
			MaxCursorBytes:     64 * 1024,
			CursorPersistEvery: 32,
		},
		DAG: DAGConfig{
			PendingMaxAge:      10 * time.Minute,
			TombstoneRetention: 24 * time.Hour,
		},
		Applier: ApplierConfig{
			BlobWaitBase:   50 * time.Millisecond,
			BlobWaitMax:    500 * time.Millisecond,
			BlobWaitFactor: 2.0,
			BlobWaitBudget: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from an optional file plus environment
// variables prefixed CALIMERO_, falling back to DefaultConfig values.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	v.SetDefault("node.data_dir", cfg.Node.DataDir)
	v.SetDefault("sync.timeout", cfg.Sync.Timeout)
	v.SetDefault("sync.page_limit", cfg.Sync.PageLimit)
	v.SetDefault("sync.byte_limit", cfg.Sync.ByteLimit)
	v.SetDefault("sync.bloom_fp_rate", cfg.Sync.BloomFPRate)
	v.SetDefault("sync.snapshot_buffer_cap", cfg.Sync.SnapshotBufferCap)
	v.SetDefault("sync.proactive_interval", cfg.Sync.ProactiveInterval)
	v.SetDefault("sync.proactive_jitter_pct", cfg.Sync.ProactiveJitterPct)
	v.SetDefault("merkle.branching", cfg.Merkle.Branching)
	v.SetDefault("merkle.chunk_size", cfg.Merkle.ChunkSize)
	v.SetDefault("merkle.max_cursor_bytes", cfg.Merkle.MaxCursorBytes)
	v.SetDefault("merkle.cursor_persist_every", cfg.Merkle.CursorPersistEvery)
	v.SetDefault("dag.pending_max_age", cfg.DAG.PendingMaxAge)
	v.SetDefault("dag.tombstone_retention", cfg.DAG.TombstoneRetention)
	v.SetDefault("applier.blob_wait_base", cfg.Applier.BlobWaitBase)
	v.SetDefault("applier.blob_wait_max", cfg.Applier.BlobWaitMax)
	v.SetDefault("applier.blob_wait_factor", cfg.Applier.BlobWaitFactor)
	v.SetDefault("applier.blob_wait_budget", cfg.Applier.BlobWaitBudget)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.debug", cfg.Logging.Debug)

	v.SetEnvPrefix("CALIMERO")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
