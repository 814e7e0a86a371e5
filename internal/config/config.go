package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emberdb/emberdb/internal/log"
	"github.com/emberdb/emberdb/internal/wal"
)

// Config is the complete configuration for the transaction manager demo
// and its ambient collaborators: storage, WAL, and logging. There is no
// network or cluster configuration here — this module has no server or
// replication surface.
type Config struct {
	DataDir string `json:"data_dir"`

	Log       log.Config      `json:"log"`
	Storage   StorageConfig   `json:"storage"`
	WAL       WALConfig       `json:"wal"`
	Manager   ManagerConfig   `json:"manager"`
	TxnBuffer TxnBufferConfig `json:"txn_buffer"`
}

// StorageConfig configures the in-memory reference table implementation.
type StorageConfig struct {
	PageSize int `json:"page_size"`
}

// WALConfig configures the write-ahead log sink.
type WALConfig struct {
	Enabled      bool   `json:"enabled"`
	Directory    string `json:"directory"`
	SegmentSize  int64  `json:"segment_size"`
	SyncOnCommit bool   `json:"sync_on_commit"`
}

// ManagerConfig configures the transaction manager itself.
type ManagerConfig struct {
	GCEnabled bool `json:"gc_enabled"`
}

// TxnBufferConfig configures the undo/redo segment pool backing
// transaction buffers.
type TxnBufferConfig struct {
	SegmentRecords int `json:"segment_records"`
	MaxSegments    int `json:"max_segments"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Log:     log.DefaultConfig(),
		Storage: StorageConfig{
			PageSize: 8192,
		},
		WAL: WALConfig{
			Enabled:      true,
			Directory:    "wal",
			SegmentSize:  16 * 1024 * 1024, // 16MB
			SyncOnCommit: true,
		},
		Manager: ManagerConfig{
			GCEnabled: true,
		},
		TxnBuffer: TxnBufferConfig{
			SegmentRecords: 64,
			MaxSegments:    0,
		},
	}
}

// LoadFromFile loads configuration from a JSON file, starting from
// DefaultConfig and overlaying whatever the file specifies.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv overlays environment variables onto cfg, following the
// EMBERDB_ prefix convention. Only the handful of settings that make
// sense to toggle without a config file are covered.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("EMBERDB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("EMBERDB_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("EMBERDB_WAL_DIR"); v != "" {
		c.WAL.Directory = v
	}
	if v := os.Getenv("EMBERDB_GC_ENABLED"); v != "" {
		c.Manager.GCEnabled = v == "1" || v == "true"
	}
}

// LoadFromFlags merges command-line flag values into the configuration.
// Empty/zero arguments are left at their current value.
func (c *Config) LoadFromFlags(dataDir, logLevel string, gcEnabled *bool) {
	if dataDir != "" {
		c.DataDir = dataDir
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if gcEnabled != nil {
		c.Manager.GCEnabled = *gcEnabled
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Storage.PageSize < 1024 || c.Storage.PageSize > 65536 {
		return fmt.Errorf("page size must be between 1KB and 64KB")
	}
	if c.WAL.SegmentSize < 0 {
		return fmt.Errorf("wal segment size cannot be negative")
	}
	if c.TxnBuffer.SegmentRecords < 0 {
		return fmt.Errorf("txn buffer segment records cannot be negative")
	}
	if c.TxnBuffer.MaxSegments < 0 {
		return fmt.Errorf("txn buffer max segments cannot be negative")
	}
	return nil
}

// GetWALDirectory returns the full path to the WAL directory.
func (c *Config) GetWALDirectory() string {
	return filepath.Join(c.DataDir, c.WAL.Directory)
}

// ToWALConfig converts to wal.Config for constructing a wal.Manager.
func (c *Config) ToWALConfig() *wal.Config {
	cfg := wal.DefaultConfig()
	cfg.Directory = c.GetWALDirectory()
	cfg.SegmentSize = c.WAL.SegmentSize
	cfg.SyncOnCommit = c.WAL.SyncOnCommit
	return cfg
}
