// Package config loads the watcher's TOML configuration, grouped by
// component family: one struct per concern, assembled into a single
// top-level Config.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// NodeConfig configures the upstream node HTTP client (C1).
type NodeConfig struct {
	URL            string `toml:"url"`
	PollIntervalMs int    `toml:"poll_interval_ms"`
	TimeoutMs      int    `toml:"timeout_ms"`
	Network        string `toml:"network"` // "mainnet" or "testnet", drives address prefix
}

func (n NodeConfig) PollInterval() time.Duration { return time.Duration(n.PollIntervalMs) * time.Millisecond }
func (n NodeConfig) Timeout() time.Duration       { return time.Duration(n.TimeoutMs) * time.Millisecond }

// DBConfig configures the Postgres connection pool.
type DBConfig struct {
	ConnStr           string `toml:"conn_str"`
	StatementTimeoutMs int   `toml:"statement_timeout_ms"`
}

// TrackerConfig configures the Chain Tracker state machine (C5).
type TrackerConfig struct {
	MaxRollbackDepth int `toml:"max_rollback_depth"`
}

// MetricsConfig toggles the optional mtr.* writers (C4 step 5).
type MetricsConfig struct {
	SigmaUSDEnabled     bool `toml:"sigmausd_enabled"`
	OraclePoolsEnabled  bool `toml:"oracle_pools_enabled"`
	SnapshotIntervalLen int  `toml:"snapshot_interval_len"`
}

// BootstrapConfig controls C6.
type BootstrapConfig struct {
	// Enabled, when non-nil, overrides the auto-detection of bootstrap
	// state from the meta table.
	Enabled *bool `toml:"enabled"`
}

type Config struct {
	Node      NodeConfig      `toml:"node"`
	DB        DBConfig        `toml:"db"`
	Tracker   TrackerConfig   `toml:"tracker"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Bootstrap BootstrapConfig `toml:"bootstrap"`
}

// ErrConfig wraps validation failures so callers (cmd/ergowatch) can map
// them onto exit code 2.
type ErrConfig struct {
	msg string
}

func (e *ErrConfig) Error() string { return e.msg }

func configErrorf(format string, args ...any) error {
	return &ErrConfig{msg: fmt.Sprintf(format, args...)}
}

func defaults() Config {
	return Config{
		Node: NodeConfig{
			PollIntervalMs: 5000,
			TimeoutMs:      30000,
			Network:        "mainnet",
		},
		Tracker: TrackerConfig{
			MaxRollbackDepth: 48,
		},
		Metrics: MetricsConfig{
			SnapshotIntervalLen: 1000,
		},
	}
}

// Load reads and validates a TOML config file at path.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, configErrorf("failed to parse config %s: %v", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Node.URL == "" {
		return configErrorf("node.url is required")
	}
	if c.DB.ConnStr == "" {
		return configErrorf("db.conn_str is required")
	}
	if c.Tracker.MaxRollbackDepth <= 0 {
		return configErrorf("tracker.max_rollback_depth must be positive")
	}
	return nil
}
