// Package config holds runtime configuration for the automator daemon.
// Defaults are overridden first by an optional config.json5 file in the
// data directory, then by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

const (
	// DefaultTimeoutMs is the execution timeout applied when the caller
	// does not pass one.
	DefaultTimeoutMs = 60_000

	// MaxTimeoutMs caps any caller-supplied timeout.
	MaxTimeoutMs = 600_000

	// DefaultMaxConsoleOutputSize bounds captured console output per
	// execution (1 MiB).
	DefaultMaxConsoleOutputSize = 1 << 20

	// DatabaseFile is the SQLite database file name inside the data dir.
	DatabaseFile = "personal-automator.db"
)

// DefaultAllowedModules is the sandbox capability table: the only module
// names template code may require(). Anything else fails resolution.
func DefaultAllowedModules() []string {
	return []string{
		"http",
		"fs",
		"path",
		"os",
		"crypto",
		"encoding",
		"timers",
		"child_process",
	}
}

// Config is the resolved daemon configuration.
type Config struct {
	// DataDir holds the database, master key and salt files.
	DataDir string `json:"dataDir"`

	// Addr is the HTTP control-plane listen address.
	Addr string `json:"addr"`

	// AuthToken, when non-empty, is required as a Bearer token on every
	// /api request.
	AuthToken string `json:"authToken"`

	DefaultTimeoutMs     int `json:"defaultTimeoutMs"`
	MaxTimeoutMs         int `json:"maxTimeoutMs"`
	MaxConsoleOutputSize int `json:"maxConsoleOutputSize"`

	// AllowedModules is the sandbox require() allow-list.
	AllowedModules []string `json:"allowedModules"`

	// RateLimitRPM / RateLimitBurst configure the per-client HTTP token
	// bucket. RPM <= 0 disables limiting.
	RateLimitRPM   int `json:"rateLimitRpm"`
	RateLimitBurst int `json:"rateLimitBurst"`

	// RetentionDays prunes execution history older than this many days.
	// Zero or negative keeps everything.
	RetentionDays int `json:"retentionDays"`
}

// DefaultDataDir returns ${HOME}/.personal-automator, honoring DATA_DIR.
func DefaultDataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".personal-automator"
	}
	return filepath.Join(home, ".personal-automator")
}

// Load builds the configuration from defaults, the optional config.json5
// overlay in the data dir, and environment variables (highest precedence).
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:              DefaultDataDir(),
		Addr:                 "127.0.0.1:8321",
		DefaultTimeoutMs:     DefaultTimeoutMs,
		MaxTimeoutMs:         MaxTimeoutMs,
		MaxConsoleOutputSize: DefaultMaxConsoleOutputSize,
		AllowedModules:       DefaultAllowedModules(),
		RateLimitRPM:         600,
		RateLimitBurst:       30,
		RetentionDays:        30,
	}

	if err := cfg.applyFile(filepath.Join(cfg.DataDir, "config.json5")); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if cfg.DefaultTimeoutMs <= 0 || cfg.DefaultTimeoutMs > cfg.MaxTimeoutMs {
		return nil, fmt.Errorf("defaultTimeoutMs out of range: %d", cfg.DefaultTimeoutMs)
	}
	if cfg.MaxConsoleOutputSize <= 0 {
		return nil, fmt.Errorf("maxConsoleOutputSize must be positive: %d", cfg.MaxConsoleOutputSize)
	}
	return cfg, nil
}

// DatabasePath returns the full path of the SQLite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, DatabaseFile)
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if addr := os.Getenv("AUTOMATOR_ADDR"); addr != "" {
		c.Addr = addr
	}
	if tok := os.Getenv("AUTOMATOR_TOKEN"); tok != "" {
		c.AuthToken = tok
	}
	if v := os.Getenv("AUTOMATOR_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultTimeoutMs = n
		}
	}
}
