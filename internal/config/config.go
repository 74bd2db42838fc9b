// Package config holds the on-disk configuration for quotaprobe and a
// watcher that hot-reloads it on change.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"quotaprobe/internal/browser"
	"quotaprobe/internal/dashboard"

	"gopkg.in/yaml.v3"
)

// AccountConfig binds one account identity to its credential material.
type AccountConfig struct {
	// ID is the opaque account identifier used throughout the session pool.
	ID string `yaml:"id"`
	// CookieFile points at a devtools-export JSON cookie file seeded into the
	// account's browser context before the first fetch.
	CookieFile string `yaml:"cookie_file"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// Config holds all quotaprobe configuration.
type Config struct {
	// Dashboard drives the extraction loop: target URL, poll cadence, and the
	// hydration wait heuristics.
	Dashboard dashboard.Config `yaml:"dashboard"`

	// Browser configures the headless Chrome the sessions run in.
	Browser browser.Config `yaml:"browser"`

	// Accounts lists the identities to fetch for.
	Accounts []AccountConfig `yaml:"accounts"`

	// HistoryPath is the sqlite database recording fetched snapshots. Empty
	// disables history recording.
	HistoryPath string `yaml:"history_path"`

	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Dashboard:   dashboard.DefaultConfig(),
		Browser:     browser.DefaultConfig(),
		HistoryPath: "data/quotaprobe.db",
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("QUOTAPROBE_TARGET_URL"); url != "" {
		c.Dashboard.TargetURL = url
	}
	if url := os.Getenv("QUOTAPROBE_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if path := os.Getenv("QUOTAPROBE_DB"); path != "" {
		c.HistoryPath = path
	}
	if level := os.Getenv("QUOTAPROBE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Account returns the account config with the given ID.
func (c *Config) Account(id string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountConfig{}, false
}
