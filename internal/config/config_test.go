package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Dashboard.TargetURL == "" {
		t.Error("expected a default target URL")
	}
	if !cfg.Browser.Headless {
		t.Error("expected headless by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected Level=info, got %s", cfg.Logging.Level)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("QUOTAPROBE_TARGET_URL", "")
	t.Setenv("QUOTAPROBE_DB", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Dashboard.PollIntervalMs = 250
	cfg.Accounts = []AccountConfig{{ID: "alice", CookieFile: "/tmp/alice.json"}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Dashboard.PollIntervalMs != 250 {
		t.Errorf("expected PollIntervalMs=250, got %d", loaded.Dashboard.PollIntervalMs)
	}
	account, ok := loaded.Account("alice")
	if !ok {
		t.Fatal("expected account alice to round-trip")
	}
	if account.CookieFile != "/tmp/alice.json" {
		t.Errorf("unexpected cookie file: %s", account.CookieFile)
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("QUOTAPROBE_TARGET_URL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Dashboard.TargetURL != DefaultConfig().Dashboard.TargetURL {
		t.Errorf("expected default target URL, got %s", cfg.Dashboard.TargetURL)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("QUOTAPROBE_TARGET_URL", "https://example.com/usage")
	t.Setenv("QUOTAPROBE_DB", "/tmp/override.db")
	t.Setenv("QUOTAPROBE_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Dashboard.TargetURL != "https://example.com/usage" {
		t.Errorf("target URL override not applied: %s", cfg.Dashboard.TargetURL)
	}
	if cfg.HistoryPath != "/tmp/override.db" {
		t.Errorf("db override not applied: %s", cfg.HistoryPath)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level override not applied: %s", cfg.Logging.Level)
	}
}

func TestAccount_Unknown(t *testing.T) {
	cfg := DefaultConfig()
	if _, ok := cfg.Account("ghost"); ok {
		t.Error("expected unknown account to report !ok")
	}
}
