package main

import (
	"context"
	"testing"

	"quotaprobe/internal/config"
	"quotaprobe/internal/dashboard"

	"go.uber.org/zap"
)

func TestPendingConfigCoalescesToLatest(t *testing.T) {
	var pending pendingConfig

	first := config.DefaultConfig()
	second := config.DefaultConfig()
	second.Dashboard.PollIntervalMs = 1000

	pending.set(first)
	pending.set(second)

	got := pending.take()
	if got != second {
		t.Errorf("expected the latest reload, got %v", got)
	}
	if pending.take() != nil {
		t.Error("take must clear the pending slot")
	}
}

func newWatchTestApp(t *testing.T) *app {
	t.Helper()
	logger = zap.NewNop()

	factory := func(_ context.Context, _ dashboard.AccountID, _ string) (dashboard.Session, error) {
		return nil, context.Canceled
	}
	cfg := config.DefaultConfig()
	a := &app{cfg: cfg}
	a.pool = dashboard.NewSessionPool(cfg.Dashboard, factory, logger)

	fetcher, err := dashboard.NewFetcher(cfg.Dashboard, a.pool, nil, nil, logger)
	if err != nil {
		t.Fatalf("NewFetcher failed: %v", err)
	}
	a.fetcher = fetcher
	return a
}

func TestApplyConfigSwapsFetcher(t *testing.T) {
	a := newWatchTestApp(t)
	before := a.currentFetcher()

	next := config.DefaultConfig()
	next.Dashboard.PollIntervalMs = 1000
	if err := a.applyConfig(next); err != nil {
		t.Fatalf("applyConfig failed: %v", err)
	}

	if a.currentFetcher() == before {
		t.Error("applyConfig must build a fresh fetcher")
	}
	if a.currentConfig() != next {
		t.Error("applyConfig must swap the config")
	}
}

func TestApplyConfigRejectsBadTarget(t *testing.T) {
	a := newWatchTestApp(t)
	before := a.currentFetcher()
	original := a.currentConfig()

	broken := config.DefaultConfig()
	broken.Dashboard.TargetURL = "/usage-only"
	if err := a.applyConfig(broken); err == nil {
		t.Fatal("expected a hostless target URL to be rejected")
	}

	if a.currentFetcher() != before || a.currentConfig() != original {
		t.Error("a rejected config must leave the previous one in place")
	}
}
