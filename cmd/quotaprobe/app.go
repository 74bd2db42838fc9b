package main

import (
	"context"
	"fmt"
	"sync"

	"quotaprobe/internal/browser"
	"quotaprobe/internal/config"
	"quotaprobe/internal/dashboard"
	"quotaprobe/internal/history"

	"go.uber.org/zap"
)

// app wires the config, browser manager, session pool, fetch loop, and
// history store for one CLI invocation. The config and fetcher can be swapped
// between fetch rounds (see applyConfig); the pool, browser, and history
// store live for the whole invocation.
type app struct {
	cfgMu   sync.Mutex
	cfg     *config.Config
	fetcher *dashboard.Fetcher

	manager *browser.Manager
	pool    *dashboard.SessionPool
	prober  dashboard.Prober
	sink    dashboard.DiagnosticSink
	hist    *history.Store
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.manager = browser.NewManager(cfg.Browser, logger)

	// The factory seeds configured credentials into the account's context
	// before each session opens. Seeding is an overwrite, so repeats are
	// harmless; what matters is that cookies are in before navigation.
	factory := func(ctx context.Context, account dashboard.AccountID, targetURL string) (dashboard.Session, error) {
		if acct, ok := a.account(string(account)); ok && acct.CookieFile != "" {
			cookies, err := browser.LoadCookieFile(acct.CookieFile)
			if err != nil {
				return nil, fmt.Errorf("credentials for %s: %w", account, err)
			}
			if err := a.manager.SeedCookies(ctx, account, cookies); err != nil {
				return nil, err
			}
		}
		return a.manager.NewSession(ctx, account, targetURL)
	}

	a.pool = dashboard.NewSessionPool(cfg.Dashboard, factory, logger)
	a.prober = browser.NewProber(logger)
	if debugDump {
		a.sink = dashboard.NewDebugDumper(logger)
	}

	a.fetcher, err = dashboard.NewFetcher(cfg.Dashboard, a.pool, a.prober, a.sink, logger)
	if err != nil {
		return nil, err
	}

	if cfg.HistoryPath != "" {
		hist, err := history.New(cfg.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		a.hist = hist
	}
	return a, nil
}

func (a *app) close() {
	a.pool.Shutdown()
	if err := a.manager.Shutdown(); err != nil {
		logger.Warn("browser shutdown", zap.Error(err))
	}
	if a.hist != nil {
		if err := a.hist.Close(); err != nil {
			logger.Warn("history close", zap.Error(err))
		}
	}
}

// applyConfig swaps in reloaded tunables between fetch rounds: loop timings,
// the normalizer's target, and the account list. The pool keeps its booted
// idle timeout and the browser its launch flags; those need a restart.
func (a *app) applyConfig(cfg *config.Config) error {
	fetcher, err := dashboard.NewFetcher(cfg.Dashboard, a.pool, a.prober, a.sink, logger)
	if err != nil {
		return err
	}
	a.cfgMu.Lock()
	a.cfg = cfg
	a.fetcher = fetcher
	a.cfgMu.Unlock()
	return nil
}

func (a *app) currentConfig() *config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

func (a *app) currentFetcher() *dashboard.Fetcher {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.fetcher
}

func (a *app) account(id string) (config.AccountConfig, bool) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg.Account(id)
}

// selectAccounts resolves the --account flags against the config. With no
// flags, every configured account is fetched.
func selectAccounts(cfg *config.Config, flags []string) ([]dashboard.AccountID, error) {
	if len(flags) > 0 {
		accounts := make([]dashboard.AccountID, 0, len(flags))
		for _, id := range flags {
			accounts = append(accounts, dashboard.AccountID(id))
		}
		return accounts, nil
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts: pass --account or configure accounts in %s", cfgPath)
	}
	accounts := make([]dashboard.AccountID, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts = append(accounts, dashboard.AccountID(a.ID))
	}
	return accounts, nil
}
