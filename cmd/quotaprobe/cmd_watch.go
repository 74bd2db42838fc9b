package main

import (
	"os/signal"
	"sync"
	"syscall"
	"time"

	"quotaprobe/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchAccounts []string
	watchInterval time.Duration
	watchParallel int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Fetch on an interval, reloading the config file on change",
	Long: `Runs fetch rounds on a fixed interval until interrupted. The config
file is watched for changes; edits to timings, the target URL, or the account
list take effect on the next round without a restart. Browser launch flags
still need one.

Example:
  quotaprobe watch --interval 15m --account alice`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringArrayVarP(&watchAccounts, "account", "a", nil, "account ID to fetch (repeatable; default all configured)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 15*time.Minute, "time between fetch rounds")
	watchCmd.Flags().IntVar(&watchParallel, "parallel", 2, "max accounts fetched at once")
}

// pendingConfig holds the most recent reloaded config until the watch loop is
// between rounds. Reloads coalesce; only the latest one is applied.
type pendingConfig struct {
	mu  sync.Mutex
	cfg *config.Config
}

func (p *pendingConfig) set(cfg *config.Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *pendingConfig) take() *config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg := p.cfg
	p.cfg = nil
	return cfg
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var pending pendingConfig
	watcher, err := config.NewWatcher(cfgPath, pending.set, logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		// Config swaps happen only between rounds; a round in flight keeps
		// the settings it started with.
		if cfg := pending.take(); cfg != nil {
			if err := a.applyConfig(cfg); err != nil {
				logger.Warn("reloaded config rejected, keeping previous", zap.Error(err))
			} else {
				logger.Info("applied reloaded config")
			}
		}

		accounts, err := selectAccounts(a.currentConfig(), watchAccounts)
		if err != nil {
			return err
		}

		results := fetchAll(ctx, a, accounts, watchParallel)
		for _, r := range results {
			if r.Error != "" {
				continue // fetchAll already logged the failure
			}
			fields := []zap.Field{zap.String("account", string(r.Account))}
			if r.Snapshot.RemainingPercent != nil {
				fields = append(fields, zap.Float64("remaining_percent", *r.Snapshot.RemainingPercent))
			}
			logger.Info("usage snapshot", fields...)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
