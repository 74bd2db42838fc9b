package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"quotaprobe/internal/dashboard"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	fetchAccounts []string
	fetchParallel int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch usage snapshots for one or more accounts",
	Long: `Fetches the usage dashboard for each selected account and prints the
extracted snapshots as JSON. Accounts are fetched concurrently; one account's
failure does not abort the others.

Example:
  quotaprobe fetch --account alice --account bob --timeout 2m`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringArrayVarP(&fetchAccounts, "account", "a", nil, "account ID to fetch (repeatable; default all configured)")
	fetchCmd.Flags().IntVar(&fetchParallel, "parallel", 2, "max accounts fetched at once")
}

// fetchResult is the per-account JSON output row.
type fetchResult struct {
	Account  dashboard.AccountID      `json:"account"`
	Snapshot *dashboard.UsageSnapshot `json:"snapshot,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// fetchAll runs one fetch round over the given accounts, bounded to parallel
// in-flight fetches. Failed accounts get an error row and, on an auth wall,
// their resident session evicted; successes are recorded to history.
func fetchAll(ctx context.Context, a *app, accounts []dashboard.AccountID, parallel int) []fetchResult {
	fetcher := a.currentFetcher()
	results := make([]fetchResult, len(accounts))
	var recordMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, account := range accounts {
		g.Go(func() error {
			snap, err := fetcher.FetchDashboard(gctx, account, timeout)
			if err != nil {
				logger.Warn("fetch failed",
					zap.String("account", string(account)), zap.Error(err))
				results[i] = fetchResult{Account: account, Error: err.Error()}
				if errors.Is(err, dashboard.ErrAuthenticationRequired) {
					fetcher.Invalidate(account)
				}
				return nil
			}
			results[i] = fetchResult{Account: account, Snapshot: snap}

			if a.hist != nil {
				recordMu.Lock()
				_, recErr := a.hist.Record(account, snap)
				recordMu.Unlock()
				if recErr != nil {
					logger.Warn("history record failed",
						zap.String("account", string(account)), zap.Error(recErr))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	accounts, err := selectAccounts(a.currentConfig(), fetchAccounts)
	if err != nil {
		return err
	}

	results := fetchAll(ctx, a, accounts, fetchParallel)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed == len(results) {
		return fmt.Errorf("all %d account(s) failed", failed)
	}
	return nil
}
