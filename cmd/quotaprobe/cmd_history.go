package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"quotaprobe/internal/config"
	"quotaprobe/internal/dashboard"
	"quotaprobe/internal/history"

	"github.com/spf13/cobra"
)

var (
	historyAccount   string
	historyLimit     int
	historyOlderThan time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded usage snapshots",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded snapshots for an account, newest first",
	RunE:  runHistoryList,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots older than the given age",
	RunE:  runHistoryPrune,
}

func init() {
	historyListCmd.Flags().StringVarP(&historyAccount, "account", "a", "", "account ID")
	_ = historyListCmd.MarkFlagRequired("account")
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "max entries to show (0 = all)")

	historyPruneCmd.Flags().DurationVar(&historyOlderThan, "older-than", 90*24*time.Hour, "delete entries older than this")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyPruneCmd)
}

func openHistory() (*history.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if cfg.HistoryPath == "" {
		return nil, fmt.Errorf("history disabled: set history_path in %s", cfgPath)
	}
	return history.New(cfg.HistoryPath)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(dashboard.AccountID(historyAccount), historyLimit)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.PruneBefore(time.Now().Add(-historyOlderThan))
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d snapshot(s)\n", removed)
	return nil
}
