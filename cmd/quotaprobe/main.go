// Package main implements the quotaprobe CLI: headless extraction of usage
// data from the provider's dashboard.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	cfgPath   string
	timeout   time.Duration
	debugDump bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "quotaprobe",
	Short: "quotaprobe - usage dashboard extraction",
	Long: `quotaprobe drives a headless Chrome against the provider's usage
dashboard and extracts the remaining-quota metric, the credit event ledger,
and the per-day cost breakdown into typed JSON.

Credentials are supplied as cookie files per account; each account runs in
its own isolated browser context.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 90*time.Second, "per-account fetch deadline")
	rootCmd.PersistentFlags().BoolVar(&debugDump, "debug-dump", false, "dump raw page state to temp files on terminal failure")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.quotaprobe/config.yaml"
	}
	return "quotaprobe.yaml"
}
