package main

import (
	"encoding/json"
	"os"

	"quotaprobe/internal/dashboard"

	"github.com/spf13/cobra"
)

var probeAccount string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report the dashboard's current page state without extracting data",
	Long: `Probes the dashboard once and reports what state the page is in:
signed in, behind a login wall, showing a workspace picker, or a challenge.
Useful for checking whether an account's credentials still work without
waiting for full data hydration.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVarP(&probeAccount, "account", "a", "", "account ID to probe")
	_ = probeCmd.MarkFlagRequired("account")
}

// probeReport is the trimmed, stable view of a snapshot for CLI output.
type probeReport struct {
	Account          dashboard.AccountID `json:"account"`
	Location         string              `json:"location"`
	SignedInIdentity string              `json:"signed_in_identity,omitempty"`
	HeaderPresent    bool                `json:"history_section_present"`
	HeaderInView     bool                `json:"history_section_in_view"`
	TableRowCount    int                 `json:"table_row_count"`
	ChartPointCount  int                 `json:"chart_point_count"`
	ChartDebug       string              `json:"chart_debug,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	account := dashboard.AccountID(probeAccount)
	snap, err := a.currentFetcher().Probe(ctx, account, timeout)
	if err != nil {
		return err
	}

	report := probeReport{
		Account:          account,
		Location:         snap.Location,
		SignedInIdentity: snap.SignedInIdentity,
		HeaderPresent:    snap.SectionHeaderPresent,
		HeaderInView:     snap.SectionHeaderInView,
		TableRowCount:    len(snap.TableRows),
		ChartPointCount:  len(snap.ChartPoints),
		ChartDebug:       snap.ChartDebug,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
