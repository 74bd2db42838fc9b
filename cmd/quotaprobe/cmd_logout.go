package main

import (
	"fmt"

	"quotaprobe/internal/dashboard"

	"github.com/spf13/cobra"
)

var logoutAccount string

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Invalidate an account's session and drop its browser context",
	Long: `Destroys the account's resident session and disposes its isolated
browser context, including all cookies. The next fetch for the account starts
from scratch and re-seeds credentials from the configured cookie file.`,
	RunE: runLogout,
}

func init() {
	logoutCmd.Flags().StringVarP(&logoutAccount, "account", "a", "", "account ID to log out")
	_ = logoutCmd.MarkFlagRequired("account")
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	account := dashboard.AccountID(logoutAccount)
	a.currentFetcher().Invalidate(account)
	a.manager.DropScope(account)

	fmt.Printf("Logged out %s\n", account)
	return nil
}
