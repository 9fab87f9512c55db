package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"corridor-router/internal/app"
)

var (
	showLimit  int
	showQuotes bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent corridor snapshots or quote logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Quotes: showQuotes,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Probe the configured route providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Providers(cmd.Context())
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showQuotes, "quotes", false, "Show quote audit rows instead of snapshots")
}
