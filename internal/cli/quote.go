package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"corridor-router/internal/app"
	"corridor-router/internal/routing"
)

var (
	quoteFrom     string
	quoteTo       string
	quoteAsset    string
	quoteAmount   string
	quoteCorridor string
	quoteSeed     bool
	quoteJSON     bool
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Rank routes for a cross-chain transfer",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(quoteAmount)
		if err != nil {
			return fmt.Errorf("invalid --amount value: %w", err)
		}

		opts := app.QuoteOptions{
			Request: routing.QuoteRequest{
				FromNetwork: quoteFrom,
				ToNetwork:   quoteTo,
				Asset:       quoteAsset,
				Amount:      amount,
				Corridor:    quoteCorridor,
			},
			Seed: quoteSeed,
			JSON: quoteJSON,
		}
		return getApp().Quote(cmd.Context(), opts)
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteFrom, "from-network", "", "Source network, e.g. ethereum")
	quoteCmd.Flags().StringVar(&quoteTo, "to-network", "", "Destination network, e.g. base")
	quoteCmd.Flags().StringVar(&quoteAsset, "asset", "USDC", "Asset symbol")
	quoteCmd.Flags().StringVar(&quoteAmount, "amount", "1000", "Amount in asset units")
	quoteCmd.Flags().StringVar(&quoteCorridor, "corridor", "", "Fiat corridor whose risk overlay applies, e.g. USD/INR")
	quoteCmd.Flags().BoolVar(&quoteSeed, "seed", false, "Seed the preset signals before quoting")
	quoteCmd.Flags().BoolVar(&quoteJSON, "json", false, "Print the raw JSON result")
}
