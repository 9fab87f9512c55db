package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"corridor-router/internal/app"
)

var (
	pricingPair    string
	pricingAmount  int64
	pricingBaseFee int
	pricingSeed    bool
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Price an amount on a corridor",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pricingPair == "" {
			return fmt.Errorf("--pair must be provided")
		}

		opts := app.PricingOptions{
			Pair:             pricingPair,
			AmountMinorUnits: pricingAmount,
			Seed:             pricingSeed,
		}
		if cmd.Flags().Changed("base-fee-bps") {
			opts.OverrideBaseFeeBps = &pricingBaseFee
		}
		return getApp().Pricing(cmd.Context(), opts)
	},
}

var statesSeed bool

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "Print the computed state of every corridor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().States(cmd.Context(), statesSeed)
	},
}

func init() {
	pricingCmd.Flags().StringVar(&pricingPair, "pair", "", "Corridor pair, e.g. USD/INR")
	pricingCmd.Flags().Int64Var(&pricingAmount, "amount", 0, "Amount in minor units")
	pricingCmd.Flags().IntVar(&pricingBaseFee, "base-fee-bps", 0, "Override the corridor base fee")
	pricingCmd.Flags().BoolVar(&pricingSeed, "seed", false, "Seed the preset signals before pricing")

	statesCmd.Flags().BoolVar(&statesSeed, "seed", false, "Seed the preset signals first")
}
