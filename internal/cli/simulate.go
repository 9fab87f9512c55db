package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"corridor-router/internal/app"
	"corridor-router/internal/risk"
)

var (
	simulateSignals []string
	simulateAlert   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Seed preset signals, recompute and optionally push alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{Alert: simulateAlert}
		for _, raw := range simulateSignals {
			sig, err := parseSignalFlag(raw)
			if err != nil {
				return err
			}
			opts.Signals = append(opts.Signals, sig)
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

// parseSignalFlag reads "source:corridor:magnitude"; corridor may be empty.
func parseSignalFlag(raw string) (risk.Signal, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return risk.Signal{}, fmt.Errorf("invalid --signal %q, want source:corridor:magnitude", raw)
	}
	src, err := risk.ParseSource(parts[0])
	if err != nil {
		return risk.Signal{}, err
	}
	mag, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return risk.Signal{}, fmt.Errorf("invalid magnitude in --signal %q: %w", raw, err)
	}
	return risk.Signal{Source: src, Corridor: parts[1], Magnitude: mag}, nil
}

func init() {
	simulateCmd.Flags().StringArrayVar(&simulateSignals, "signal", nil, "Extra signal as source:corridor:magnitude (repeatable)")
	simulateCmd.Flags().BoolVar(&simulateAlert, "alert", false, "Send alerts for the simulated states")
}
