package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"corridor-router/internal/app"
)

var (
	replayFrom     string
	replayTo       string
	replayStep     time.Duration
	replayLookback time.Duration
	replayDryRun   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay archived signals and rebuild corridor history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFrom == "" || replayTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.ReplayOptions{
			From:     from,
			To:       to,
			Step:     replayStep,
			Lookback: replayLookback,
			DryRun:   replayDryRun,
		}

		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End timestamp (RFC3339, exclusive)")
	replayCmd.Flags().DurationVar(&replayStep, "step", 0, "Clock step (defaults to scheduler.interval)")
	replayCmd.Flags().DurationVar(&replayLookback, "lookback", 24*time.Hour, "How far before --from to load signals")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Run without writing to storage")
}
