package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/notify"
)

var digestDryRun bool

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Post the weekly deal-flow digest",
	Long:  "Summarizes the scored deals from the configured window, broken down by score band with the top deals to discuss, and posts it to Slack.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		window := cfg.Run.DigestWindowDays
		if window <= 0 {
			window = 7
		}
		since := time.Now().UTC().AddDate(0, 0, -window)

		d, err := notify.BuildDigest(ctx, st, since, cfg.Filter.LowThreshold, cfg.Filter.HighThreshold)
		if err != nil {
			return err
		}

		sink := initSink(digestDryRun)
		if err := sink.PublishText(ctx, d.Format(cfg.Filter.LowThreshold, cfg.Filter.HighThreshold)); err != nil {
			return err
		}
		zap.L().Info("digest: published",
			zap.Int("reviewed", d.TotalReviewed),
			zap.Int("high_priority", d.HighPriority),
		)
		return nil
	},
}

func init() {
	digestCmd.Flags().BoolVar(&digestDryRun, "dry-run", false, "print the digest instead of posting to Slack")
	rootCmd.AddCommand(digestCmd)
}
