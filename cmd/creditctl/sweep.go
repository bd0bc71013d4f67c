package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicecredits/voicecredits/internal/cache"
	"github.com/voicecredits/voicecredits/internal/jobs"
)

func newSweepCmd(opts *globalOptions) *cobra.Command {
	var (
		redisURL string
		grace    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire subscriptions that lapsed past the grace period",
		Long: "Runs the lapsed subscription sweep once. With --redis-url the run " +
			"takes the same lock as the API's scheduled sweep.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

			return opts.withStore(cmd, func(ctx context.Context, s store) error {
				cfg := jobs.SweepConfig{
					GracePeriod: grace,
					Timeout:     opts.timeout,
					Logger:      logger,
				}

				if redisURL != "" {
					c, err := cache.New(ctx, redisURL)
					if err != nil {
						return fmt.Errorf("connect redis: %w", err)
					}
					defer c.Close()
					cfg.Locker = c
					cfg.Cache = c
				}

				expired, err := jobs.NewSubscriptionSweeper(s, cfg).RunOnce(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.asJSON {
					if expired == nil {
						expired = []string{}
					}
					return writeJSON(out, map[string][]string{"expired": expired})
				}
				fmt.Fprintf(out, "expired %d subscription(s)\n", len(expired))
				for _, id := range expired {
					fmt.Fprintf(out, "  %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis URL for the sweep lock and cache invalidation")
	cmd.Flags().DurationVar(&grace, "grace-period", jobs.DefaultGracePeriod, "How long past the reset date a subscription may stay unrenewed")

	return cmd
}
