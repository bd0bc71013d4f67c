package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/repository"
)

func newUsageCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect usage history",
	}
	cmd.AddCommand(newUsageListCmd(opts))
	return cmd
}

func newUsageListCmd(opts *globalOptions) *cobra.Command {
	var (
		sel    userSelector
		types  []string
		cursor string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's usage records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 || limit > 100 {
				return fmt.Errorf("--limit must be between 1 and 100")
			}

			filter := repository.UsageFilter{UserID: sel.resolve()}
			for _, t := range types {
				bt := model.BillingType(strings.TrimSpace(t))
				if !bt.IsValid() {
					return fmt.Errorf("unknown billing type %q", t)
				}
				filter.BillingTypes = append(filter.BillingTypes, bt)
			}

			return opts.withStore(cmd, func(ctx context.Context, s store) error {
				records, next, err := s.ListUsageRecords(ctx, filter, cursor, limit)
				if err != nil {
					return fmt.Errorf("list usage: %w", err)
				}

				out := cmd.OutOrStdout()
				if opts.asJSON {
					if records == nil {
						records = []*model.UsageRecord{}
					}
					return writeJSON(out, map[string]any{
						"user_id":     filter.UserID,
						"data":        records,
						"next_cursor": next,
					})
				}

				rows := make([][]any, 0, len(records))
				for _, u := range records {
					rows = append(rows, []any{
						u.ID, u.AgentID, u.DurationSeconds, u.MinutesCharged,
						string(u.BillingType), u.CreatedAt.Format(time.RFC3339),
					})
				}
				headers := []string{"ID", "AGENT", "SECONDS", "MINUTES", "TYPE", "CREATED"}
				if err := writeTable(out, headers, rows, 3, 4); err != nil {
					return err
				}
				if next != "" {
					fmt.Fprintf(out, "next cursor: %s\n", next)
				}
				return nil
			})
		},
	}

	sel.register(cmd)
	cmd.Flags().StringSliceVar(&types, "type", nil, "Billing types to include (subscription, credits, none)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size (1-100)")

	return cmd
}
