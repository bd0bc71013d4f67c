package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicecredits/voicecredits/internal/identity"
	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/repository"
)

type userSelector struct {
	userID string
	email  string
}

func (u *userSelector) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&u.userID, "user-id", "", "Ledger user id")
	cmd.Flags().StringVar(&u.email, "email", "", "Email; resolved to its derived user id")
	cmd.MarkFlagsMutuallyExclusive("user-id", "email")
	cmd.MarkFlagsOneRequired("user-id", "email")
}

func (u *userSelector) resolve() string {
	if u.email != "" {
		return identity.EmailUserID(u.email)
	}
	return u.userID
}

func newAccountCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect credit accounts",
	}
	cmd.AddCommand(newAccountShowCmd(opts))
	return cmd
}

func newAccountShowCmd(opts *globalOptions) *cobra.Command {
	var sel userSelector

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an account's balance and subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID := sel.resolve()

			return opts.withStore(cmd, func(ctx context.Context, s store) error {
				acct, err := s.GetAccount(ctx, userID)
				if errors.Is(err, repository.ErrAccountNotFound) {
					return fmt.Errorf("no account for %s", userID)
				}
				if err != nil {
					return fmt.Errorf("get account: %w", err)
				}

				out := cmd.OutOrStdout()
				if opts.asJSON {
					return writeJSON(out, acct)
				}

				fmt.Fprintf(out, "user_id: %s\n", acct.UserID)
				fmt.Fprintf(out, "balance_minutes: %d\n", acct.BalanceMinutes)
				fmt.Fprintf(out, "subscription_tier: %s\n", acct.SubscriptionTier)
				if acct.SubscriptionTier != model.TierNone {
					fmt.Fprintf(out, "subscription_minutes_remaining: %d\n", acct.SubscriptionMinutesRemaining)
					if acct.SubscriptionResetDate != nil {
						fmt.Fprintf(out, "subscription_reset_date: %s\n", acct.SubscriptionResetDate.Format(time.RFC3339))
					}
				}
				fmt.Fprintf(out, "billing_customer_linked: %t\n", acct.StripeCustomerID != "")
				return nil
			})
		},
	}

	sel.register(cmd)
	return cmd
}
