package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicecredits/voicecredits/internal/identity"
	"github.com/voicecredits/voicecredits/internal/model"
)

func newIdentityCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Work with ledger identities",
	}
	cmd.AddCommand(newIdentityResolveCmd(opts))
	return cmd
}

// newIdentityResolveCmd resolves ids offline; it never touches the database.
func newIdentityResolveCmd(opts *globalOptions) *cobra.Command {
	var userID, email string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show the ledger identity for a user id or email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var id model.Identity
			if userID != "" {
				id, _ = identity.FromUserID(userID)
			} else {
				id = identity.Resolve("", email, time.Now())
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, id)
			}
			fmt.Fprintf(out, "kind: %s\n", id.Kind)
			fmt.Fprintf(out, "id: %s\n", id.ID)
			fmt.Fprintf(out, "metered: %t\n", id.Metered())
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "User id to classify")
	cmd.Flags().StringVar(&email, "email", "", "Email to derive an id from")
	cmd.MarkFlagsMutuallyExclusive("user-id", "email")
	cmd.MarkFlagsOneRequired("user-id", "email")

	return cmd
}
