package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voicecredits/voicecredits/migrations"
)

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd, func(ctx context.Context, s store) error {
				applied, err := s.Migrate(ctx, migrations.FS)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.asJSON {
					if applied == nil {
						applied = []string{}
					}
					return writeJSON(out, map[string][]string{"applied": applied})
				}
				if len(applied) == 0 {
					fmt.Fprintln(out, "schema is up to date")
					return nil
				}
				for _, version := range applied {
					fmt.Fprintf(out, "applied %s\n", version)
				}
				return nil
			})
		},
	}
}
