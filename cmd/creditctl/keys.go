package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/voicecredits/voicecredits/internal/auth"
	"github.com/voicecredits/voicecredits/internal/model"
)

func newKeysCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage client access keys",
	}

	cmd.AddCommand(
		newKeysCreateCmd(opts),
		newKeysListCmd(opts),
		newKeysRevokeCmd(opts),
	)
	return cmd
}

func newKeysCreateCmd(opts *globalOptions) *cobra.Command {
	var userID, name, env string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an access key bound to a user id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID = strings.TrimSpace(userID)
			if userID == "" {
				return errors.New("--user-id must not be empty")
			}

			return opts.withStore(cmd, func(ctx context.Context, s store) error {
				generated, err := auth.GenerateAccessKey(env)
				if err != nil {
					return fmt.Errorf("generate access key: %w", err)
				}

				key := &model.AccessKey{
					ID:        ulid.Make().String(),
					UserID:    userID,
					KeyHash:   generated.Hash,
					KeyPrefix: generated.Prefix,
					Name:      name,
					CreatedAt: time.Now().UTC(),
				}
				if err := s.CreateAccessKey(ctx, key); err != nil {
					return fmt.Errorf("create access key: %w", err)
				}

				out := cmd.OutOrStdout()
				if opts.asJSON {
					return writeJSON(out, model.AccessKeyCreateResponse{
						ID:        key.ID,
						Key:       generated.Plaintext,
						UserID:    key.UserID,
						Name:      key.Name,
						KeyPrefix: key.KeyPrefix,
						CreatedAt: key.CreatedAt,
					})
				}

				fmt.Fprintf(out, "key_id: %s\n", key.ID)
				fmt.Fprintf(out, "user_id: %s\n", key.UserID)
				fmt.Fprintf(out, "key: %s\n", generated.Plaintext)
				fmt.Fprintln(out, "store this key now; it cannot be shown again")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "User id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "Label for the key")
	cmd.Flags().StringVar(&env, "env", auth.EnvLive, "Key environment: live or test")
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}

func newKeysListCmd(opts *globalOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's access keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd, func(ctx context.Context, s store) error {
				keys, err := s.ListAccessKeysByUserID(ctx, userID)
				if err != nil {
					return fmt.Errorf("list access keys: %w", err)
				}

				out := cmd.OutOrStdout()
				if opts.asJSON {
					if keys == nil {
						keys = []*model.AccessKey{}
					}
					return writeJSON(out, keys)
				}

				rows := make([][]any, 0, len(keys))
				for _, k := range keys {
					status := "active"
					if k.IsRevoked() {
						status = "revoked"
					}
					rows = append(rows, []any{k.ID, k.KeyPrefix, k.Name, k.CreatedAt.Format(time.RFC3339), status})
				}
				return writeTable(out, []string{"ID", "PREFIX", "NAME", "CREATED", "STATUS"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "User id that owns the keys")
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}

func newKeysRevokeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, s store) error {
				if err := s.RevokeAccessKey(ctx, args[0]); err != nil {
					return fmt.Errorf("revoke access key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return nil
			})
		},
	}
}
