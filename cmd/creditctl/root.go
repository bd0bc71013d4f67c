package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/repository"
)

// store is the ledger surface the commands use.
type store interface {
	Migrate(ctx context.Context, fsys fs.FS) ([]string, error)
	CreateAccessKey(ctx context.Context, key *model.AccessKey) error
	ListAccessKeysByUserID(ctx context.Context, userID string) ([]*model.AccessKey, error)
	RevokeAccessKey(ctx context.Context, id string) error
	GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error)
	ListUsageRecords(ctx context.Context, filter repository.UsageFilter, cursor string, limit int) ([]*model.UsageRecord, string, error)
	ExpireLapsedSubscriptions(ctx context.Context, cutoff time.Time) ([]string, error)
	Close()
}

type opener func(ctx context.Context, databaseURL string) (store, error)

func openRepository(ctx context.Context, databaseURL string) (store, error) {
	return repository.New(ctx, databaseURL)
}

var errNoDatabase = errors.New("database url is required (--database-url or DATABASE_URL)")

type globalOptions struct {
	databaseURL string
	timeout     time.Duration
	asJSON      bool
	open        opener
}

// withStore opens the ledger, runs fn under the command timeout and closes it.
func (o *globalOptions) withStore(cmd *cobra.Command, fn func(ctx context.Context, s store) error) error {
	if o.databaseURL == "" {
		return errNoDatabase
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	s, err := o.open(ctx, o.databaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer s.Close()

	return fn(ctx, s)
}

func newRootCmd(open opener) *cobra.Command {
	opts := &globalOptions{open: open}

	rootCmd := &cobra.Command{
		Use:           "creditctl",
		Short:         "Operate the voice credits ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for the whole command")
	flags.BoolVar(&opts.asJSON, "json", false, "Render JSON output")

	rootCmd.AddCommand(
		newMigrateCmd(opts),
		newKeysCmd(opts),
		newAccountCmd(opts),
		newUsageCmd(opts),
		newIdentityCmd(opts),
		newSweepCmd(opts),
	)

	return rootCmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
