// Package testutil holds helpers shared by the integration tests.
package testutil

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/migrations"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// ResetSchema rebuilds the schema from the embedded migrations: downs
// newest first, then ups oldest first. schema_migrations is dropped too so
// Repository.Migrate sees a fresh database.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	downs, ups, err := MigrationFiles()
	if err != nil {
		return err
	}

	slices.Reverse(downs)
	for _, name := range append(downs, ups...) {
		if err := ApplyMigrationFile(ctx, pool, name); err != nil {
			return err
		}
	}

	_, err = pool.Exec(ctx, "DROP TABLE IF EXISTS schema_migrations")
	return err
}

// MigrationFiles lists the embedded down and up migration names in version order.
func MigrationFiles() (downs, ups []string, err error) {
	if downs, err = fs.Glob(migrations.FS, "*.down.sql"); err != nil {
		return nil, nil, fmt.Errorf("glob down migrations: %w", err)
	}
	if ups, err = fs.Glob(migrations.FS, "*.up.sql"); err != nil {
		return nil, nil, fmt.Errorf("glob up migrations: %w", err)
	}
	slices.Sort(downs)
	slices.Sort(ups)
	return downs, ups, nil
}

// ApplyMigrationFile executes one embedded migration file as-is, without
// recording it in schema_migrations.
func ApplyMigrationFile(ctx context.Context, pool *pgxpool.Pool, name string) error {
	sql, err := fs.ReadFile(migrations.FS, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// NewTestAccount creates a free-tier account seed.
func NewTestAccount(t testing.TB, userID string) *model.CreditAccount {
	t.Helper()
	return model.NewDefaultAccount(userID, model.DefaultFreeMinutes, time.Now().UTC())
}

// NewTestUsageRecord creates a usage record charging the given minutes.
func NewTestUsageRecord(t testing.TB, userID string, minutes int) *model.UsageRecord {
	t.Helper()
	return &model.UsageRecord{
		ID:              ulid.Make().String(),
		UserID:          userID,
		AgentID:         "agent_test",
		DurationSeconds: minutes * 60,
		MinutesCharged:  minutes,
		CreatedAt:       time.Now().UTC(),
	}
}

// NewTestAccessKey returns an unsaved key row. The hash is not a real
// argon2 hash; tests that verify secrets should use auth.GenerateAccessKey.
func NewTestAccessKey(t testing.TB, userID string) *model.AccessKey {
	t.Helper()
	id := ulid.Make().String()
	return &model.AccessKey{
		ID:        id,
		UserID:    userID,
		KeyHash:   "hash-" + id,
		KeyPrefix: id[len(id)-6:],
		Name:      "integration",
		CreatedAt: time.Now().UTC(),
	}
}

// UniqueID returns prefix joined to a fresh ULID.
func UniqueID(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}
