package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voicecredits/voicecredits/internal/model"
)

const (
	// AccountTTL bounds how stale a cached account can be if an
	// invalidation is lost.
	AccountTTL = 30 * time.Second
)

// ErrCacheMiss is returned when a key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// GetAccount retrieves a cached credit account.
// Returns ErrCacheMiss if not found.
func (c *Cache) GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	var cached model.CachedAccount

	cmd := c.client.HGetAll(ctx, key("account", userID))
	result, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrCacheMiss
	}

	if err := cmd.Scan(&cached); err != nil {
		return nil, fmt.Errorf("decode cached account: %w", err)
	}

	return cached.ToAccount(userID), nil
}

// SetAccount stores a credit account in cache.
func (c *Cache) SetAccount(ctx context.Context, acct *model.CreditAccount) error {
	k := key("account", acct.UserID)
	cached := acct.ToCachedAccount()

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, cached)
	pipe.Expire(ctx, k, AccountTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache account: %w", err)
	}

	return nil
}

// DeleteAccount removes a credit account from cache.
func (c *Cache) DeleteAccount(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, key("account", userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete account from cache: %w", err)
	}
	return nil
}
