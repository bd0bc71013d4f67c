package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voicecredits/voicecredits/internal/model"
)

// AuthTTL bounds how long a revoked key keeps working from cache.
const AuthTTL = 5 * time.Minute

type cachedAuth struct {
	KeyID     string `redis:"key_id"`
	KeyPrefix string `redis:"key_prefix"`
	UserID    string `redis:"user_id"`
}

// GetAuthContext returns the verified key cached under cacheKey, or nil on
// a miss. Unreadable entries count as misses.
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	cmd := c.client.HGetAll(ctx, key("auth", cacheKey))
	fields, err := cmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var cached cachedAuth
	if err := cmd.Scan(&cached); err != nil || cached.UserID == "" {
		return nil, nil //nolint:nilerr
	}

	return &model.AuthContext{
		KeyID:     cached.KeyID,
		KeyPrefix: cached.KeyPrefix,
		UserID:    cached.UserID,
	}, nil
}

// SetAuthContext caches a verified key for AuthTTL.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error {
	k := key("auth", cacheKey)

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, k, cachedAuth{
		KeyID:     auth.KeyID,
		KeyPrefix: auth.KeyPrefix,
		UserID:    auth.UserID,
	})
	pipe.Expire(ctx, k, AuthTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache auth context: %w", err)
	}
	return nil
}
