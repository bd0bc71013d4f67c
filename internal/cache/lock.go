package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
)

// ErrLockHeld is returned when the lock could not be acquired.
var ErrLockHeld = errors.New("lock held by another process")

// WithLock runs fn while holding a cluster-wide mutex named name.
// It does not wait: if the lock is taken ErrLockHeld is returned and fn
// does not run.
func (c *Cache) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	mutex := c.sync.NewMutex(key("lock", name),
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) {
			return ErrLockHeld
		}
		// Quorum and taken errors come back wrapped; with a single try they
		// all mean the lock could not be acquired.
		return fmt.Errorf("%w: %s: %v", ErrLockHeld, name, err)
	}

	defer func() {
		// Unlock on a fresh context so a cancelled ctx does not leak the lock.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_, _ = mutex.UnlockContext(unlockCtx)
	}()

	return fn(ctx)
}
