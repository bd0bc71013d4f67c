// Package jobs runs scheduled maintenance against the credit ledger.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/voicecredits/voicecredits/internal/cache"
	"github.com/voicecredits/voicecredits/internal/metrics"
)

// Sweep defaults.
const (
	DefaultSweepSchedule = "15 * * * *"
	DefaultGracePeriod   = 72 * time.Hour
	DefaultSweepTimeout  = 2 * time.Minute

	sweepLockName = "subscription-sweep"
)

// SubscriptionStore expires subscriptions that were not renewed.
type SubscriptionStore interface {
	ExpireLapsedSubscriptions(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Locker runs fn under a cluster-wide lock.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error
}

// AccountInvalidator drops cached account state.
type AccountInvalidator interface {
	DeleteAccount(ctx context.Context, userID string) error
}

// SweepConfig holds SubscriptionSweeper settings.
type SweepConfig struct {
	Schedule    string
	GracePeriod time.Duration
	Timeout     time.Duration
	Locker      Locker
	Cache       AccountInvalidator
	Logger      *slog.Logger
	Metrics     metrics.Recorder
	Now         func() time.Time
}

// SubscriptionSweeper drops subscriptions whose reset date passed more than
// the grace period ago without a renewal. It only ever lowers allowances.
type SubscriptionSweeper struct {
	store SubscriptionStore
	cfg   SweepConfig
	cron  *cron.Cron
}

// NewSubscriptionSweeper creates a sweeper. Locker and Cache are optional.
func NewSubscriptionSweeper(store SubscriptionStore, cfg SweepConfig) *SubscriptionSweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSweepSchedule
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSweepTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &SubscriptionSweeper{store: store, cfg: cfg}
}

// RunOnce performs a single sweep and returns the expired user ids.
// When another instance holds the sweep lock nothing is done and
// cache.ErrLockHeld is returned.
func (s *SubscriptionSweeper) RunOnce(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var expired []string
	sweep := func(ctx context.Context) error {
		cutoff := s.cfg.Now().UTC().Add(-s.cfg.GracePeriod)
		ids, err := s.store.ExpireLapsedSubscriptions(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("expire lapsed subscriptions: %w", err)
		}
		expired = ids
		return nil
	}

	var err error
	if s.cfg.Locker != nil {
		err = s.cfg.Locker.WithLock(ctx, sweepLockName, s.cfg.Timeout, sweep)
	} else {
		err = sweep(ctx)
	}
	if err != nil {
		return nil, err
	}

	if s.cfg.Cache != nil {
		for _, id := range expired {
			if err := s.cfg.Cache.DeleteAccount(ctx, id); err != nil {
				s.cfg.Logger.Warn("account cache invalidation failed",
					slog.String("user_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	s.cfg.Metrics.AddSubscriptionsExpired(len(expired))
	return expired, nil
}

// Start schedules the sweep. It returns an error for an invalid schedule.
func (s *SubscriptionSweeper) Start() error {
	logger := cronLogger{s.cfg.Logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(s.cfg.Schedule, s.run); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.Schedule, err)
	}

	c.Start()
	s.cron = c
	s.cfg.Logger.Info("subscription sweep scheduled",
		slog.String("schedule", s.cfg.Schedule),
		slog.Duration("grace_period", s.cfg.GracePeriod),
	)
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *SubscriptionSweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SubscriptionSweeper) run() {
	start := s.cfg.Now()
	expired, err := s.RunOnce(context.Background())
	switch {
	case errors.Is(err, cache.ErrLockHeld):
		s.cfg.Logger.Debug("subscription sweep skipped, lock held elsewhere")
	case err != nil:
		s.cfg.Logger.Error("subscription sweep failed", slog.String("error", err.Error()))
	default:
		s.cfg.Logger.Info("subscription sweep finished",
			slog.Int("expired", len(expired)),
			slog.Duration("duration", s.cfg.Now().Sub(start)),
		)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
