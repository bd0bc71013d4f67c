// Package credit implements the session gate and usage recorder.
package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/voicecredits/voicecredits/internal/cache"
	"github.com/voicecredits/voicecredits/internal/metrics"
	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/repository"
)

// Service errors.
var (
	ErrUnconfigured    = errors.New("credit ledger is not configured")
	ErrMissingUserID   = errors.New("userId is required")
	ErrMissingAgentID  = errors.New("agentId is required")
	ErrInvalidDuration = errors.New("durationSeconds must be a non-negative number")
	ErrInvalidCursor   = repository.ErrInvalidCursor
)

// Usage history page bounds.
const (
	DefaultUsageLimit = 20
	MaxUsageLimit     = 100
)

// DefaultStorageTimeout bounds every ledger call.
const DefaultStorageTimeout = 3 * time.Second

// Ledger is the persistent credit store.
type Ledger interface {
	GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error)
	EnsureAccount(ctx context.Context, seed *model.CreditAccount) (*model.CreditAccount, error)
	DeductUsage(ctx context.Context, seed *model.CreditAccount, record *model.UsageRecord) (*model.CreditAccount, error)
	ListUsageRecords(ctx context.Context, filter repository.UsageFilter, cursor string, limit int) ([]*model.UsageRecord, string, error)
}

// AccountCache is an optional read-through cache in front of the ledger.
type AccountCache interface {
	GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error)
	SetAccount(ctx context.Context, acct *model.CreditAccount) error
	DeleteAccount(ctx context.Context, userID string) error
}

// Config holds optional Service settings.
type Config struct {
	FreeMinutes    int
	StorageTimeout time.Duration
	Logger         *slog.Logger
	Metrics        metrics.Recorder
	Cache          AccountCache
	Now            func() time.Time
}

// Service gates sessions and records their usage.
type Service struct {
	ledger      Ledger
	cache       AccountCache
	logger      *slog.Logger
	metrics     metrics.Recorder
	freeMinutes int
	timeout     time.Duration
	now         func() time.Time
}

// NewService creates a Service. A nil ledger yields an unconfigured service
// that answers gate and credit lookups with the default free tier.
func NewService(ledger Ledger, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = DefaultStorageTimeout
	}
	if cfg.FreeMinutes < 0 {
		cfg.FreeMinutes = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		ledger:      ledger,
		cache:       cfg.Cache,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		freeMinutes: cfg.FreeMinutes,
		timeout:     cfg.StorageTimeout,
		now:         cfg.Now,
	}
}

// Configured reports whether a ledger is attached.
func (s *Service) Configured() bool {
	return s.ledger != nil
}

// DefaultAccount returns the account a new user id starts with.
func (s *Service) DefaultAccount(userID string) *model.CreditAccount {
	return model.NewDefaultAccount(userID, s.freeMinutes, s.now().UTC())
}

// CanStartSession decides whether userID may start a paid session.
// It never writes. When the ledger is unreachable or unconfigured the
// default free-tier decision is returned with Degraded set.
func (s *Service) CanStartSession(ctx context.Context, userID string) (model.GateDecision, error) {
	if userID == "" {
		return model.GateDecision{}, ErrMissingUserID
	}

	start := s.now()
	defer func() { s.metrics.ObserveGateDuration(s.now().Sub(start)) }()

	if s.ledger == nil {
		decision := s.DefaultAccount(userID).Decide()
		decision.Degraded = true
		s.metrics.IncGateDecision(metrics.GateDegraded)
		return decision, nil
	}

	acct, err := s.loadAccount(ctx, userID)
	if err != nil {
		s.logger.Warn("session gate degraded, using default free tier",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		decision := s.DefaultAccount(userID).Decide()
		decision.Degraded = true
		s.metrics.IncGateDecision(metrics.GateDegraded)
		return decision, nil
	}

	decision := acct.Decide()
	if decision.CanStart {
		s.metrics.IncGateDecision(metrics.GateAllowed)
	} else {
		s.metrics.IncGateDecision(metrics.GateDenied)
	}

	return decision, nil
}

// CreditsView is the credit state reported to a user.
type CreditsView struct {
	Account    *model.CreditAccount
	Decision   model.GateDecision
	Configured bool
	Degraded   bool
}

// GetCredits returns the account for userID, creating the default free
// account on first lookup.
func (s *Service) GetCredits(ctx context.Context, userID string) (*CreditsView, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	if s.ledger == nil {
		acct := s.DefaultAccount(userID)
		return &CreditsView{Account: acct, Decision: acct.Decide()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	acct, err := s.ledger.EnsureAccount(ctx, s.DefaultAccount(userID))
	if err != nil {
		s.logger.Warn("credit lookup degraded, using default free tier",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		acct = s.DefaultAccount(userID)
		decision := acct.Decide()
		decision.Degraded = true
		return &CreditsView{Account: acct, Decision: decision, Configured: true, Degraded: true}, nil
	}

	// Not cached: a deduction committing between this read and a cache
	// write would leave the stale balance in place until the TTL.
	return &CreditsView{Account: acct, Decision: acct.Decide(), Configured: true}, nil
}

// DeductCredits charges a completed session to userID.
// Minutes are the duration rounded up to whole minutes. The funding source
// is re-resolved at deduction time with the gate's priority, and the charged
// counter never goes below zero.
func (s *Service) DeductCredits(ctx context.Context, userID, agentID string, durationSeconds int) (*model.DeductResult, error) {
	switch {
	case userID == "":
		return nil, ErrMissingUserID
	case agentID == "":
		return nil, ErrMissingAgentID
	case durationSeconds < 0:
		return nil, ErrInvalidDuration
	}

	if s.ledger == nil {
		return nil, ErrUnconfigured
	}

	now := s.now().UTC()
	record := &model.UsageRecord{
		ID:              ulid.Make().String(),
		UserID:          userID,
		AgentID:         agentID,
		DurationSeconds: durationSeconds,
		MinutesCharged:  model.MinutesForDuration(durationSeconds),
		CreatedAt:       now,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	acct, err := s.ledger.DeductUsage(ctx, s.DefaultAccount(userID), record)
	if err != nil {
		s.metrics.IncUsageFailed()
		s.logger.Error("failed to record usage",
			slog.String("user_id", userID),
			slog.String("agent_id", agentID),
			slog.Int("duration_seconds", durationSeconds),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("deduct credits: %w", err)
	}

	s.invalidateCache(ctx, userID)

	s.metrics.IncUsageRecorded(string(record.BillingType))
	s.metrics.AddMinutesCharged(string(record.BillingType), record.MinutesCharged)
	s.logger.Info("usage recorded",
		slog.String("user_id", userID),
		slog.String("agent_id", agentID),
		slog.Int("minutes_charged", record.MinutesCharged),
		slog.String("billing_type", string(record.BillingType)),
	)

	return &model.DeductResult{
		Success:        true,
		BillingType:    record.BillingType,
		MinutesCharged: record.MinutesCharged,
		Metered:        true,
		Account:        acct,
	}, nil
}

// RecordSession charges a session for a resolved identity. Demo identities
// are acknowledged without touching the ledger.
func (s *Service) RecordSession(ctx context.Context, id model.Identity, agentID string, durationSeconds int) (*model.DeductResult, error) {
	if !id.Metered() {
		switch {
		case agentID == "":
			return nil, ErrMissingAgentID
		case durationSeconds < 0:
			return nil, ErrInvalidDuration
		}
		return &model.DeductResult{
			Success:        true,
			BillingType:    model.BillingNone,
			MinutesCharged: model.MinutesForDuration(durationSeconds),
		}, nil
	}

	return s.DeductCredits(ctx, id.ID, agentID, durationSeconds)
}

// UsageQuery selects a page of usage history.
type UsageQuery struct {
	UserID       string
	BillingTypes []model.BillingType
	Cursor       string
	Limit        int
}

// UsagePage is one page of usage history, newest first.
type UsagePage struct {
	Records    []*model.UsageRecord
	NextCursor string
}

// ListUsage returns usage history for a user.
func (s *Service) ListUsage(ctx context.Context, q UsageQuery) (*UsagePage, error) {
	if q.UserID == "" {
		return nil, ErrMissingUserID
	}
	if s.ledger == nil {
		return nil, ErrUnconfigured
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultUsageLimit
	}
	if limit > MaxUsageLimit {
		limit = MaxUsageLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	records, next, err := s.ledger.ListUsageRecords(ctx, repository.UsageFilter{
		UserID:       q.UserID,
		BillingTypes: q.BillingTypes,
	}, q.Cursor, limit)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return nil, ErrInvalidCursor
		}
		return nil, fmt.Errorf("list usage: %w", err)
	}

	if records == nil {
		records = []*model.UsageRecord{}
	}

	return &UsagePage{Records: records, NextCursor: next}, nil
}

// loadAccount reads through the cache. A missing account yields the
// default free account without persisting it.
func (s *Service) loadAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	if s.cache != nil {
		acct, err := s.cache.GetAccount(ctx, userID)
		if err == nil {
			s.metrics.IncAccountCacheHit()
			return acct, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Debug("account cache read failed", slog.String("error", err.Error()))
		}
		s.metrics.IncAccountCacheMiss()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	acct, err := s.ledger.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return s.DefaultAccount(userID), nil
		}
		return nil, err
	}

	s.storeCache(ctx, acct)
	return acct, nil
}

func (s *Service) storeCache(ctx context.Context, acct *model.CreditAccount) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetAccount(ctx, acct); err != nil {
		s.logger.Debug("account cache write failed", slog.String("error", err.Error()))
	}
}

func (s *Service) invalidateCache(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteAccount(ctx, userID); err != nil {
		s.logger.Warn("account cache invalidation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}
