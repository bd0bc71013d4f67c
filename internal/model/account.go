// Package model defines domain entities for the application.
package model

import (
	"math"
	"strconv"
	"time"
)

// SubscriptionTier is the recurring plan an account is on.
type SubscriptionTier string

const (
	TierNone         SubscriptionTier = "none"
	TierBasic        SubscriptionTier = "basic"
	TierProfessional SubscriptionTier = "professional"
	TierUnlimited    SubscriptionTier = "unlimited"
)

// IsValid checks if the tier is one of the known tiers.
func (t SubscriptionTier) IsValid() bool {
	switch t {
	case TierNone, TierBasic, TierProfessional, TierUnlimited:
		return true
	}
	return false
}

// Normalize maps an absent tier to TierNone.
func (t SubscriptionTier) Normalize() SubscriptionTier {
	if t == "" {
		return TierNone
	}
	return t
}

// FundingSource identifies what pays for a session.
type FundingSource string

const (
	SourceSubscription FundingSource = "subscription"
	SourceCredits      FundingSource = "credits"
	SourceNone         FundingSource = "none"
)

// DefaultFreeMinutes is granted to every account on creation.
const DefaultFreeMinutes = 3

// UnlimitedMinutes is reported as available minutes for the unlimited tier.
const UnlimitedMinutes = math.MaxInt32

// CreditAccount is the persisted credit state of a single user id.
type CreditAccount struct {
	UserID                       string           `json:"user_id"`
	BalanceMinutes               int              `json:"balance_minutes"`
	SubscriptionTier             SubscriptionTier `json:"subscription_tier"`
	SubscriptionMinutesRemaining int              `json:"subscription_minutes_remaining"`
	SubscriptionResetDate        *time.Time       `json:"subscription_reset_date,omitempty"`
	StripeCustomerID             string           `json:"-"`
	CreatedAt                    time.Time        `json:"created_at"`
	UpdatedAt                    time.Time        `json:"updated_at"`
}

// NewDefaultAccount returns the free-tier account a new user starts with.
func NewDefaultAccount(userID string, freeMinutes int, now time.Time) *CreditAccount {
	if freeMinutes < 0 {
		freeMinutes = 0
	}
	return &CreditAccount{
		UserID:           userID,
		BalanceMinutes:   freeMinutes,
		SubscriptionTier: TierNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsUnlimited reports whether the allowance counter should be ignored.
func (a *CreditAccount) IsUnlimited() bool {
	return a.SubscriptionTier == TierUnlimited
}

// FundingSource picks the source for the next session.
// Priority: unlimited tier, then subscription allowance, then purchased balance.
func (a *CreditAccount) FundingSource() FundingSource {
	switch {
	case a.IsUnlimited():
		return SourceSubscription
	case a.SubscriptionMinutesRemaining > 0:
		return SourceSubscription
	case a.BalanceMinutes > 0:
		return SourceCredits
	default:
		return SourceNone
	}
}

// Decide computes the gate decision for the account. It never mutates a.
func (a *CreditAccount) Decide() GateDecision {
	source := a.FundingSource()

	switch source {
	case SourceSubscription:
		if a.IsUnlimited() {
			return GateDecision{
				CanStart:         true,
				AvailableMinutes: UnlimitedMinutes,
				Unlimited:        true,
				Source:           source,
			}
		}
		return GateDecision{
			CanStart:         true,
			AvailableMinutes: a.SubscriptionMinutesRemaining,
			Source:           source,
		}
	case SourceCredits:
		return GateDecision{
			CanStart:         true,
			AvailableMinutes: a.BalanceMinutes,
			Source:           source,
		}
	default:
		return GateDecision{Source: SourceNone}
	}
}

// Deduct charges minutes against the source chosen by FundingSource,
// flooring the counter at zero. It returns the source that was charged.
func (a *CreditAccount) Deduct(minutes int) FundingSource {
	source := a.FundingSource()
	if minutes < 0 {
		minutes = 0
	}

	switch {
	case source == SourceSubscription && !a.IsUnlimited():
		a.SubscriptionMinutesRemaining = max(a.SubscriptionMinutesRemaining-minutes, 0)
	case source == SourceCredits:
		a.BalanceMinutes = max(a.BalanceMinutes-minutes, 0)
	}

	return source
}

// GateDecision is the outcome of a session gate check.
type GateDecision struct {
	CanStart         bool          `json:"can_start"`
	AvailableMinutes int           `json:"available_minutes"`
	Unlimited        bool          `json:"unlimited"`
	Source           FundingSource `json:"source"`
	// Degraded is set when the ledger could not be consulted and the
	// default free-tier decision was returned instead.
	Degraded bool `json:"degraded,omitempty"`
}

// CachedAccount represents account data stored in a Redis hash.
type CachedAccount struct {
	BalanceMinutes               string `redis:"balance_minutes"`
	SubscriptionTier             string `redis:"subscription_tier"`
	SubscriptionMinutesRemaining string `redis:"subscription_minutes_remaining"`
	SubscriptionResetDate        string `redis:"subscription_reset_date"` // Unix timestamp or empty
	UpdatedAt                    string `redis:"updated_at"`              // Unix timestamp
}

// ToAccount converts CachedAccount to the CreditAccount domain model.
func (c *CachedAccount) ToAccount(userID string) *CreditAccount {
	acct := &CreditAccount{
		UserID:           userID,
		SubscriptionTier: SubscriptionTier(c.SubscriptionTier).Normalize(),
	}

	acct.BalanceMinutes, _ = strconv.Atoi(c.BalanceMinutes)
	acct.SubscriptionMinutesRemaining, _ = strconv.Atoi(c.SubscriptionMinutesRemaining)

	if c.SubscriptionResetDate != "" {
		if ts, err := strconv.ParseInt(c.SubscriptionResetDate, 10, 64); err == nil {
			t := time.Unix(ts, 0).UTC()
			acct.SubscriptionResetDate = &t
		}
	}

	if c.UpdatedAt != "" {
		if ts, err := strconv.ParseInt(c.UpdatedAt, 10, 64); err == nil {
			acct.UpdatedAt = time.Unix(ts, 0).UTC()
		}
	}

	return acct
}

// ToCachedAccount converts the account into its cache representation.
func (a *CreditAccount) ToCachedAccount() *CachedAccount {
	cached := &CachedAccount{
		BalanceMinutes:               strconv.Itoa(a.BalanceMinutes),
		SubscriptionTier:             string(a.SubscriptionTier.Normalize()),
		SubscriptionMinutesRemaining: strconv.Itoa(a.SubscriptionMinutesRemaining),
		UpdatedAt:                    strconv.FormatInt(a.UpdatedAt.Unix(), 10),
	}

	if a.SubscriptionResetDate != nil {
		cached.SubscriptionResetDate = strconv.FormatInt(a.SubscriptionResetDate.Unix(), 10)
	}

	return cached
}
