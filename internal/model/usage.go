package model

import "time"

// BillingType records which source funded a completed session.
type BillingType string

const (
	BillingSubscription BillingType = "subscription"
	BillingCredits      BillingType = "credits"
	BillingNone         BillingType = "none"
)

// IsValid checks if the billing type is known.
func (b BillingType) IsValid() bool {
	return b == BillingSubscription || b == BillingCredits || b == BillingNone
}

// BillingTypeFor maps a funding source to the billing type recorded for it.
func BillingTypeFor(source FundingSource) BillingType {
	switch source {
	case SourceSubscription:
		return BillingSubscription
	case SourceCredits:
		return BillingCredits
	default:
		return BillingNone
	}
}

// UsageRecord is an append-only entry for one completed session.
type UsageRecord struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	AgentID         string      `json:"agent_id"`
	DurationSeconds int         `json:"duration_seconds"`
	MinutesCharged  int         `json:"minutes_charged"`
	BillingType     BillingType `json:"billing_type"`
	CreatedAt       time.Time   `json:"created_at"`
}

// MinutesForDuration converts a session duration into billed minutes.
// Partial minutes round up: 1s bills 1 minute, 90s bills 2.
func MinutesForDuration(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}

// DeductResult is returned by the usage recorder.
type DeductResult struct {
	Success        bool           `json:"success"`
	BillingType    BillingType    `json:"billing_type"`
	MinutesCharged int            `json:"minutes_charged"`
	Metered        bool           `json:"metered"`
	Account        *CreditAccount `json:"account,omitempty"`
}
