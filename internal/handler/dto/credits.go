package dto

import (
	"time"

	"github.com/voicecredits/voicecredits/internal/credit"
	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/voice"
)

// SessionStartRequest is the optional body of POST /api/v1/session-start/{agentID}.
type SessionStartRequest struct {
	Email string `json:"email,omitempty"`
}

// SessionStartResponse carries the conversation credential.
type SessionStartResponse struct {
	SignedURL string      `json:"signedUrl"`
	AgentID   string      `json:"agentId"`
	Agent     string      `json:"agent"`
	UserID    string      `json:"userId"`
	Identity  string      `json:"identity"`
	Billing   BillingInfo `json:"billing"`
}

// BillingInfo tells the client how the session will be funded.
type BillingInfo struct {
	Metered          bool   `json:"metered"`
	Source           string `json:"source"`
	AvailableMinutes int    `json:"availableMinutes"`
	Unlimited        bool   `json:"unlimited"`
	Degraded         bool   `json:"degraded,omitempty"`
}

// ToSessionStartResponse builds the session-start payload. decision is nil
// for identities that skip the gate.
func ToSessionStartResponse(sess *voice.Session, id model.Identity, decision *model.GateDecision) *SessionStartResponse {
	resp := &SessionStartResponse{
		SignedURL: sess.SignedURL,
		AgentID:   sess.Agent.ProviderID,
		Agent:     sess.Agent.Slug,
		UserID:    id.ID,
		Identity:  string(id.Kind),
		Billing:   BillingInfo{Source: string(model.SourceNone)},
	}
	if decision != nil {
		resp.Billing = BillingInfo{
			Metered:          true,
			Source:           string(decision.Source),
			AvailableMinutes: decision.AvailableMinutes,
			Unlimited:        decision.Unlimited,
			Degraded:         decision.Degraded,
		}
	}
	return resp
}

// AgentListResponse lists the configured voice agents.
type AgentListResponse struct {
	Agents     []voice.Agent `json:"agents"`
	Configured bool          `json:"configured"`
}

// CreditsResponse is the credit state of the caller.
type CreditsResponse struct {
	UserID                       string     `json:"userId"`
	BalanceMinutes               int        `json:"balanceMinutes"`
	SubscriptionTier             string     `json:"subscriptionTier"`
	SubscriptionMinutesRemaining int        `json:"subscriptionMinutesRemaining"`
	SubscriptionResetDate        *time.Time `json:"subscriptionResetDate,omitempty"`
	CanStartSession              bool       `json:"canStartSession"`
	AvailableMinutes             int        `json:"availableMinutes"`
	Unlimited                    bool       `json:"unlimited"`
	Source                       string     `json:"source"`
	Configured                   bool       `json:"configured"`
	Degraded                     bool       `json:"degraded,omitempty"`
}

// ToCreditsResponse converts a credit view to its DTO.
func ToCreditsResponse(view *credit.CreditsView) *CreditsResponse {
	acct := view.Account
	return &CreditsResponse{
		UserID:                       acct.UserID,
		BalanceMinutes:               acct.BalanceMinutes,
		SubscriptionTier:             string(acct.SubscriptionTier.Normalize()),
		SubscriptionMinutesRemaining: acct.SubscriptionMinutesRemaining,
		SubscriptionResetDate:        acct.SubscriptionResetDate,
		CanStartSession:              view.Decision.CanStart,
		AvailableMinutes:             view.Decision.AvailableMinutes,
		Unlimited:                    view.Decision.Unlimited,
		Source:                       string(view.Decision.Source),
		Configured:                   view.Configured,
		Degraded:                     view.Degraded,
	}
}

// RecordUsageRequest is the body of POST /api/v1/usage.
// DurationSeconds is a pointer so a missing value can be told apart from 0.
type RecordUsageRequest struct {
	UserID          string   `json:"userId,omitempty"`
	Email           string   `json:"email,omitempty"`
	AgentID         string   `json:"agentId"`
	DurationSeconds *float64 `json:"durationSeconds"`
}

// RecordUsageResponse reports how a session was charged.
type RecordUsageResponse struct {
	Success                      bool   `json:"success"`
	UserID                       string `json:"userId"`
	BillingType                  string `json:"billingType"`
	MinutesCharged               int    `json:"minutesCharged"`
	Metered                      bool   `json:"metered"`
	BalanceMinutes               *int   `json:"balanceMinutes,omitempty"`
	SubscriptionMinutesRemaining *int   `json:"subscriptionMinutesRemaining,omitempty"`
}

// ToRecordUsageResponse converts a deduction result to its DTO.
func ToRecordUsageResponse(userID string, result *model.DeductResult) *RecordUsageResponse {
	resp := &RecordUsageResponse{
		Success:        result.Success,
		UserID:         userID,
		BillingType:    string(result.BillingType),
		MinutesCharged: result.MinutesCharged,
		Metered:        result.Metered,
	}
	if result.Account != nil {
		balance := result.Account.BalanceMinutes
		remaining := result.Account.SubscriptionMinutesRemaining
		resp.BalanceMinutes = &balance
		resp.SubscriptionMinutesRemaining = &remaining
	}
	return resp
}

// UsageRecordResponse is one entry of usage history.
type UsageRecordResponse struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agentId"`
	DurationSeconds int       `json:"durationSeconds"`
	MinutesCharged  int       `json:"minutesCharged"`
	BillingType     string    `json:"billingType"`
	CreatedAt       time.Time `json:"createdAt"`
}

// UsageListResponse is a page of usage history, newest first.
type UsageListResponse struct {
	UserID     string                `json:"userId"`
	Data       []UsageRecordResponse `json:"data"`
	Pagination *Pagination           `json:"pagination"`
}

// ToUsageListResponse converts a usage page to its DTO.
func ToUsageListResponse(userID string, page *credit.UsagePage) *UsageListResponse {
	data := make([]UsageRecordResponse, 0, len(page.Records))
	for _, rec := range page.Records {
		data = append(data, UsageRecordResponse{
			ID:              rec.ID,
			AgentID:         rec.AgentID,
			DurationSeconds: rec.DurationSeconds,
			MinutesCharged:  rec.MinutesCharged,
			BillingType:     string(rec.BillingType),
			CreatedAt:       rec.CreatedAt,
		})
	}

	return &UsageListResponse{
		UserID: userID,
		Data:   data,
		Pagination: &Pagination{
			NextCursor: page.NextCursor,
			HasMore:    page.NextCursor != "",
		},
	}
}
