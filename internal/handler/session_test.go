package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voicecredits/voicecredits/internal/credit"
	"github.com/voicecredits/voicecredits/internal/handler/dto"
	"github.com/voicecredits/voicecredits/internal/identity"
	"github.com/voicecredits/voicecredits/internal/metrics"
	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/repository/memory"
	"github.com/voicecredits/voicecredits/internal/voice"
)

type fakeCredentials struct {
	err   error
	calls []string
}

func (f *fakeCredentials) SignedURL(_ context.Context, agentID string) (string, error) {
	f.calls = append(f.calls, agentID)
	if f.err != nil {
		return "", f.err
	}
	return "wss://voice.example/convai?agent_id=" + agentID + "&token=t", nil
}

func newGateway(t *testing.T, source voice.CredentialSource) *voice.Gateway {
	t.Helper()
	reg, err := voice.ParseRegistry("sales:agent_sales_01,support:agent_support_02")
	if err != nil {
		t.Fatalf("ParseRegistry: %v", err)
	}
	return voice.NewGateway(reg, source)
}

func TestSessionHandler_Start(t *testing.T) {
	store := memory.New()
	credits := credit.NewService(store, credit.Config{FreeMinutes: model.DefaultFreeMinutes})

	// A user who has spent all their minutes.
	broke := identity.EmailUserID("broke@example.com")
	if _, err := store.DeductUsage(context.Background(), credits.DefaultAccount(broke), &model.UsageRecord{
		ID: "u1", UserID: broke, AgentID: "agent_sales_01", DurationSeconds: 180, MinutesCharged: 3,
	}); err != nil {
		t.Fatalf("DeductUsage: %v", err)
	}

	tests := []struct {
		name         string
		agent        string
		body         string
		userID       string
		wantStatus   int
		wantIdentity model.IdentityKind
		wantMetered  bool
	}{
		{"demo without identity", "sales", "", "", http.StatusOK, model.IdentityDemo, false},
		{"email identity", "sales", `{"email":"New@Example.com"}`, "", http.StatusOK, model.IdentityEmail, true},
		{"authenticated identity", "support", `{"email":"ignored@example.com"}`, "user_42", http.StatusOK, model.IdentityAuthenticated, true},
		{"agent by provider id", "agent_support_02", "", "", http.StatusOK, model.IdentityDemo, false},
		{"unknown agent", "billing", "", "", http.StatusNotFound, "", false},
		{"invalid body", "sales", `{"email":`, "", http.StatusBadRequest, "", false},
		{"out of credits", "sales", `{"email":"broke@example.com"}`, "", http.StatusPaymentRequired, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := metrics.NewInMemory()
			h := NewSessionHandler(credits, newGateway(t, &fakeCredentials{}), discardLogger(), rec)

			w := httptest.NewRecorder()
			h.Start(w, newRequest(http.MethodPost, "/api/v1/session-start/"+tt.agent, tt.body, tt.userID, "agentID", tt.agent))

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}

			switch w.Code {
			case http.StatusOK:
				resp := decodeBody[dto.SessionStartResponse](t, w)
				if resp.SignedURL == "" {
					t.Error("expected a signed url")
				}
				if resp.Identity != string(tt.wantIdentity) {
					t.Errorf("expected identity %s, got %s", tt.wantIdentity, resp.Identity)
				}
				if resp.Billing.Metered != tt.wantMetered {
					t.Errorf("expected metered=%v, got %v", tt.wantMetered, resp.Billing.Metered)
				}
				if tt.wantIdentity == model.IdentityEmail && resp.UserID != identity.EmailUserID("new@example.com") {
					t.Errorf("unexpected email user id %s", resp.UserID)
				}
				if !tt.wantMetered && rec.Snapshot().GateDecisions[metrics.GateDemo] != 1 {
					t.Error("expected demo gate decision to be counted")
				}
			case http.StatusPaymentRequired:
				resp := decodeBody[dto.PaymentRequiredResponse](t, w)
				if !resp.RequiresPayment {
					t.Error("expected requiresPayment=true")
				}
			}
		})
	}
}

func TestSessionHandler_StartVoiceFailures(t *testing.T) {
	credits := credit.NewService(nil, credit.Config{FreeMinutes: model.DefaultFreeMinutes})

	tests := []struct {
		name string
		gw   *voice.Gateway
	}{
		{"no credential source", newGateway(t, nil)},
		{"no agents", voice.NewGateway(nil, &fakeCredentials{})},
		{"upstream failure", newGateway(t, &fakeCredentials{err: voice.ErrUpstream})},
		{"timeout", newGateway(t, &fakeCredentials{err: errors.New("context deadline exceeded")})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSessionHandler(credits, tt.gw, discardLogger(), nil)

			w := httptest.NewRecorder()
			h.Start(w, newRequest(http.MethodPost, "/api/v1/session-start/sales", "", "", "agentID", "sales"))

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("expected status 500, got %d", w.Code)
			}
			resp := decodeBody[dto.ErrorResponse](t, w)
			if resp.Error != "An internal error occurred" {
				t.Errorf("expected a generic message, got %q", resp.Error)
			}
		})
	}
}

func TestSessionHandler_DegradedGateAllowsFreeTier(t *testing.T) {
	credits := credit.NewService(nil, credit.Config{FreeMinutes: model.DefaultFreeMinutes})
	h := NewSessionHandler(credits, newGateway(t, &fakeCredentials{}), discardLogger(), nil)

	w := httptest.NewRecorder()
	h.Start(w, newRequest(http.MethodPost, "/api/v1/session-start/sales", `{"email":"a@example.com"}`, "", "agentID", "sales"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	resp := decodeBody[dto.SessionStartResponse](t, w)
	if !resp.Billing.Degraded || resp.Billing.AvailableMinutes != model.DefaultFreeMinutes {
		t.Errorf("expected degraded free-tier billing, got %+v", resp.Billing)
	}
}

func TestSessionHandler_Agents(t *testing.T) {
	h := NewSessionHandler(credit.NewService(nil, credit.Config{}), newGateway(t, nil), discardLogger(), nil)

	w := httptest.NewRecorder()
	h.Agents(w, newRequest(http.MethodGet, "/api/v1/agents", "", ""))

	resp := decodeBody[dto.AgentListResponse](t, w)
	if len(resp.Agents) != 2 || resp.Agents[0].Slug != "sales" {
		t.Errorf("unexpected agents: %+v", resp.Agents)
	}
	if resp.Configured {
		t.Error("expected configured=false without a credential source")
	}
}
