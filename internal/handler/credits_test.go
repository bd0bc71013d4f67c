package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voicecredits/voicecredits/internal/credit"
	"github.com/voicecredits/voicecredits/internal/handler/dto"
	"github.com/voicecredits/voicecredits/internal/identity"
	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/repository/memory"
)

func newCreditHandler(t *testing.T) (*CreditHandler, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := credit.NewService(store, credit.Config{FreeMinutes: model.DefaultFreeMinutes})
	return NewCreditHandler(svc, discardLogger()), store
}

func TestCreditHandler_Get(t *testing.T) {
	h, _ := newCreditHandler(t)

	w := httptest.NewRecorder()
	h.Get(w, newRequest(http.MethodGet, "/api/v1/credits", "", "user_1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	resp := decodeBody[dto.CreditsResponse](t, w)
	if resp.BalanceMinutes != model.DefaultFreeMinutes || !resp.CanStartSession || !resp.Configured {
		t.Errorf("unexpected credits: %+v", resp)
	}
	if resp.SubscriptionTier != string(model.TierNone) {
		t.Errorf("expected tier none, got %s", resp.SubscriptionTier)
	}
}

func TestCreditHandler_GetUnconfigured(t *testing.T) {
	h := NewCreditHandler(credit.NewService(nil, credit.Config{FreeMinutes: model.DefaultFreeMinutes}), discardLogger())

	w := httptest.NewRecorder()
	h.Get(w, newRequest(http.MethodGet, "/api/v1/credits", "", "user_1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	resp := decodeBody[dto.CreditsResponse](t, w)
	if resp.Configured || resp.BalanceMinutes != model.DefaultFreeMinutes {
		t.Errorf("expected default free tier with configured=false, got %+v", resp)
	}
}

func TestCreditHandler_RecordUsageValidation(t *testing.T) {
	h, _ := newCreditHandler(t)

	tests := []struct {
		name     string
		body     string
		userID   string
		wantCode string
	}{
		{"missing user", `{"agentId":"sales","durationSeconds":60}`, "", "MISSING_USER_ID"},
		{"missing agent", `{"userId":"user_1","durationSeconds":60}`, "", "MISSING_AGENT_ID"},
		{"missing duration", `{"userId":"user_1","agentId":"sales"}`, "", "INVALID_DURATION"},
		{"string duration", `{"userId":"user_1","agentId":"sales","durationSeconds":"60"}`, "", "INVALID_DURATION"},
		{"negative duration", `{"userId":"user_1","agentId":"sales","durationSeconds":-1}`, "", "INVALID_DURATION"},
		{"auth without agent", `{"durationSeconds":60}`, "user_1", "MISSING_AGENT_ID"},
		{"malformed", `{"userId":`, "", "INVALID_JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.RecordUsage(w, newRequest(http.MethodPost, "/api/v1/usage", tt.body, tt.userID))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
			resp := decodeBody[dto.ErrorResponse](t, w)
			if resp.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, resp.Code)
			}
		})
	}
}

func TestCreditHandler_RecordUsage(t *testing.T) {
	h, store := newCreditHandler(t)

	tests := []struct {
		name        string
		body        string
		userID      string
		wantUser    string
		wantMinutes int
		wantType    model.BillingType
		wantMetered bool
	}{
		{"authenticated", `{"agentId":"sales","durationSeconds":61}`, "user_a", "user_a", 2, model.BillingCredits, true},
		{"explicit user id", `{"userId":"user_b","agentId":"sales","durationSeconds":0.5}`, "", "user_b", 1, model.BillingCredits, true},
		{"email", `{"email":"C@example.com","agentId":"sales","durationSeconds":30}`, "", identity.EmailUserID("c@example.com"), 1, model.BillingCredits, true},
		{"demo id is not metered", `{"userId":"demo_1700000000000","agentId":"sales","durationSeconds":120}`, "", "demo_1700000000000", 2, model.BillingNone, false},
		{"zero seconds", `{"userId":"user_c","agentId":"sales","durationSeconds":0}`, "", "user_c", 0, model.BillingCredits, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.RecordUsage(w, newRequest(http.MethodPost, "/api/v1/usage", tt.body, tt.userID))

			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
			}
			resp := decodeBody[dto.RecordUsageResponse](t, w)
			if resp.UserID != tt.wantUser || resp.MinutesCharged != tt.wantMinutes || resp.Metered != tt.wantMetered {
				t.Errorf("unexpected result: %+v", resp)
			}
			if resp.BillingType != string(tt.wantType) {
				t.Errorf("expected billing type %s, got %s", tt.wantType, resp.BillingType)
			}
		})
	}

	if _, err := store.GetAccount(context.Background(), "demo_1700000000000"); err == nil {
		t.Error("demo usage must not create an account")
	}
}

func TestCreditHandler_ListUsage(t *testing.T) {
	h, _ := newCreditHandler(t)

	for _, body := range []string{
		`{"agentId":"sales","durationSeconds":60}`,
		`{"agentId":"support","durationSeconds":90}`,
		`{"agentId":"sales","durationSeconds":120}`,
	} {
		w := httptest.NewRecorder()
		h.RecordUsage(w, newRequest(http.MethodPost, "/api/v1/usage", body, "user_hist"))
		if w.Code != http.StatusOK {
			t.Fatalf("record usage: status %d", w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ListUsage(w, newRequest(http.MethodGet, "/api/v1/usage?limit=2", "", "user_hist"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	page := decodeBody[dto.UsageListResponse](t, w)
	if len(page.Data) != 2 || !page.Pagination.HasMore {
		t.Fatalf("expected a full first page, got %+v", page)
	}

	w = httptest.NewRecorder()
	h.ListUsage(w, newRequest(http.MethodGet, "/api/v1/usage?limit=2&cursor="+page.Pagination.NextCursor, "", "user_hist"))
	next := decodeBody[dto.UsageListResponse](t, w)
	if len(next.Data) != 1 || next.Pagination.HasMore {
		t.Errorf("expected the last record, got %+v", next)
	}

	w = httptest.NewRecorder()
	h.ListUsage(w, newRequest(http.MethodGet, "/api/v1/usage?userId=demo_1", "", ""))
	demo := decodeBody[dto.UsageListResponse](t, w)
	if len(demo.Data) != 0 {
		t.Errorf("expected no history for demo ids, got %d", len(demo.Data))
	}
}

func TestCreditHandler_ListUsageValidation(t *testing.T) {
	h, _ := newCreditHandler(t)

	tests := []struct {
		name     string
		target   string
		wantCode string
	}{
		{"no user", "/api/v1/usage", "MISSING_USER_ID"},
		{"bad limit", "/api/v1/usage?userId=u&limit=abc", "INVALID_LIMIT"},
		{"bad type", "/api/v1/usage?userId=u&type=gift", "INVALID_TYPE"},
		{"bad cursor", "/api/v1/usage?userId=u&cursor=@@@", "INVALID_CURSOR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ListUsage(w, newRequest(http.MethodGet, tt.target, "", ""))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
			if resp := decodeBody[dto.ErrorResponse](t, w); resp.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, resp.Code)
			}
		})
	}
}

// A new user sees the free minutes, talks for four minutes and is then
// out of credits.
func TestCreditFlow_NewUserExhaustsFreeMinutes(t *testing.T) {
	store := memory.New()
	svc := credit.NewService(store, credit.Config{FreeMinutes: model.DefaultFreeMinutes})
	credits := NewCreditHandler(svc, discardLogger())
	sessions := NewSessionHandler(svc, newGateway(t, &fakeCredentials{}), discardLogger(), nil)

	w := httptest.NewRecorder()
	credits.Get(w, newRequest(http.MethodGet, "/api/v1/credits", "", "user_new"))
	if resp := decodeBody[dto.CreditsResponse](t, w); resp.BalanceMinutes != 3 || !resp.CanStartSession {
		t.Fatalf("expected 3 free minutes, got %+v", resp)
	}

	w = httptest.NewRecorder()
	sessions.Start(w, newRequest(http.MethodPost, "/api/v1/session-start/sales", "", "user_new", "agentID", "sales"))
	if w.Code != http.StatusOK {
		t.Fatalf("session start: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	credits.RecordUsage(w, newRequest(http.MethodPost, "/api/v1/usage", `{"agentId":"sales","durationSeconds":240}`, "user_new"))
	if resp := decodeBody[dto.RecordUsageResponse](t, w); resp.MinutesCharged != 4 || resp.BillingType != string(model.BillingCredits) {
		t.Fatalf("unexpected usage result: %+v", resp)
	}

	w = httptest.NewRecorder()
	credits.Get(w, newRequest(http.MethodGet, "/api/v1/credits", "", "user_new"))
	resp := decodeBody[dto.CreditsResponse](t, w)
	if resp.BalanceMinutes != 0 || resp.CanStartSession {
		t.Errorf("expected balance 0 and canStartSession=false, got %+v", resp)
	}

	w = httptest.NewRecorder()
	sessions.Start(w, newRequest(http.MethodPost, "/api/v1/session-start/sales", "", "user_new", "agentID", "sales"))
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402 after exhausting credits, got %d", w.Code)
	}
}
