package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voicecredits/voicecredits/internal/auth"
	"github.com/voicecredits/voicecredits/internal/model"
)

type fakeKeyStore struct {
	mu       sync.Mutex
	keys     []*model.AccessKey
	lookups  int
	lastUsed chan string
	err      error
}

func (f *fakeKeyStore) GetAccessKeysByPrefix(_ context.Context, prefix string) ([]*model.AccessKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	var out []*model.AccessKey
	for _, k := range f.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeKeyStore) UpdateAccessKeyLastUsed(_ context.Context, id string) error {
	if f.lastUsed != nil {
		f.lastUsed <- id
	}
	return nil
}

type fakeAuthCache struct {
	mu      sync.Mutex
	entries map[string]*model.AuthContext
}

func (f *fakeAuthCache) GetAuthContext(_ context.Context, key string) (*model.AuthContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[key], nil
}

func (f *fakeAuthCache) SetAuthContext(_ context.Context, key string, a *model.AuthContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = a
	return nil
}

func newKey(t *testing.T, userID string) (string, *model.AccessKey) {
	t.Helper()
	gen, err := auth.GenerateAccessKey(auth.EnvTest)
	if err != nil {
		t.Fatalf("GenerateAccessKey: %v", err)
	}
	return gen.Plaintext, &model.AccessKey{
		ID:        "key_" + userID,
		UserID:    userID,
		KeyHash:   gen.Hash,
		KeyPrefix: gen.Prefix,
		CreatedAt: time.Now(),
	}
}

// userEcho writes the authenticated user id, or "anonymous".
var userEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id := auth.UserIDFromContext(r.Context())
	if id == "" {
		id = "anonymous"
	}
	_, _ = w.Write([]byte(id))
})

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	plaintext, key := newKey(t, "user_1")
	revokedPlain, revoked := newKey(t, "user_2")
	now := time.Now()
	revoked.RevokedAt = &now

	store := &fakeKeyStore{keys: []*model.AccessKey{key, revoked}, lastUsed: make(chan string, 4)}
	handler := Authenticate(AuthConfig{Keys: store})(userEcho)

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantBody   string
	}{
		{"no key is anonymous", "", "", http.StatusOK, "anonymous"},
		{"bearer key", "Authorization", "Bearer " + plaintext, http.StatusOK, "user_1"},
		{"x-api-key header", "X-API-Key", plaintext, http.StatusOK, "user_1"},
		{"malformed key", "Authorization", "Bearer not-a-key", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong secret", "X-API-Key", plaintext[:len(plaintext)-4] + "0000", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"revoked key", "X-API-Key", revokedPlain, http.StatusUnauthorized, "UNAUTHORIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	select {
	case id := <-store.lastUsed:
		if id != key.ID {
			t.Errorf("last used updated for %q, want %q", id, key.ID)
		}
	case <-time.After(2 * time.Second):
		t.Error("last used was not updated")
	}
}

func TestAuthenticate_UsesCache(t *testing.T) {
	t.Parallel()

	plaintext, key := newKey(t, "user_cached")
	store := &fakeKeyStore{keys: []*model.AccessKey{key}}
	cache := &fakeAuthCache{entries: make(map[string]*model.AuthContext)}
	handler := Authenticate(AuthConfig{Keys: store, Cache: cache})(userEcho)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+plaintext)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Body.String() != "user_cached" {
			t.Fatalf("request %d body = %q", i, rec.Body.String())
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.lookups != 1 {
		t.Errorf("store lookups = %d, want 1", store.lookups)
	}
}

func TestAuthenticate_StoreFailureRejects(t *testing.T) {
	t.Parallel()

	plaintext, _ := newKey(t, "user_1")
	store := &fakeKeyStore{err: errors.New("connection refused")}
	handler := Authenticate(AuthConfig{Keys: store})(userEcho)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", plaintext)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticate_MinDuration(t *testing.T) {
	t.Parallel()

	handler := Authenticate(AuthConfig{Keys: &fakeKeyStore{}, MinDuration: 50 * time.Millisecond})(userEcho)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "garbage")
	start := time.Now()
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("rejection took %v, want at least 50ms", elapsed)
	}
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()

	handler := RequireAuth(userEcho)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.ContextWithAuth(req.Context(), &model.AuthContext{UserID: "user_9"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "user_9" {
		t.Errorf("authenticated status = %d body = %q", rec.Code, rec.Body.String())
	}
}
