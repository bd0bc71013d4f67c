package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/voicecredits/voicecredits/internal/auth"
	"github.com/voicecredits/voicecredits/internal/handler/dto"
	"github.com/voicecredits/voicecredits/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRequest builds a request with an optional JSON body, an optional
// authenticated user and chi URL params given as key/value pairs.
func newRequest(method, target, body, userID string, params ...string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	ctx := req.Context()
	if userID != "" {
		ctx = auth.ContextWithAuth(ctx, &model.AuthContext{UserID: userID})
	}
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for i := 0; i+1 < len(params); i += 2 {
			rctx.URLParams.Add(params[i], params[i+1])
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func serveHandler(fn http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHandler_Index(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.Index(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	response := decodeBody[map[string]string](t, rec)
	if response["service"] != "voicecredits" {
		t.Errorf("unexpected service: %s", response["service"])
	}
}

func TestHandler_NotFound(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nonexistent", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}

	response := decodeBody[dto.ErrorResponse](t, rec)
	if response.Code != "NOT_FOUND" {
		t.Errorf("unexpected error code: %s", response.Code)
	}
	if response.RequestID != "" {
		t.Errorf("client errors should not carry a request id, got %q", response.RequestID)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.MethodNotAllowed(rec, httptest.NewRequest(http.MethodPut, "/", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}

	response := decodeBody[dto.ErrorResponse](t, rec)
	if response.Error != "Method not allowed" {
		t.Errorf("unexpected error message: %s", response.Error)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"empty body", "", http.StatusOK},
		{"valid", `{"email":"a@b.co"}`, http.StatusOK},
		{"malformed", `{"email":`, http.StatusBadRequest},
		{"wrong type", `{"email":42}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v dto.SessionStartRequest
			req := newRequest(http.MethodPost, "/", tt.body, "")
			rec := httptest.NewRecorder()
			if err := decodeJSON(req, &v); err != nil {
				writeDecodeError(rec, req, err)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}
