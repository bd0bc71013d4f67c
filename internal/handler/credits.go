package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/voicecredits/voicecredits/internal/auth"
	"github.com/voicecredits/voicecredits/internal/credit"
	"github.com/voicecredits/voicecredits/internal/handler/dto"
	"github.com/voicecredits/voicecredits/internal/identity"
	"github.com/voicecredits/voicecredits/internal/model"
)

// CreditHandler serves credit balances and usage.
type CreditHandler struct {
	svc    *credit.Service
	logger *slog.Logger
}

// NewCreditHandler creates a new CreditHandler.
func NewCreditHandler(svc *credit.Service, logger *slog.Logger) *CreditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreditHandler{svc: svc, logger: logger}
}

// Get handles GET /api/v1/credits. Requires an authenticated caller.
func (h *CreditHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	view, err := h.svc.GetCredits(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToCreditsResponse(view))
}

// RecordUsage handles POST /api/v1/usage.
func (h *CreditHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req dto.RecordUsageRequest
	if err := decodeJSON(r, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "durationSeconds" {
			writeError(w, r, http.StatusBadRequest, "INVALID_DURATION", "durationSeconds must be a number")
			return
		}
		writeDecodeError(w, r, err)
		return
	}

	id, ok := h.resolveUser(r, req.UserID, req.Email)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "MISSING_USER_ID", "userId is required")
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		writeError(w, r, http.StatusBadRequest, "MISSING_AGENT_ID", "agentId is required")
		return
	}
	if req.DurationSeconds == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DURATION", "durationSeconds must be a number")
		return
	}

	seconds := *req.DurationSeconds
	if seconds < 0 || seconds > math.MaxInt32 {
		writeError(w, r, http.StatusBadRequest, "INVALID_DURATION", "durationSeconds must be a non-negative number")
		return
	}

	result, err := h.svc.RecordSession(r.Context(), id, strings.TrimSpace(req.AgentID), int(math.Ceil(seconds)))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToRecordUsageResponse(id.ID, result))
}

// ListUsage handles GET /api/v1/usage.
// An authenticated caller always sees their own history; otherwise the
// userId or email query parameter selects it.
func (h *CreditHandler) ListUsage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	id, ok := h.resolveUser(r, query.Get("userId"), query.Get("email"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "MISSING_USER_ID", "userId is required")
		return
	}

	limit := credit.DefaultUsageLimit
	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			writeError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	var types []model.BillingType
	if t := query.Get("type"); t != "" {
		for _, part := range strings.Split(t, ",") {
			bt := model.BillingType(strings.TrimSpace(part))
			if !bt.IsValid() {
				writeError(w, r, http.StatusBadRequest, "INVALID_TYPE", "type must be subscription, credits or none")
				return
			}
			types = append(types, bt)
		}
	}

	// Demo ids are never persisted.
	if !id.Metered() || !h.svc.Configured() {
		writeJSON(w, http.StatusOK, dto.ToUsageListResponse(id.ID, &credit.UsagePage{}))
		return
	}

	page, err := h.svc.ListUsage(r.Context(), credit.UsageQuery{
		UserID:       id.ID,
		BillingTypes: types,
		Cursor:       query.Get("cursor"),
		Limit:        limit,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUsageListResponse(id.ID, page))
}

// resolveUser picks the caller: the authenticated user, then an explicit
// user id, then an email.
func (h *CreditHandler) resolveUser(r *http.Request, userID, email string) (model.Identity, bool) {
	if authID := auth.UserIDFromContext(r.Context()); authID != "" {
		return model.Identity{Kind: model.IdentityAuthenticated, ID: authID}, true
	}
	if id, ok := identity.FromUserID(userID); ok {
		return id, true
	}
	if e := identity.NormalizeEmail(email); e != "" {
		return model.Identity{Kind: model.IdentityEmail, ID: identity.EmailUserID(e)}, true
	}
	return model.Identity{}, false
}

// handleServiceError maps credit service errors to HTTP responses.
func (h *CreditHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, credit.ErrMissingUserID):
		writeError(w, r, http.StatusBadRequest, "MISSING_USER_ID", "userId is required")
	case errors.Is(err, credit.ErrMissingAgentID):
		writeError(w, r, http.StatusBadRequest, "MISSING_AGENT_ID", "agentId is required")
	case errors.Is(err, credit.ErrInvalidDuration):
		writeError(w, r, http.StatusBadRequest, "INVALID_DURATION", "durationSeconds must be a non-negative number")
	case errors.Is(err, credit.ErrInvalidCursor):
		writeError(w, r, http.StatusBadRequest, "INVALID_CURSOR", "cursor is invalid")
	case errors.Is(err, credit.ErrUnconfigured):
		internalError(h.logger, w, r, "CREDITS_UNCONFIGURED", err)
	default:
		internalError(h.logger, w, r, "INTERNAL_ERROR", err)
	}
}
