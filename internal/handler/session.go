package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voicecredits/voicecredits/internal/auth"
	"github.com/voicecredits/voicecredits/internal/credit"
	"github.com/voicecredits/voicecredits/internal/handler/dto"
	"github.com/voicecredits/voicecredits/internal/identity"
	"github.com/voicecredits/voicecredits/internal/metrics"
	"github.com/voicecredits/voicecredits/internal/middleware"
	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/voice"
)

// SessionHandler starts voice sessions behind the credit gate.
type SessionHandler struct {
	credits *credit.Service
	voice   *voice.Gateway
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(credits *credit.Service, gw *voice.Gateway, logger *slog.Logger, recorder metrics.Recorder) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &SessionHandler{
		credits: credits,
		voice:   gw,
		logger:  logger,
		metrics: recorder,
		now:     time.Now,
	}
}

// Agents handles GET /api/v1/agents.
func (h *SessionHandler) Agents(w http.ResponseWriter, r *http.Request) {
	agents := h.voice.Agents()
	if agents == nil {
		agents = []voice.Agent{}
	}
	writeJSON(w, http.StatusOK, dto.AgentListResponse{
		Agents:     agents,
		Configured: h.voice.Configured(),
	})
}

// Start handles POST /api/v1/session-start/{agentID}.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.voice.Configured() {
		internalError(h.logger, w, r, "VOICE_UNCONFIGURED", voice.ErrUnconfigured)
		return
	}

	agent, err := h.voice.Lookup(chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, "AGENT_NOT_FOUND", "Unknown agent")
		return
	}

	var req dto.SessionStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	id := identity.Resolve(auth.UserIDFromContext(r.Context()), req.Email, h.now())

	var decision *model.GateDecision
	if id.Metered() {
		d, err := h.credits.CanStartSession(r.Context(), id.ID)
		if err != nil {
			internalError(h.logger, w, r, "GATE_FAILED", err)
			return
		}
		if !d.CanStart {
			h.logger.Info("session_denied",
				slog.String("user_id", id.ID),
				slog.String("agent", agent.Slug),
			)
			writeJSON(w, http.StatusPaymentRequired, dto.PaymentRequiredResponse{
				Error:           "Insufficient credits",
				Code:            "INSUFFICIENT_CREDITS",
				RequiresPayment: true,
			})
			return
		}
		decision = &d
	} else {
		h.metrics.IncGateDecision(metrics.GateDemo)
	}

	sess, err := h.voice.Start(r.Context(), agent)
	if err != nil {
		if errors.Is(err, voice.ErrUnconfigured) {
			internalError(h.logger, w, r, "VOICE_UNCONFIGURED", err)
			return
		}
		internalError(h.logger, w, r, "VOICE_UNAVAILABLE", err)
		return
	}

	h.logger.Info("session_started",
		slog.String("user_id", id.ID),
		slog.String("identity", string(id.Kind)),
		slog.String("agent", agent.Slug),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)

	writeJSON(w, http.StatusOK, dto.ToSessionStartResponse(sess, id, decision))
}
