package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/voicecredits/voicecredits/internal/auth"
	"github.com/voicecredits/voicecredits/internal/billing"
	"github.com/voicecredits/voicecredits/internal/handler/dto"
	"github.com/voicecredits/voicecredits/internal/identity"
)

// BillingHandler serves checkout, portal and provider webhooks.
type BillingHandler struct {
	svc        *billing.Service
	reconciler *billing.Reconciler
	logger     *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(svc *billing.Service, reconciler *billing.Reconciler, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{svc: svc, reconciler: reconciler, logger: logger}
}

// Catalog handles GET /api/v1/billing/catalog.
func (h *BillingHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	cat := h.svc.Catalog()
	writeJSON(w, http.StatusOK, dto.CatalogResponse{
		Packages:   cat.Packages,
		Plans:      cat.Plans,
		Configured: h.svc.Configured(),
	})
}

// Checkout handles POST /api/v1/billing/checkout.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	h.checkout(w, r, h.svc.Checkout)
}

// Subscribe handles POST /api/v1/billing/subscribe.
func (h *BillingHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	h.checkout(w, r, h.svc.Subscribe)
}

type checkoutFunc func(ctx context.Context, in billing.CheckoutInput) (*billing.CheckoutSession, error)

func (h *BillingHandler) checkout(w http.ResponseWriter, r *http.Request, create checkoutFunc) {
	var req dto.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	email := identity.NormalizeEmail(req.Email)
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" && email != "" {
		userID = identity.EmailUserID(email)
	}

	sess, err := create(r.Context(), billing.CheckoutInput{
		UserID: userID,
		Email:  email,
		ItemID: req.ItemID,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.CheckoutResponse{SessionID: sess.ID, URL: sess.URL})
}

// Portal handles POST /api/v1/billing/portal. Requires an authenticated
// caller; email is only needed before a billing customer is linked.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	var req dto.PortalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	sess, err := h.svc.Portal(r.Context(), auth.UserIDFromContext(r.Context()), identity.NormalizeEmail(req.Email))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PortalResponse{URL: sess.URL})
}

// Webhook handles POST /api/v1/billing/webhook.
// A non-2xx answer makes the provider redeliver the event.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeDecodeError(w, r, err)
		return
	}

	outcome, err := h.reconciler.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.WebhookResponse{Received: true, Outcome: outcome})
}

// handleServiceError maps billing errors to HTTP responses.
func (h *BillingHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, billing.ErrMissingUserID):
		writeError(w, r, http.StatusBadRequest, "MISSING_USER_ID", "email is required")
	case errors.Is(err, billing.ErrMissingItem):
		writeError(w, r, http.StatusBadRequest, "MISSING_ITEM", "itemId is required")
	case errors.Is(err, billing.ErrUnknownPackage), errors.Is(err, billing.ErrUnknownPlan):
		writeError(w, r, http.StatusBadRequest, "INVALID_ITEM", "itemId is not in the catalog")
	case errors.Is(err, billing.ErrNoCustomer):
		writeError(w, r, http.StatusBadRequest, "MISSING_EMAIL", "email is required to open the billing portal")
	case errors.Is(err, billing.ErrInvalidSignature):
		h.logger.Warn("webhook_rejected",
			slog.String("error", err.Error()),
			slog.String("ip", r.RemoteAddr),
		)
		writeError(w, r, http.StatusBadRequest, "INVALID_SIGNATURE", "Invalid webhook signature")
	case errors.Is(err, billing.ErrUnconfigured), errors.Is(err, billing.ErrItemNotPurchasable):
		internalError(h.logger, w, r, "BILLING_UNCONFIGURED", err)
	case errors.Is(err, billing.ErrProviderUnavailable):
		internalError(h.logger, w, r, "PAYMENT_PROVIDER_UNAVAILABLE", err)
	default:
		internalError(h.logger, w, r, "INTERNAL_ERROR", err)
	}
}
