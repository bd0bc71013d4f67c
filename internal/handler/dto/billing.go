package dto

import "github.com/voicecredits/voicecredits/internal/billing"

// CatalogResponse lists purchasable packages and plans.
type CatalogResponse struct {
	Packages   []billing.Package `json:"packages"`
	Plans      []billing.Plan    `json:"plans"`
	Configured bool              `json:"configured"`
}

// CheckoutRequest is the body of the checkout and subscribe endpoints.
// ItemID names a package for checkout and a plan for subscribe.
type CheckoutRequest struct {
	Email  string `json:"email,omitempty"`
	ItemID string `json:"itemId"`
}

// CheckoutResponse points the client at the hosted checkout page.
type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// PortalRequest is the optional body of POST /api/v1/billing/portal.
type PortalRequest struct {
	Email string `json:"email,omitempty"`
}

// PortalResponse points the client at the billing portal.
type PortalResponse struct {
	URL string `json:"url"`
}

// WebhookResponse acknowledges a provider event.
type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}
