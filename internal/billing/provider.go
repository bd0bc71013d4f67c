package billing

import (
	"context"
	"errors"
)

// ErrProviderUnavailable wraps failures talking to the payment provider.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// Checkout metadata keys, echoed back by the provider on webhook events.
const (
	MetaUserID = "user_id"
	MetaKind   = "kind"
	MetaItem   = "item"
)

// Checkout kinds.
const (
	KindPackage = "package"
	KindPlan    = "plan"
)

// CheckoutRequest describes a hosted checkout to create.
type CheckoutRequest struct {
	UserID     string
	CustomerID string
	Email      string
	Kind       string
	ItemID     string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a created hosted checkout page.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PortalSession is a created self-service billing portal page.
type PortalSession struct {
	URL string `json:"url"`
}

// Provider creates checkout, customer and portal objects at the payment
// provider.
type Provider interface {
	CreatePackageCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreateSubscriptionCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	FindOrCreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)
}
