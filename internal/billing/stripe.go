package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// DefaultProviderTimeout bounds every provider call.
const DefaultProviderTimeout = 10 * time.Second

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	api     *client.API
	timeout time.Duration
}

// NewStripeProvider creates a provider using secretKey. A non-positive
// timeout uses DefaultProviderTimeout.
func NewStripeProvider(secretKey string, timeout time.Duration) *StripeProvider {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &StripeProvider{
		api:     client.New(secretKey, nil),
		timeout: timeout,
	}
}

// CreatePackageCheckout creates a one-time payment checkout for a package.
func (p *StripeProvider) CreatePackageCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	return p.createCheckout(ctx, stripe.CheckoutSessionModePayment, req)
}

// CreateSubscriptionCheckout creates a recurring checkout for a plan.
func (p *StripeProvider) CreateSubscriptionCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	return p.createCheckout(ctx, stripe.CheckoutSessionModeSubscription, req)
}

func (p *StripeProvider) createCheckout(ctx context.Context, mode stripe.CheckoutSessionMode, req CheckoutRequest) (*CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	metadata := map[string]string{
		MetaUserID: req.UserID,
		MetaKind:   req.Kind,
		MetaItem:   req.ItemID,
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		Metadata:          metadata,
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())

	switch {
	case req.CustomerID != "":
		params.Customer = stripe.String(req.CustomerID)
	case req.Email != "":
		params.CustomerEmail = stripe.String(req.Email)
	}

	// Subscription events carry the subscription's metadata, not the session's.
	if mode == stripe.CheckoutSessionModeSubscription {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: metadata}
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %v", ErrProviderUnavailable, err)
	}

	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// FindOrCreateCustomer returns the id of the customer with email, creating
// one if none exists.
func (p *StripeProvider) FindOrCreateCustomer(ctx context.Context, email, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	iter := p.api.Customers.List(listParams)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("%w: list customers: %v", ErrProviderUnavailable, err)
	}

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata(MetaUserID, userID)
	params.SetIdempotencyKey(uuid.NewString())

	cust, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", ErrProviderUnavailable, err)
	}

	return cust.ID, nil
}

// CreatePortalSession opens the billing portal for a customer.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create portal session: %v", ErrProviderUnavailable, err)
	}

	return &PortalSession{URL: sess.URL}, nil
}
