package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/voicecredits/voicecredits/internal/metrics"
	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/repository"
)

// ErrInvalidSignature is returned for webhook payloads that fail verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Webhook outcomes, also used as metric labels.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// ReconcileLedger is the part of the credit ledger webhook events write to.
type ReconcileLedger interface {
	GetAccountByCustomerID(ctx context.Context, customerID string) (*model.CreditAccount, error)
	CreditMinutes(ctx context.Context, seed *model.CreditAccount, minutes int) (*model.CreditAccount, error)
	ActivateSubscription(ctx context.Context, seed *model.CreditAccount, tier model.SubscriptionTier, allowance int, resetDate time.Time, customerID string) (*model.CreditAccount, error)
	CancelSubscription(ctx context.Context, customerID string) (*model.CreditAccount, error)
	SetStripeCustomerID(ctx context.Context, seed *model.CreditAccount, customerID string) error
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	ForgetEvent(ctx context.Context, eventID string) error
}

// AccountInvalidator drops cached account state after a write.
type AccountInvalidator interface {
	DeleteAccount(ctx context.Context, userID string) error
}

// ReconcilerConfig holds Reconciler settings.
type ReconcilerConfig struct {
	WebhookSecret  string
	FreeMinutes    int
	StorageTimeout time.Duration
	Cache          AccountInvalidator
	Logger         *slog.Logger
	Metrics        metrics.Recorder
	Now            func() time.Time
}

// Reconciler applies provider webhook events to the credit ledger. It is
// the only writer that increases a balance or an allowance.
type Reconciler struct {
	ledger      ReconcileLedger
	catalog     *Catalog
	secret      string
	freeMinutes int
	timeout     time.Duration
	cache       AccountInvalidator
	logger      *slog.Logger
	metrics     metrics.Recorder
	now         func() time.Time
}

// NewReconciler creates a Reconciler. Webhooks are rejected as unconfigured
// when ledger is nil or the secret is empty.
func NewReconciler(ledger ReconcileLedger, catalog *Catalog, cfg ReconcilerConfig) *Reconciler {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 3 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Reconciler{
		ledger:      ledger,
		catalog:     catalog,
		secret:      cfg.WebhookSecret,
		freeMinutes: cfg.FreeMinutes,
		timeout:     cfg.StorageTimeout,
		cache:       cfg.Cache,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
	}
}

// HandleWebhook verifies the signature header and applies the event.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	if r.ledger == nil || r.secret == "" {
		return "", ErrUnconfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, r.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return r.HandleEvent(ctx, event)
}

// HandleEvent applies a verified event once. Redelivered events report
// OutcomeDuplicate. A failed event is forgotten so the provider's retry can
// apply it.
func (r *Reconciler) HandleEvent(ctx context.Context, event stripe.Event) (string, error) {
	if r.ledger == nil {
		return "", ErrUnconfigured
	}

	eventType := string(event.Type)
	logger := r.logger.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", eventType),
	)

	first, err := r.withTimeout(ctx, func(ctx context.Context) (bool, error) {
		return r.ledger.MarkEventProcessed(ctx, event.ID, eventType)
	})
	if err != nil {
		r.metrics.IncWebhookEvent(eventType, OutcomeFailed)
		logger.Error("failed to record webhook event", slog.String("error", err.Error()))
		return OutcomeFailed, err
	}
	if !first {
		r.metrics.IncWebhookEvent(eventType, OutcomeDuplicate)
		logger.Info("duplicate webhook event skipped")
		return OutcomeDuplicate, nil
	}

	outcome, userID, err := r.apply(ctx, event)
	if err != nil {
		if _, ferr := r.withTimeout(context.WithoutCancel(ctx), func(ctx context.Context) (bool, error) {
			return true, r.ledger.ForgetEvent(ctx, event.ID)
		}); ferr != nil {
			logger.Error("failed to release webhook event", slog.String("error", ferr.Error()))
		}
		r.metrics.IncWebhookEvent(eventType, OutcomeFailed)
		logger.Error("failed to apply webhook event", slog.String("error", err.Error()))
		return OutcomeFailed, err
	}

	if userID != "" && r.cache != nil {
		if err := r.cache.DeleteAccount(ctx, userID); err != nil {
			logger.Warn("account cache invalidation failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.metrics.IncWebhookEvent(eventType, outcome)
	logger.Info("webhook event handled",
		slog.String("outcome", outcome),
		slog.String("user_id", userID),
	)
	return outcome, nil
}

// apply dispatches on event type and returns the outcome and the affected
// user id.
func (r *Reconciler) apply(ctx context.Context, event stripe.Event) (string, string, error) {
	if event.Data == nil {
		return OutcomeIgnored, "", nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return "", "", fmt.Errorf("decode checkout session: %w", err)
		}
		return r.applyCheckout(ctx, &sess)

	case stripe.EventTypeInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return "", "", fmt.Errorf("decode invoice: %w", err)
		}
		plan, periodEnd, _ := r.invoicePlan(&inv)
		return r.applyRenewal(ctx, customerIDOf(inv.Customer), plan, periodEnd)

	case stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", "", fmt.Errorf("decode subscription: %w", err)
		}
		return r.applySubscriptionUpdate(ctx, &sub)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", "", fmt.Errorf("decode subscription: %w", err)
		}
		return r.applyCancellation(ctx, customerIDOf(sub.Customer))
	}

	return OutcomeIgnored, "", nil
}

func (r *Reconciler) applyCheckout(ctx context.Context, sess *stripe.CheckoutSession) (string, string, error) {
	userID := sess.Metadata[MetaUserID]
	if userID == "" {
		userID = sess.ClientReferenceID
	}
	if userID == "" {
		r.logger.Warn("checkout session without user id", slog.String("session_id", sess.ID))
		return OutcomeIgnored, "", nil
	}

	// Async payment methods complete the session before the money arrives.
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		return OutcomeIgnored, userID, nil
	}

	customerID := customerIDOf(sess.Customer)
	now := r.now().UTC()
	seed := model.NewDefaultAccount(userID, r.freeMinutes, now)

	switch sess.Metadata[MetaKind] {
	case KindPackage:
		pkg, err := r.catalog.PackageByID(sess.Metadata[MetaItem])
		if err != nil {
			r.logger.Warn("checkout for unknown package",
				slog.String("session_id", sess.ID),
				slog.String("package", sess.Metadata[MetaItem]),
			)
			return OutcomeIgnored, userID, nil
		}

		if _, err := r.withTimeout(ctx, func(ctx context.Context) (bool, error) {
			_, err := r.ledger.CreditMinutes(ctx, seed, pkg.Minutes)
			return err == nil, err
		}); err != nil {
			return "", userID, err
		}

		if customerID != "" {
			r.linkCustomer(ctx, seed, customerID)
		}
		return OutcomeApplied, userID, nil

	case KindPlan:
		plan, err := r.catalog.PlanByID(sess.Metadata[MetaItem])
		if err != nil {
			r.logger.Warn("checkout for unknown plan",
				slog.String("session_id", sess.ID),
				slog.String("plan", sess.Metadata[MetaItem]),
			)
			return OutcomeIgnored, userID, nil
		}

		resetDate := now.AddDate(0, 1, 0)
		_, err = r.withTimeout(ctx, func(ctx context.Context) (bool, error) {
			_, err := r.ledger.ActivateSubscription(ctx, seed, plan.Tier, plan.MonthlyMinutes, resetDate, customerID)
			if errors.Is(err, repository.ErrCustomerConflict) {
				r.logger.Warn("billing customer already linked elsewhere, activating without link",
					slog.String("user_id", userID),
				)
				_, err = r.ledger.ActivateSubscription(ctx, seed, plan.Tier, plan.MonthlyMinutes, resetDate, "")
			}
			return err == nil, err
		})
		if err != nil {
			return "", userID, err
		}
		return OutcomeApplied, userID, nil
	}

	return OutcomeIgnored, userID, nil
}

// applyRenewal starts a new period for the account linked to customerID.
// The plan comes from what the invoice paid for, so a renewal also restores
// a subscription the lapsed sweep expired. A nil plan falls back to the
// account's current tier.
func (r *Reconciler) applyRenewal(ctx context.Context, customerID string, plan *Plan, periodEnd time.Time) (string, string, error) {
	if customerID == "" {
		return OutcomeIgnored, "", nil
	}

	var userID string
	_, err := r.withTimeout(ctx, func(ctx context.Context) (bool, error) {
		acct, err := r.ledger.GetAccountByCustomerID(ctx, customerID)
		if err != nil {
			return false, err
		}
		userID = acct.UserID

		if plan == nil {
			current, err := r.catalog.PlanForTier(acct.SubscriptionTier)
			if err != nil {
				return false, err
			}
			plan = &current
		}

		_, err = r.ledger.ActivateSubscription(ctx, acct, plan.Tier, plan.MonthlyMinutes, r.periodEnd(periodEnd), customerID)
		return err == nil, err
	})
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		// The checkout event has not linked the customer yet; activation
		// sets the allowance itself.
		return OutcomeIgnored, "", nil
	case errors.Is(err, ErrUnknownPlan):
		r.logger.Warn("paid invoice matches no catalog plan",
			slog.String("customer_id", customerID),
			slog.String("user_id", userID),
		)
		return OutcomeIgnored, userID, nil
	case err != nil:
		return "", userID, err
	}
	return OutcomeApplied, userID, nil
}

// applySubscriptionUpdate follows plan changes made in the billing portal
// and terminal status changes. Updates that keep the tier are left to the
// next paid invoice. A downgrade never refills the allowance.
func (r *Reconciler) applySubscriptionUpdate(ctx context.Context, sub *stripe.Subscription) (string, string, error) {
	customerID := customerIDOf(sub.Customer)

	switch sub.Status {
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return r.applyCancellation(ctx, customerID)
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
	default:
		return OutcomeIgnored, "", nil
	}

	plan, periodEnd, ok := r.subscriptionPlan(sub)
	if customerID == "" || !ok {
		return OutcomeIgnored, "", nil
	}

	var userID string
	changed, err := r.withTimeout(ctx, func(ctx context.Context) (bool, error) {
		acct, err := r.ledger.GetAccountByCustomerID(ctx, customerID)
		if err != nil {
			return false, err
		}
		userID = acct.UserID
		if acct.SubscriptionTier == plan.Tier {
			return false, nil
		}

		allowance := plan.MonthlyMinutes
		if old, err := r.catalog.PlanForTier(acct.SubscriptionTier); err == nil &&
			!old.Unlimited() && !plan.Unlimited() && plan.MonthlyMinutes < old.MonthlyMinutes {
			allowance = min(acct.SubscriptionMinutesRemaining, plan.MonthlyMinutes)
		}

		_, err = r.ledger.ActivateSubscription(ctx, acct, plan.Tier, allowance, r.periodEnd(periodEnd), customerID)
		return err == nil, err
	})
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		return OutcomeIgnored, "", nil
	case err != nil:
		return "", userID, err
	case !changed:
		return OutcomeIgnored, userID, nil
	}
	return OutcomeApplied, userID, nil
}

// invoicePlan resolves the plan an invoice paid for from its charged line
// prices, then from the subscription metadata snapshot.
func (r *Reconciler) invoicePlan(inv *stripe.Invoice) (*Plan, time.Time, bool) {
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			// Proration credits for the old price carry negative amounts.
			if line == nil || line.Amount < 0 || line.Pricing == nil || line.Pricing.PriceDetails == nil {
				continue
			}
			plan, err := r.catalog.PlanByPriceID(line.Pricing.PriceDetails.Price)
			if err != nil {
				continue
			}
			var end time.Time
			if line.Period != nil && line.Period.End > 0 {
				end = time.Unix(line.Period.End, 0).UTC()
			}
			return &plan, end, true
		}
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if plan, err := r.catalog.PlanByID(inv.Parent.SubscriptionDetails.Metadata[MetaItem]); err == nil {
			return &plan, time.Time{}, true
		}
	}
	return nil, time.Time{}, false
}

// subscriptionPlan resolves a subscription's current plan from its item
// prices, then from the metadata set at checkout.
func (r *Reconciler) subscriptionPlan(sub *stripe.Subscription) (Plan, time.Time, bool) {
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if plan, err := r.catalog.PlanByPriceID(item.Price.ID); err == nil {
				var end time.Time
				if item.CurrentPeriodEnd > 0 {
					end = time.Unix(item.CurrentPeriodEnd, 0).UTC()
				}
				return plan, end, true
			}
		}
	}
	if plan, err := r.catalog.PlanByID(sub.Metadata[MetaItem]); err == nil {
		return plan, time.Time{}, true
	}
	return Plan{}, time.Time{}, false
}

// periodEnd is the provider's period end, or one month from now when the
// event carries none or a stale one.
func (r *Reconciler) periodEnd(end time.Time) time.Time {
	now := r.now().UTC()
	if end.After(now) {
		return end
	}
	return now.AddDate(0, 1, 0)
}

func (r *Reconciler) applyCancellation(ctx context.Context, customerID string) (string, string, error) {
	if customerID == "" {
		return OutcomeIgnored, "", nil
	}

	var userID string
	_, err := r.withTimeout(ctx, func(ctx context.Context) (bool, error) {
		acct, err := r.ledger.CancelSubscription(ctx, customerID)
		if err != nil {
			return false, err
		}
		userID = acct.UserID
		return true, nil
	})
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		return OutcomeIgnored, "", nil
	case err != nil:
		return "", "", err
	}
	return OutcomeApplied, userID, nil
}

func (r *Reconciler) linkCustomer(ctx context.Context, seed *model.CreditAccount, customerID string) {
	_, err := r.withTimeout(ctx, func(ctx context.Context) (bool, error) {
		err := r.ledger.SetStripeCustomerID(ctx, seed, customerID)
		return err == nil, err
	})
	if err != nil {
		r.logger.Warn("failed to link billing customer",
			slog.String("user_id", seed.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reconciler) withTimeout(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return fn(ctx)
}

func customerIDOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
