package billing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/voicecredits/voicecredits/internal/metrics"
	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/repository"
)

// Service errors.
var (
	ErrUnconfigured  = errors.New("billing is not configured")
	ErrMissingUserID = errors.New("userId is required")
	ErrMissingItem   = errors.New("item is required")
	ErrNoCustomer    = errors.New("no billing customer for this account")
)

// CustomerLedger is the part of the credit ledger checkout needs.
type CustomerLedger interface {
	GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error)
	SetStripeCustomerID(ctx context.Context, seed *model.CreditAccount, customerID string) error
}

// ServiceConfig holds Service settings.
type ServiceConfig struct {
	SiteURL        string
	FreeMinutes    int
	StorageTimeout time.Duration
	Logger         *slog.Logger
	Metrics        metrics.Recorder
	Now            func() time.Time
}

// Service creates checkout and portal sessions for users.
type Service struct {
	catalog     *Catalog
	provider    Provider
	ledger      CustomerLedger
	siteURL     string
	freeMinutes int
	timeout     time.Duration
	logger      *slog.Logger
	metrics     metrics.Recorder
	now         func() time.Time
}

// NewService creates a billing Service. A nil provider leaves checkout
// unconfigured; the catalog is still served.
func NewService(catalog *Catalog, provider Provider, ledger CustomerLedger, cfg ServiceConfig) *Service {
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

	return &Service{
		catalog:     catalog,
		provider:    provider,
		ledger:      ledger,
		siteURL:     strings.TrimRight(cfg.SiteURL, "/"),
		freeMinutes: cfg.FreeMinutes,
		timeout:     cfg.StorageTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
	}
}

// Configured reports whether checkout can be created.
func (s *Service) Configured() bool {
	return s.provider != nil
}

// Catalog returns the product catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// CheckoutInput identifies the buyer and the item.
type CheckoutInput struct {
	UserID string
	Email  string
	ItemID string
}

// Checkout creates a one-time checkout for a minute package.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutSession, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	pkg, err := s.catalog.PackageByID(in.ItemID)
	if err != nil {
		return nil, err
	}
	if pkg.PriceID == "" {
		return nil, ErrItemNotPurchasable
	}

	req := s.checkoutRequest(ctx, in, KindPackage, pkg.PriceID)
	sess, err := s.provider.CreatePackageCheckout(ctx, req)
	if err != nil {
		s.logger.Error("failed to create checkout",
			slog.String("user_id", in.UserID),
			slog.String("package", pkg.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.metrics.IncCheckoutCreated(KindPackage)
	s.logger.Info("checkout created",
		slog.String("user_id", in.UserID),
		slog.String("package", pkg.ID),
		slog.String("session_id", sess.ID),
	)
	return sess, nil
}

// Subscribe creates a recurring checkout for a plan.
func (s *Service) Subscribe(ctx context.Context, in CheckoutInput) (*CheckoutSession, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	plan, err := s.catalog.PlanByID(in.ItemID)
	if err != nil {
		return nil, err
	}
	if plan.PriceID == "" {
		return nil, ErrItemNotPurchasable
	}

	req := s.checkoutRequest(ctx, in, KindPlan, plan.PriceID)
	sess, err := s.provider.CreateSubscriptionCheckout(ctx, req)
	if err != nil {
		s.logger.Error("failed to create subscription checkout",
			slog.String("user_id", in.UserID),
			slog.String("plan", plan.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.metrics.IncCheckoutCreated(KindPlan)
	s.logger.Info("subscription checkout created",
		slog.String("user_id", in.UserID),
		slog.String("plan", plan.ID),
		slog.String("session_id", sess.ID),
	)
	return sess, nil
}

// Portal opens the self-service billing portal for userID. When the account
// has no linked customer and email is given, the customer is looked up or
// created at the provider and linked.
func (s *Service) Portal(ctx context.Context, userID, email string) (*PortalSession, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if s.provider == nil {
		return nil, ErrUnconfigured
	}

	customerID := s.linkedCustomer(ctx, userID)
	if customerID == "" {
		if email == "" {
			return nil, ErrNoCustomer
		}

		var err error
		customerID, err = s.provider.FindOrCreateCustomer(ctx, email, userID)
		if err != nil {
			return nil, err
		}
		s.linkCustomer(ctx, userID, customerID)
	}

	return s.provider.CreatePortalSession(ctx, customerID, s.siteURL+"/account")
}

func (s *Service) validate(in CheckoutInput) error {
	switch {
	case in.UserID == "":
		return ErrMissingUserID
	case in.ItemID == "":
		return ErrMissingItem
	case s.provider == nil:
		return ErrUnconfigured
	}
	return nil
}

func (s *Service) checkoutRequest(ctx context.Context, in CheckoutInput, kind, priceID string) CheckoutRequest {
	return CheckoutRequest{
		UserID:     in.UserID,
		CustomerID: s.linkedCustomer(ctx, in.UserID),
		Email:      in.Email,
		Kind:       kind,
		ItemID:     in.ItemID,
		PriceID:    priceID,
		SuccessURL: s.siteURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.siteURL + "/billing/cancel",
	}
}

// linkedCustomer returns the customer linked to userID, or "" when none is
// linked or the ledger cannot be read.
func (s *Service) linkedCustomer(ctx context.Context, userID string) string {
	if s.ledger == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	acct, err := s.ledger.GetAccount(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrAccountNotFound) {
			s.logger.Warn("failed to read billing customer",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		return ""
	}
	return acct.StripeCustomerID
}

func (s *Service) linkCustomer(ctx context.Context, userID, customerID string) {
	if s.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	seed := model.NewDefaultAccount(userID, s.freeMinutes, s.now().UTC())
	if err := s.ledger.SetStripeCustomerID(ctx, seed, customerID); err != nil {
		s.logger.Warn("failed to link billing customer",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}
