// Package billing adapts the payment provider: product catalog, checkout and
// portal sessions, and webhook reconciliation into the credit ledger.
package billing

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/voicecredits/voicecredits/internal/model"
)

// Catalog errors.
var (
	ErrUnknownPackage     = errors.New("unknown package")
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrItemNotPurchasable = errors.New("item has no price configured")
)

// Package is a one-time bundle of purchased minutes.
type Package struct {
	ID          string `toml:"id" json:"id"`
	Name        string `toml:"name" json:"name"`
	Minutes     int    `toml:"minutes" json:"minutes"`
	PriceID     string `toml:"price_id" json:"-"`
	AmountCents int64  `toml:"amount_cents" json:"amountCents"`
	Currency    string `toml:"currency" json:"currency"`
}

// Plan is a monthly subscription with a minute allowance.
type Plan struct {
	ID             string                 `toml:"id" json:"id"`
	Name           string                 `toml:"name" json:"name"`
	Tier           model.SubscriptionTier `toml:"tier" json:"tier"`
	MonthlyMinutes int                    `toml:"monthly_minutes" json:"monthlyMinutes"`
	PriceID        string                 `toml:"price_id" json:"-"`
	AmountCents    int64                  `toml:"amount_cents" json:"amountCents"`
	Currency       string                 `toml:"currency" json:"currency"`
}

// Unlimited reports whether the plan has no minute allowance.
func (p Plan) Unlimited() bool {
	return p.Tier == model.TierUnlimited
}

// Catalog is the set of purchasable packages and plans.
type Catalog struct {
	Packages []Package `toml:"packages" json:"packages"`
	Plans    []Plan    `toml:"plans" json:"plans"`
}

// DefaultCatalog returns the compiled-in catalog. Price ids are empty until
// overridden, so nothing is purchasable out of the box.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Packages: []Package{
			{ID: "starter", Name: "Starter", Minutes: 10, AmountCents: 900, Currency: "usd"},
			{ID: "standard", Name: "Standard", Minutes: 30, AmountCents: 2400, Currency: "usd"},
			{ID: "pro", Name: "Pro", Minutes: 60, AmountCents: 4500, Currency: "usd"},
		},
		Plans: []Plan{
			{ID: "basic", Name: "Basic", Tier: model.TierBasic, MonthlyMinutes: 60, AmountCents: 2900, Currency: "usd"},
			{ID: "professional", Name: "Professional", Tier: model.TierProfessional, MonthlyMinutes: 200, AmountCents: 7900, Currency: "usd"},
			{ID: "unlimited", Name: "Unlimited", Tier: model.TierUnlimited, AmountCents: 19900, Currency: "usd"},
		},
	}
}

// LoadCatalog returns the default catalog overridden by the TOML file at
// path. Entries are matched by id; zero-valued fields keep the default and
// unknown ids are added. An empty path returns the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer file.Close()

	var override Catalog
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&override); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	cat.merge(&override)

	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Validate checks ids are unique and amounts make sense.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool)
	for _, p := range c.Packages {
		if p.ID == "" {
			return errors.New("catalog: package id is required")
		}
		if seen["package:"+p.ID] {
			return fmt.Errorf("catalog: duplicate package %q", p.ID)
		}
		seen["package:"+p.ID] = true
		if p.Minutes <= 0 {
			return fmt.Errorf("catalog: package %q must grant at least one minute", p.ID)
		}
	}
	for _, p := range c.Plans {
		if p.ID == "" {
			return errors.New("catalog: plan id is required")
		}
		if seen["plan:"+p.ID] {
			return fmt.Errorf("catalog: duplicate plan %q", p.ID)
		}
		seen["plan:"+p.ID] = true
		if !p.Tier.IsValid() || p.Tier == model.TierNone {
			return fmt.Errorf("catalog: plan %q has invalid tier %q", p.ID, p.Tier)
		}
		if !p.Unlimited() && p.MonthlyMinutes <= 0 {
			return fmt.Errorf("catalog: plan %q must grant a monthly allowance", p.ID)
		}
	}
	return nil
}

// PackageByID looks up a package.
func (c *Catalog) PackageByID(id string) (Package, error) {
	for _, p := range c.Packages {
		if p.ID == id {
			return p, nil
		}
	}
	return Package{}, ErrUnknownPackage
}

// PlanByID looks up a plan.
func (c *Catalog) PlanByID(id string) (Plan, error) {
	for _, p := range c.Plans {
		if p.ID == id {
			return p, nil
		}
	}
	return Plan{}, ErrUnknownPlan
}

// PlanByPriceID returns the plan billed under a provider price id.
func (c *Catalog) PlanByPriceID(priceID string) (Plan, error) {
	if priceID == "" {
		return Plan{}, ErrUnknownPlan
	}
	for _, p := range c.Plans {
		if p.PriceID == priceID {
			return p, nil
		}
	}
	return Plan{}, ErrUnknownPlan
}

// PlanForTier returns the first plan granting tier.
func (c *Catalog) PlanForTier(tier model.SubscriptionTier) (Plan, error) {
	for _, p := range c.Plans {
		if p.Tier == tier {
			return p, nil
		}
	}
	return Plan{}, ErrUnknownPlan
}

func (c *Catalog) merge(o *Catalog) {
	for _, op := range o.Packages {
		found := false
		for j := range c.Packages {
			if c.Packages[j].ID == op.ID {
				mergePackage(&c.Packages[j], op)
				found = true
				break
			}
		}
		if !found {
			c.Packages = append(c.Packages, op)
		}
	}

	for _, op := range o.Plans {
		found := false
		for j := range c.Plans {
			if c.Plans[j].ID == op.ID {
				mergePlan(&c.Plans[j], op)
				found = true
				break
			}
		}
		if !found {
			c.Plans = append(c.Plans, op)
		}
	}
}

func mergePackage(dst *Package, src Package) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Minutes != 0 {
		dst.Minutes = src.Minutes
	}
	if src.PriceID != "" {
		dst.PriceID = src.PriceID
	}
	if src.AmountCents != 0 {
		dst.AmountCents = src.AmountCents
	}
	if src.Currency != "" {
		dst.Currency = src.Currency
	}
}

func mergePlan(dst *Plan, src Plan) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Tier != "" {
		dst.Tier = src.Tier
	}
	if src.MonthlyMinutes != 0 {
		dst.MonthlyMinutes = src.MonthlyMinutes
	}
	if src.PriceID != "" {
		dst.PriceID = src.PriceID
	}
	if src.AmountCents != 0 {
		dst.AmountCents = src.AmountCents
	}
	if src.Currency != "" {
		dst.Currency = src.Currency
	}
}
