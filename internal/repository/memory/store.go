// Package memory is an in-process ledger used by tests and by deployments
// without a database. State is lost on restart.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/repository"
)

// Store is a mutex-guarded ledger holding accounts, usage records and
// processed webhook events in maps. The zero value is not usable; call New.
type Store struct {
	mu sync.RWMutex

	accounts map[string]*model.CreditAccount
	usage    []*model.UsageRecord
	events   map[string]string

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*model.CreditAccount),
		usage:    make([]*model.UsageRecord, 0),
		events:   make(map[string]string),
		now:      time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Account storage

// GetAccount returns a copy of the account for userID, or
// repository.ErrAccountNotFound.
func (s *Store) GetAccount(_ context.Context, userID string) (*model.CreditAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[userID]; ok {
		return clone(a), nil
	}
	return nil, repository.ErrAccountNotFound
}

// GetAccountByCustomerID returns the account linked to a Stripe customer.
func (s *Store) GetAccountByCustomerID(_ context.Context, customerID string) (*model.CreditAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a := s.byCustomer(customerID); a != nil {
		return clone(a), nil
	}
	return nil, repository.ErrAccountNotFound
}

// EnsureAccount stores seed unless userID already has an account.
func (s *Store) EnsureAccount(_ context.Context, seed *model.CreditAccount) (*model.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return clone(s.ensure(seed)), nil
}

// DeductUsage charges record against the account with the same source
// priority and zero floor as the Postgres ledger, then appends record.
func (s *Store) DeductUsage(_ context.Context, seed *model.CreditAccount, record *model.UsageRecord) (*model.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.ensure(seed)
	source := a.Deduct(record.MinutesCharged)
	if record.MinutesCharged > 0 && source != model.SourceNone && !a.IsUnlimited() {
		a.UpdatedAt = s.now().UTC()
	}

	record.BillingType = model.BillingTypeFor(source)
	rec := *record
	s.usage = append(s.usage, &rec)

	return clone(a), nil
}

// CreditMinutes adds purchased minutes.
func (s *Store) CreditMinutes(_ context.Context, seed *model.CreditAccount, minutes int) (*model.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.ensure(seed)
	a.BalanceMinutes += minutes
	a.UpdatedAt = s.now().UTC()
	return clone(a), nil
}

// ActivateSubscription sets tier, allowance and reset date, linking
// customerID when non-empty.
func (s *Store) ActivateSubscription(_ context.Context, seed *model.CreditAccount, tier model.SubscriptionTier, allowance int, resetDate time.Time, customerID string) (*model.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customerID != "" {
		if other := s.byCustomer(customerID); other != nil && other.UserID != seed.UserID {
			return nil, repository.ErrCustomerConflict
		}
	}

	a := s.ensure(seed)
	a.SubscriptionTier = tier
	a.SubscriptionMinutesRemaining = allowance
	reset := resetDate
	a.SubscriptionResetDate = &reset
	if customerID != "" {
		a.StripeCustomerID = customerID
	}
	a.UpdatedAt = s.now().UTC()
	return clone(a), nil
}

// CancelSubscription drops the customer's account to tier none.
func (s *Store) CancelSubscription(_ context.Context, customerID string) (*model.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.byCustomer(customerID)
	if a == nil {
		return nil, repository.ErrAccountNotFound
	}
	a.SubscriptionTier = model.TierNone
	a.SubscriptionMinutesRemaining = 0
	a.SubscriptionResetDate = nil
	a.UpdatedAt = s.now().UTC()
	return clone(a), nil
}

// SetStripeCustomerID links a Stripe customer to seed.UserID.
func (s *Store) SetStripeCustomerID(_ context.Context, seed *model.CreditAccount, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if other := s.byCustomer(customerID); other != nil && other.UserID != seed.UserID {
		return repository.ErrCustomerConflict
	}
	a := s.ensure(seed)
	a.StripeCustomerID = customerID
	a.UpdatedAt = s.now().UTC()
	return nil
}

// ExpireLapsedSubscriptions drops subscriptions whose reset date is before
// cutoff and returns the affected user ids, sorted.
func (s *Store) ExpireLapsedSubscriptions(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for _, a := range s.accounts {
		if a.SubscriptionTier == model.TierNone || a.SubscriptionResetDate == nil {
			continue
		}
		if a.SubscriptionResetDate.Before(cutoff) {
			a.SubscriptionTier = model.TierNone
			a.SubscriptionMinutesRemaining = 0
			a.SubscriptionResetDate = nil
			a.UpdatedAt = s.now().UTC()
			expired = append(expired, a.UserID)
		}
	}
	sort.Strings(expired)
	return expired, nil
}

// Usage storage

// ListUsageRecords pages through a user's usage newest first using the
// same cursor encoding as the Postgres ledger.
func (s *Store) ListUsageRecords(_ context.Context, filter repository.UsageFilter, cursor string, limit int) ([]*model.UsageRecord, string, error) {
	var after *repository.PaginationCursor
	if cursor != "" {
		c, err := repository.DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		after = c
	}

	s.mu.RLock()
	matched := make([]*model.UsageRecord, 0)
	for _, rec := range s.usage {
		if rec.UserID != filter.UserID {
			continue
		}
		if len(filter.BillingTypes) > 0 && !slices.Contains(filter.BillingTypes, rec.BillingType) {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if after != nil {
		idx := sort.Search(len(matched), func(i int) bool {
			r := matched[i]
			return r.CreatedAt.Before(after.CreatedAt) ||
				(r.CreatedAt.Equal(after.CreatedAt) && r.ID < after.ID)
		})
		matched = matched[idx:]
	}

	var next string
	if len(matched) > limit {
		matched = matched[:limit]
		last := matched[len(matched)-1]
		next = repository.EncodeCursor(last.ID, last.CreatedAt)
	}

	return matched, next, nil
}

// Event storage

// MarkEventProcessed records eventID and reports whether it was new.
func (s *Store) MarkEventProcessed(_ context.Context, eventID, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.events[eventID]; seen {
		return false, nil
	}
	s.events[eventID] = eventType
	return true, nil
}

// ForgetEvent releases eventID so a redelivery is applied again.
func (s *Store) ForgetEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, eventID)
	return nil
}

// ensure must be called with mu held.
func (s *Store) ensure(seed *model.CreditAccount) *model.CreditAccount {
	if a, ok := s.accounts[seed.UserID]; ok {
		return a
	}
	a := clone(seed)
	a.SubscriptionTier = a.SubscriptionTier.Normalize()
	s.accounts[seed.UserID] = a
	return a
}

// byCustomer must be called with mu held.
func (s *Store) byCustomer(customerID string) *model.CreditAccount {
	if customerID == "" {
		return nil
	}
	for _, a := range s.accounts {
		if a.StripeCustomerID == customerID {
			return a
		}
	}
	return nil
}

func clone(a *model.CreditAccount) *model.CreditAccount {
	cp := *a
	if a.SubscriptionResetDate != nil {
		t := *a.SubscriptionResetDate
		cp.SubscriptionResetDate = &t
	}
	return &cp
}
