package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/voicecredits/voicecredits/internal/model"
)

// Common errors for credit account operations.
var (
	ErrAccountNotFound  = errors.New("credit account not found")
	ErrCustomerConflict = errors.New("stripe customer already linked to another account")
)

const accountColumns = `user_id, balance_minutes, subscription_tier, subscription_minutes_remaining,
		subscription_reset_date, COALESCE(stripe_customer_id, ''), created_at, updated_at`

// GetAccount retrieves a credit account by user id.
func (r *Repository) GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM credit_accounts WHERE user_id = $1`

	acct, err := scanAccount(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get credit account: %w", err)
	}

	return acct, nil
}

// GetAccountByCustomerID retrieves the account linked to a Stripe customer.
func (r *Repository) GetAccountByCustomerID(ctx context.Context, customerID string) (*model.CreditAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM credit_accounts WHERE stripe_customer_id = $1`

	acct, err := scanAccount(r.pool.QueryRow(ctx, query, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get credit account by customer: %w", err)
	}

	return acct, nil
}

// EnsureAccount inserts seed if no account exists for seed.UserID and
// returns the stored account either way.
func (r *Repository) EnsureAccount(ctx context.Context, seed *model.CreditAccount) (*model.CreditAccount, error) {
	query := `
		WITH ins AS (
			INSERT INTO credit_accounts (user_id, balance_minutes, subscription_tier, subscription_minutes_remaining, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (user_id) DO NOTHING
			RETURNING ` + accountColumns + `
		)
		SELECT * FROM ins
		UNION ALL
		SELECT ` + accountColumns + ` FROM credit_accounts WHERE user_id = $1
		LIMIT 1
	`

	acct, err := scanAccount(r.pool.QueryRow(ctx, query,
		seed.UserID,
		seed.BalanceMinutes,
		seed.SubscriptionTier.Normalize(),
		seed.SubscriptionMinutesRemaining,
		seed.CreatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent first insert won, and its row is invisible to this
		// statement's snapshot.
		return r.GetAccount(ctx, seed.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ensure credit account: %w", err)
	}

	return acct, nil
}

// DeductUsage charges record.MinutesCharged against the account and appends
// the usage record in one transaction. The funding source is re-resolved
// under a row lock and the charged counter floors at zero. record.BillingType
// is set to the source that was charged.
func (r *Repository) DeductUsage(ctx context.Context, seed *model.CreditAccount, record *model.UsageRecord) (*model.CreditAccount, error) {
	var updated *model.CreditAccount

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO credit_accounts (user_id, balance_minutes, subscription_tier, subscription_minutes_remaining, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (user_id) DO NOTHING
		`, seed.UserID, seed.BalanceMinutes, seed.SubscriptionTier.Normalize(), seed.SubscriptionMinutesRemaining, seed.CreatedAt); err != nil {
			return fmt.Errorf("seed account: %w", err)
		}

		acct, err := scanAccount(tx.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1 FOR UPDATE`, seed.UserID))
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		source := acct.FundingSource()
		var column string
		switch {
		case source == model.SourceSubscription && !acct.IsUnlimited():
			column = "subscription_minutes_remaining"
		case source == model.SourceCredits:
			column = "balance_minutes"
		}

		if column != "" && record.MinutesCharged > 0 {
			query := fmt.Sprintf(`
				UPDATE credit_accounts
				SET %[1]s = GREATEST(%[1]s - $2, 0), updated_at = $3
				WHERE user_id = $1
				RETURNING `+accountColumns, column)

			acct, err = scanAccount(tx.QueryRow(ctx, query, seed.UserID, record.MinutesCharged, r.now().UTC()))
			if err != nil {
				return fmt.Errorf("decrement %s: %w", column, err)
			}
		}

		record.BillingType = model.BillingTypeFor(source)
		if err := insertUsageRecord(ctx, tx, record); err != nil {
			return err
		}

		updated = acct
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deduct usage: %w", err)
	}

	return updated, nil
}

// CreditMinutes adds purchased minutes to an account, creating it from seed
// if needed.
func (r *Repository) CreditMinutes(ctx context.Context, seed *model.CreditAccount, minutes int) (*model.CreditAccount, error) {
	query := `
		INSERT INTO credit_accounts (user_id, balance_minutes, subscription_tier, subscription_minutes_remaining, created_at, updated_at)
		VALUES ($1, $2 + $3, $4, $5, $6, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET balance_minutes = credit_accounts.balance_minutes + $3,
		    updated_at = $6
		RETURNING ` + accountColumns

	acct, err := scanAccount(r.pool.QueryRow(ctx, query,
		seed.UserID,
		seed.BalanceMinutes,
		minutes,
		seed.SubscriptionTier.Normalize(),
		seed.SubscriptionMinutesRemaining,
		r.now().UTC(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to credit minutes: %w", err)
	}

	return acct, nil
}

// ActivateSubscription puts an account on a plan with a fresh allowance.
// customerID is linked when non-empty.
func (r *Repository) ActivateSubscription(ctx context.Context, seed *model.CreditAccount, tier model.SubscriptionTier, allowance int, resetDate time.Time, customerID string) (*model.CreditAccount, error) {
	query := `
		INSERT INTO credit_accounts (user_id, balance_minutes, subscription_tier, subscription_minutes_remaining,
			subscription_reset_date, stripe_customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET subscription_tier = EXCLUDED.subscription_tier,
		    subscription_minutes_remaining = EXCLUDED.subscription_minutes_remaining,
		    subscription_reset_date = EXCLUDED.subscription_reset_date,
		    stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, credit_accounts.stripe_customer_id),
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + accountColumns

	acct, err := scanAccount(r.pool.QueryRow(ctx, query,
		seed.UserID,
		seed.BalanceMinutes,
		tier,
		allowance,
		resetDate,
		customerID,
		r.now().UTC(),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrCustomerConflict
		}
		return nil, fmt.Errorf("failed to activate subscription: %w", err)
	}

	return acct, nil
}

// CancelSubscription drops the account linked to customerID to tier none.
// Purchased balance is untouched.
func (r *Repository) CancelSubscription(ctx context.Context, customerID string) (*model.CreditAccount, error) {
	query := `
		UPDATE credit_accounts
		SET subscription_tier = 'none',
		    subscription_minutes_remaining = 0,
		    subscription_reset_date = NULL,
		    updated_at = $2
		WHERE stripe_customer_id = $1
		RETURNING ` + accountColumns

	acct, err := scanAccount(r.pool.QueryRow(ctx, query, customerID, r.now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	return acct, nil
}

// SetStripeCustomerID links a Stripe customer to an account, creating the
// account from seed if needed.
func (r *Repository) SetStripeCustomerID(ctx context.Context, seed *model.CreditAccount, customerID string) error {
	query := `
		INSERT INTO credit_accounts (user_id, balance_minutes, subscription_tier, subscription_minutes_remaining,
			stripe_customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		seed.UserID,
		seed.BalanceMinutes,
		seed.SubscriptionTier.Normalize(),
		seed.SubscriptionMinutesRemaining,
		customerID,
		r.now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCustomerConflict
		}
		return fmt.Errorf("failed to set stripe customer: %w", err)
	}

	return nil
}

// ExpireLapsedSubscriptions drops every subscription whose reset date is
// before cutoff to tier none and returns the affected user ids.
func (r *Repository) ExpireLapsedSubscriptions(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		UPDATE credit_accounts
		SET subscription_tier = 'none',
		    subscription_minutes_remaining = 0,
		    subscription_reset_date = NULL,
		    updated_at = $2
		WHERE subscription_tier <> 'none'
		  AND subscription_reset_date IS NOT NULL
		  AND subscription_reset_date < $1
		RETURNING user_id
	`

	rows, err := r.pool.Query(ctx, query, cutoff, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to expire lapsed subscriptions: %w", err)
	}

	userIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("error iterating expired accounts: %w", err)
	}

	return userIDs, nil
}

// scanAccount scans a single row into a CreditAccount model.
func scanAccount(row pgx.Row) (*model.CreditAccount, error) {
	var acct model.CreditAccount
	var tier string

	err := row.Scan(
		&acct.UserID,
		&acct.BalanceMinutes,
		&tier,
		&acct.SubscriptionMinutesRemaining,
		&acct.SubscriptionResetDate,
		&acct.StripeCustomerID,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	acct.SubscriptionTier = model.SubscriptionTier(tier).Normalize()
	return &acct, nil
}
