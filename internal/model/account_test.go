package model

import (
	"testing"
	"time"
)

func TestCreditAccount_Decide(t *testing.T) {
	testCases := []struct {
		name          string
		account       CreditAccount
		wantCanStart  bool
		wantAvailable int
		wantUnlimited bool
		wantSource    FundingSource
	}{
		{
			name:          "unlimited ignores counters",
			account:       CreditAccount{SubscriptionTier: TierUnlimited},
			wantCanStart:  true,
			wantAvailable: UnlimitedMinutes,
			wantUnlimited: true,
			wantSource:    SourceSubscription,
		},
		{
			name:          "subscription before credits",
			account:       CreditAccount{SubscriptionTier: TierBasic, SubscriptionMinutesRemaining: 12, BalanceMinutes: 40},
			wantCanStart:  true,
			wantAvailable: 12,
			wantSource:    SourceSubscription,
		},
		{
			name:          "credits when allowance exhausted",
			account:       CreditAccount{SubscriptionTier: TierBasic, BalanceMinutes: 5},
			wantCanStart:  true,
			wantAvailable: 5,
			wantSource:    SourceCredits,
		},
		{
			name:          "free account",
			account:       *NewDefaultAccount("u1", DefaultFreeMinutes, time.Now()),
			wantCanStart:  true,
			wantAvailable: 3,
			wantSource:    SourceCredits,
		},
		{
			name:       "nothing left",
			account:    CreditAccount{SubscriptionTier: TierNone},
			wantSource: SourceNone,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := tc.account
			got := tc.account.Decide()
			if got.CanStart != tc.wantCanStart {
				t.Errorf("CanStart = %v, want %v", got.CanStart, tc.wantCanStart)
			}
			if got.AvailableMinutes != tc.wantAvailable {
				t.Errorf("AvailableMinutes = %d, want %d", got.AvailableMinutes, tc.wantAvailable)
			}
			if got.Unlimited != tc.wantUnlimited {
				t.Errorf("Unlimited = %v, want %v", got.Unlimited, tc.wantUnlimited)
			}
			if got.Source != tc.wantSource {
				t.Errorf("Source = %s, want %s", got.Source, tc.wantSource)
			}
			if tc.account.BalanceMinutes != before.BalanceMinutes ||
				tc.account.SubscriptionMinutesRemaining != before.SubscriptionMinutesRemaining {
				t.Error("Decide must not mutate the account")
			}
		})
	}
}

func TestCreditAccount_Deduct(t *testing.T) {
	testCases := []struct {
		name          string
		account       CreditAccount
		minutes       int
		wantSource    FundingSource
		wantBalance   int
		wantAllowance int
	}{
		{
			name:          "charges allowance only",
			account:       CreditAccount{SubscriptionTier: TierProfessional, SubscriptionMinutesRemaining: 10, BalanceMinutes: 8},
			minutes:       4,
			wantSource:    SourceSubscription,
			wantBalance:   8,
			wantAllowance: 6,
		},
		{
			name:          "allowance floors at zero without spilling",
			account:       CreditAccount{SubscriptionTier: TierBasic, SubscriptionMinutesRemaining: 2, BalanceMinutes: 8},
			minutes:       5,
			wantSource:    SourceSubscription,
			wantBalance:   8,
			wantAllowance: 0,
		},
		{
			name:        "balance floors at zero",
			account:     CreditAccount{BalanceMinutes: 1},
			minutes:     2,
			wantSource:  SourceCredits,
			wantBalance: 0,
		},
		{
			name:          "unlimited deducts nothing",
			account:       CreditAccount{SubscriptionTier: TierUnlimited, SubscriptionMinutesRemaining: 3, BalanceMinutes: 3},
			minutes:       30,
			wantSource:    SourceSubscription,
			wantBalance:   3,
			wantAllowance: 3,
		},
		{
			name:       "empty account",
			account:    CreditAccount{},
			minutes:    1,
			wantSource: SourceNone,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			acct := tc.account
			got := acct.Deduct(tc.minutes)
			if got != tc.wantSource {
				t.Errorf("source = %s, want %s", got, tc.wantSource)
			}
			if acct.BalanceMinutes != tc.wantBalance {
				t.Errorf("BalanceMinutes = %d, want %d", acct.BalanceMinutes, tc.wantBalance)
			}
			if acct.SubscriptionMinutesRemaining != tc.wantAllowance {
				t.Errorf("SubscriptionMinutesRemaining = %d, want %d", acct.SubscriptionMinutesRemaining, tc.wantAllowance)
			}
		})
	}
}

func TestMinutesForDuration(t *testing.T) {
	testCases := []struct {
		seconds int
		want    int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{59, 1},
		{60, 1},
		{61, 2},
		{90, 2},
		{3600, 60},
	}

	for _, tc := range testCases {
		if got := MinutesForDuration(tc.seconds); got != tc.want {
			t.Errorf("MinutesForDuration(%d) = %d, want %d", tc.seconds, got, tc.want)
		}
	}
}

func TestCachedAccount_RoundTrip(t *testing.T) {
	reset := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	acct := &CreditAccount{
		UserID:                       "u1",
		BalanceMinutes:               7,
		SubscriptionTier:             TierBasic,
		SubscriptionMinutesRemaining: 42,
		SubscriptionResetDate:        &reset,
		UpdatedAt:                    reset,
	}

	got := acct.ToCachedAccount().ToAccount("u1")
	if got.BalanceMinutes != 7 || got.SubscriptionMinutesRemaining != 42 {
		t.Errorf("counters lost: %+v", got)
	}
	if got.SubscriptionTier != TierBasic {
		t.Errorf("tier = %s, want basic", got.SubscriptionTier)
	}
	if got.SubscriptionResetDate == nil || !got.SubscriptionResetDate.Equal(reset) {
		t.Errorf("reset date = %v, want %v", got.SubscriptionResetDate, reset)
	}
}

func TestSubscriptionTier_Normalize(t *testing.T) {
	if SubscriptionTier("").Normalize() != TierNone {
		t.Error("empty tier should normalize to none")
	}
	if !TierProfessional.IsValid() || SubscriptionTier("gold").IsValid() {
		t.Error("IsValid mismatch")
	}
}

func TestIdentity_Metered(t *testing.T) {
	if !(Identity{Kind: IdentityAuthenticated}).Metered() {
		t.Error("authenticated identity should be metered")
	}
	if !(Identity{Kind: IdentityEmail}).Metered() {
		t.Error("email identity should be metered")
	}
	demo := Identity{Kind: IdentityDemo}
	if demo.Metered() || !demo.IsDemo() {
		t.Error("demo identity should not be metered")
	}
}
