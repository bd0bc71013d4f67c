package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/voicecredits/voicecredits/internal/model"
	"github.com/voicecredits/voicecredits/internal/repository"
)

func TestStore_DeductUsageConcurrentFloorsAtZero(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	seed := model.NewDefaultAccount("u1", 5, now)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := &model.UsageRecord{
				ID:             fmt.Sprintf("r%02d", i),
				UserID:         "u1",
				AgentID:        "agent",
				MinutesCharged: 1,
				CreatedAt:      now,
			}
			if _, err := s.DeductUsage(ctx, seed, rec); err != nil {
				t.Errorf("DeductUsage: %v", err)
			}
		}(i)
	}
	wg.Wait()

	acct, err := s.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.BalanceMinutes != 0 {
		t.Errorf("BalanceMinutes = %d, want 0", acct.BalanceMinutes)
	}

	records, _, err := s.ListUsageRecords(ctx, repository.UsageFilter{UserID: "u1"}, "", 100)
	if err != nil {
		t.Fatalf("ListUsageRecords: %v", err)
	}
	if len(records) != 20 {
		t.Fatalf("len(records) = %d, want 20", len(records))
	}

	var credits, none int
	for _, r := range records {
		switch r.BillingType {
		case model.BillingCredits:
			credits++
		case model.BillingNone:
			none++
		}
	}
	if credits != 5 || none != 15 {
		t.Errorf("credits=%d none=%d, want 5/15", credits, none)
	}
}

func TestStore_ListUsageRecordsPagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := func(userID, id string, at time.Time) {
		t.Helper()
		rec := &model.UsageRecord{ID: id, UserID: userID, AgentID: "agent", CreatedAt: at}
		if _, err := s.DeductUsage(ctx, model.NewDefaultAccount(userID, 0, base), rec); err != nil {
			t.Fatalf("DeductUsage: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		seed("u1", fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Minute))
	}
	seed("u2", "other", base)

	page1, cursor, err := s.ListUsageRecords(ctx, repository.UsageFilter{UserID: "u1"}, "", 2)
	if err != nil {
		t.Fatalf("page1: %v", err)
	}
	if len(page1) != 2 || page1[0].ID != "r4" || page1[1].ID != "r3" {
		t.Fatalf("unexpected page1: %v", ids(page1))
	}
	if cursor == "" {
		t.Fatal("expected next cursor")
	}

	page2, cursor, err := s.ListUsageRecords(ctx, repository.UsageFilter{UserID: "u1"}, cursor, 10)
	if err != nil {
		t.Fatalf("page2: %v", err)
	}
	if len(page2) != 3 || page2[0].ID != "r2" {
		t.Fatalf("unexpected page2: %v", ids(page2))
	}
	if cursor != "" {
		t.Errorf("expected no further cursor, got %q", cursor)
	}

	_, _, err = s.ListUsageRecords(ctx, repository.UsageFilter{UserID: "u1"}, "%%%", 10)
	if err != repository.ErrInvalidCursor {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestStore_SubscriptionLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	seed := model.NewDefaultAccount("u1", 3, now)

	acct, err := s.ActivateSubscription(ctx, seed, model.TierBasic, 60, now.AddDate(0, 1, 0), "cus_1")
	if err != nil {
		t.Fatalf("ActivateSubscription: %v", err)
	}
	if acct.SubscriptionTier != model.TierBasic || acct.SubscriptionMinutesRemaining != 60 || acct.BalanceMinutes != 3 {
		t.Fatalf("unexpected account: %+v", acct)
	}

	if _, err := s.ActivateSubscription(ctx, model.NewDefaultAccount("u2", 3, now), model.TierBasic, 60, now, "cus_1"); err != repository.ErrCustomerConflict {
		t.Errorf("expected ErrCustomerConflict, got %v", err)
	}

	expired, err := s.ExpireLapsedSubscriptions(ctx, now.AddDate(0, 2, 0))
	if err != nil {
		t.Fatalf("ExpireLapsedSubscriptions: %v", err)
	}
	if len(expired) != 1 || expired[0] != "u1" {
		t.Fatalf("expired = %v", expired)
	}

	// Re-activation after expiry restores the tier and keeps the link.
	acct, err = s.ActivateSubscription(ctx, seed, model.TierProfessional, 200, now.AddDate(0, 3, 0), "cus_1")
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if acct.SubscriptionTier != model.TierProfessional || acct.StripeCustomerID != "cus_1" {
		t.Errorf("unexpected account after reactivation: %+v", acct)
	}
}

func TestStore_MarkEventProcessed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	first, _ := s.MarkEventProcessed(ctx, "evt_1", "invoice.paid")
	second, _ := s.MarkEventProcessed(ctx, "evt_1", "invoice.paid")
	if !first || second {
		t.Errorf("first=%v second=%v, want true/false", first, second)
	}

	_ = s.ForgetEvent(ctx, "evt_1")
	again, _ := s.MarkEventProcessed(ctx, "evt_1", "invoice.paid")
	if !again {
		t.Error("expected event to be processable after ForgetEvent")
	}
}

func ids(records []*model.UsageRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
