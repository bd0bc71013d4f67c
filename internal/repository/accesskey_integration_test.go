//go:build integration

package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/voicecredits/voicecredits/internal/testutil"
)

// ============================================================================
// Access Key Repository Integration Tests
// ============================================================================

func TestIntegrationAccessKey_CreateAndGet(t *testing.T) {
	ctx, repo := newLedgerTestEnv(t)

	userID := testutil.UniqueID("user")
	key := testutil.NewTestAccessKey(t, userID)

	if err := repo.CreateAccessKey(ctx, key); err != nil {
		t.Fatalf("CreateAccessKey failed: %v", err)
	}

	retrieved, err := repo.GetAccessKeyByID(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAccessKeyByID failed: %v", err)
	}

	if retrieved.UserID != userID {
		t.Errorf("UserID mismatch: got %q, want %q", retrieved.UserID, userID)
	}
	if retrieved.KeyHash != key.KeyHash {
		t.Errorf("KeyHash mismatch: got %q, want %q", retrieved.KeyHash, key.KeyHash)
	}
	if retrieved.IsRevoked() {
		t.Error("new key should not be revoked")
	}
}

func TestIntegrationAccessKey_GetByID_NotFound(t *testing.T) {
	ctx, repo := newLedgerTestEnv(t)

	_, err := repo.GetAccessKeyByID(ctx, "nonexistent-key-id")
	if !errors.Is(err, ErrAccessKeyNotFound) {
		t.Errorf("Expected ErrAccessKeyNotFound, got: %v", err)
	}
}

func TestIntegrationAccessKey_GetByPrefix_ExcludesRevoked(t *testing.T) {
	ctx, repo := newLedgerTestEnv(t)

	userID := testutil.UniqueID("user")
	prefix := "rvk123"

	key1 := testutil.NewTestAccessKey(t, userID)
	key1.KeyPrefix = prefix
	time.Sleep(1 * time.Millisecond)
	key2 := testutil.NewTestAccessKey(t, userID)
	key2.KeyPrefix = prefix

	if err := repo.CreateAccessKey(ctx, key1); err != nil {
		t.Fatalf("CreateAccessKey (1) failed: %v", err)
	}
	if err := repo.CreateAccessKey(ctx, key2); err != nil {
		t.Fatalf("CreateAccessKey (2) failed: %v", err)
	}

	if err := repo.RevokeAccessKey(ctx, key1.ID); err != nil {
		t.Fatalf("RevokeAccessKey failed: %v", err)
	}

	keys, err := repo.GetAccessKeysByPrefix(ctx, prefix)
	if err != nil {
		t.Fatalf("GetAccessKeysByPrefix failed: %v", err)
	}

	if len(keys) != 1 {
		t.Fatalf("Expected 1 active key, got %d", len(keys))
	}
	if keys[0].ID != key2.ID {
		t.Errorf("Expected key2, got key %s", keys[0].ID)
	}

	// Second revoke should fail (already revoked)
	if err := repo.RevokeAccessKey(ctx, key1.ID); !errors.Is(err, ErrAccessKeyNotFound) {
		t.Errorf("Expected ErrAccessKeyNotFound on double revoke, got: %v", err)
	}
}

func TestIntegrationAccessKey_ListAndLastUsed(t *testing.T) {
	ctx, repo := newLedgerTestEnv(t)

	userID := testutil.UniqueID("user")
	var lastID string
	for i := 0; i < 3; i++ {
		key := testutil.NewTestAccessKey(t, userID)
		if err := repo.CreateAccessKey(ctx, key); err != nil {
			t.Fatalf("CreateAccessKey (%d) failed: %v", i, err)
		}
		lastID = key.ID
		time.Sleep(1 * time.Millisecond)
	}

	keys, err := repo.ListAccessKeysByUserID(ctx, userID)
	if err != nil {
		t.Fatalf("ListAccessKeysByUserID failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("Expected 3 keys, got %d", len(keys))
	}

	if err := repo.UpdateAccessKeyLastUsed(ctx, lastID); err != nil {
		t.Fatalf("UpdateAccessKeyLastUsed failed: %v", err)
	}
	retrieved, _ := repo.GetAccessKeyByID(ctx, lastID)
	if retrieved == nil || retrieved.LastUsedAt == nil {
		t.Error("LastUsedAt should be set after update")
	}
}
