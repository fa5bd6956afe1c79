package saga

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryStateStoreAbsenceIsNotAnError(t *testing.T) {
	store := NewMemoryStateStore[string]()
	ctx := context.Background()
	correlation := uuid.New()

	_, found, err := store.Find(ctx, correlation)
	if err != nil {
		t.Fatalf("find on empty store: %v", err)
	}
	if found {
		t.Fatal("empty store must report absence")
	}

	if err := store.Store(ctx, correlation, "charge-123"); err != nil {
		t.Fatalf("store: %v", err)
	}
	fact, found, err := store.Find(ctx, correlation)
	if err != nil || !found {
		t.Fatalf("find: found=%v err=%v", found, err)
	}
	if fact != "charge-123" {
		t.Errorf("fact = %q, want %q", fact, "charge-123")
	}

	if err := store.Clear(ctx, correlation); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, found, _ := store.Find(ctx, correlation); found {
		t.Error("cleared record must be absent")
	}

	// Clearing twice is a no-op, which is what compensation idempotence
	// leans on.
	if err := store.Clear(ctx, correlation); err != nil {
		t.Errorf("second clear: %v", err)
	}
}
