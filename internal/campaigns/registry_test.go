package campaigns

import (
	"context"
	"testing"
	"time"
)

func seedRegistry(t *testing.T) (*Registry, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo().WithClock(func() time.Time {
		return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	})
	c := testCampaign()
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("create: %v", err)
	}
	return NewRegistry(repo), repo
}

func TestRegistry_GetCachesLookups(t *testing.T) {
	reg, repo := seedRegistry(t)
	ctx := context.Background()

	got, err := reg.Get(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "c1" {
		t.Fatalf("unexpected campaign: %+v", got)
	}

	// A repo change without invalidation is not visible until Invalidate.
	if err := repo.SetStatus(ctx, "t1", "c1", StatusPaused); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _ = reg.Get(ctx, "t1", "c1")
	if got.Status != StatusActive {
		t.Fatalf("expected cached active status, got %s", got.Status)
	}
	reg.Invalidate()
	got, _ = reg.Get(ctx, "t1", "c1")
	if got.Status != StatusPaused {
		t.Fatalf("expected fresh paused status after invalidate, got %s", got.Status)
	}
}

func TestRegistry_WriteThroughInvalidates(t *testing.T) {
	reg, _ := seedRegistry(t)
	ctx := context.Background()

	if _, err := reg.Get(ctx, "t1", "c1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if err := reg.SetStatus(ctx, "t1", "c1", StatusPaused); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _ := reg.Get(ctx, "t1", "c1")
	if got.Status != StatusPaused {
		t.Fatalf("expected write-through mutation visible immediately, got %s", got.Status)
	}
}

func TestRegistry_TenantIsolation(t *testing.T) {
	reg, _ := seedRegistry(t)
	if _, err := reg.Get(context.Background(), "t2", "c1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
}

func TestRecordOutcome_CompletionDerivation(t *testing.T) {
	reg, _ := seedRegistry(t)
	ctx := context.Background()

	if err := reg.AddContacts(ctx, "t1", "c1", 3); err != nil {
		t.Fatalf("add contacts: %v", err)
	}
	if err := reg.RecordOutcome(ctx, "t1", "c1", OutcomeSuccess); err != nil {
		t.Fatalf("success: %v", err)
	}
	if err := reg.RecordOutcome(ctx, "t1", "c1", OutcomeFailed); err != nil {
		t.Fatalf("failed: %v", err)
	}
	got, _ := reg.Get(ctx, "t1", "c1")
	if got.Status != StatusActive {
		t.Fatalf("expected campaign still active with one unresolved contact, got %s", got.Status)
	}

	// Cancelling the last contact shrinks the denominator and completes the run.
	if err := reg.RecordOutcome(ctx, "t1", "c1", OutcomeCancelled); err != nil {
		t.Fatalf("cancelled: %v", err)
	}
	got, _ = reg.Get(ctx, "t1", "c1")
	if got.Status != StatusCompleted {
		t.Fatalf("expected campaign completed, got %s", got.Status)
	}
	if got.TotalContacts != 2 || got.CompletedCalls != 1 || got.SuccessfulCalls != 1 || got.FailedCalls != 1 {
		t.Fatalf("unexpected counters: %+v", got)
	}
}
