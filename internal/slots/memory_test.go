package slots

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var started = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func slot(entry, tenant string) Slot {
	return Slot{EntryID: entry, TenantID: tenant, CallType: "direct", StartedAt: started}
}

func mustReserve(t *testing.T, tr *MemoryTracker, s Slot, limit int) {
	t.Helper()
	ok, err := tr.Reserve(context.Background(), s, limit)
	if err != nil || !ok {
		t.Fatalf("reserve %s: ok=%v err=%v", s.EntryID, ok, err)
	}
}

func TestReserve_TenantCeiling(t *testing.T) {
	tr := NewMemoryTracker(10)
	mustReserve(t, tr, slot("e1", "t1"), 2)
	mustReserve(t, tr, slot("e2", "t1"), 2)

	ok, err := tr.Reserve(context.Background(), slot("e3", "t1"), 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok {
		t.Fatalf("expected third reservation rejected at tenant limit 2")
	}

	// Another tenant is unaffected.
	mustReserve(t, tr, slot("e4", "t2"), 2)
}

func TestReserve_SystemCeiling(t *testing.T) {
	tr := NewMemoryTracker(3)
	for i := 0; i < 3; i++ {
		mustReserve(t, tr, slot(fmt.Sprintf("e%d", i), fmt.Sprintf("t%d", i)), 2)
	}
	ok, err := tr.Reserve(context.Background(), slot("e9", "t9"), 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok {
		t.Fatalf("expected reservation rejected at system limit 3")
	}
}

func TestReserve_DuplicateEntry(t *testing.T) {
	tr := NewMemoryTracker(10)
	mustReserve(t, tr, slot("e1", "t1"), 2)
	if _, err := tr.Reserve(context.Background(), slot("e1", "t1"), 2); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestRelease_FreesCapacity(t *testing.T) {
	tr := NewMemoryTracker(10)
	ctx := context.Background()
	mustReserve(t, tr, slot("e1", "t1"), 1)

	if ok, _ := tr.Reserve(ctx, slot("e2", "t1"), 1); ok {
		t.Fatalf("expected reservation rejected before release")
	}
	if err := tr.Release(ctx, "e1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	mustReserve(t, tr, slot("e2", "t1"), 1)

	if err := tr.Release(ctx, "e1"); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("expected ErrSlotNotFound on double release, got %v", err)
	}
}

func TestBindAndResolveExternal(t *testing.T) {
	tr := NewMemoryTracker(10)
	ctx := context.Background()
	mustReserve(t, tr, slot("e1", "t1"), 2)

	if err := tr.BindExternal(ctx, "e1", "call-abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	s, found, err := tr.ResolveExternal(ctx, "call-abc")
	if err != nil || !found {
		t.Fatalf("resolve: found=%v err=%v", found, err)
	}
	if s.EntryID != "e1" {
		t.Fatalf("resolved wrong slot: %+v", s)
	}

	if _, found, _ := tr.ResolveExternal(ctx, "call-unknown"); found {
		t.Fatalf("expected unknown handle unresolved")
	}
}

func TestReap_RemovesOnlyStaleSlots(t *testing.T) {
	tr := NewMemoryTracker(10)
	ctx := context.Background()

	stale := slot("old", "t1")
	stale.StartedAt = started.Add(-3 * time.Hour)
	mustReserve(t, tr, stale, 5)
	mustReserve(t, tr, slot("fresh", "t1"), 5)

	orphans, err := tr.Reap(ctx, started.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(orphans) != 1 || orphans[0].EntryID != "old" {
		t.Fatalf("expected only the stale slot reaped, got %+v", orphans)
	}

	// Second reap finds nothing: reclamation is exactly-once.
	orphans, _ = tr.Reap(ctx, started.Add(-2*time.Hour))
	if len(orphans) != 0 {
		t.Fatalf("expected empty second reap, got %+v", orphans)
	}

	tenant, total, _ := tr.Counts(ctx, "t1")
	if tenant != 1 || total != 1 {
		t.Fatalf("expected counts rebalanced to 1/1, got %d/%d", tenant, total)
	}
}

func TestRebuild_RestoresCounts(t *testing.T) {
	tr := NewMemoryTracker(10)
	ctx := context.Background()

	existing := []Slot{slot("e1", "t1"), slot("e2", "t1"), slot("e3", "t2")}
	existing[0].ExternalID = "call-1"
	if err := tr.Rebuild(ctx, existing); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	tenant, total, _ := tr.Counts(ctx, "t1")
	if tenant != 2 || total != 3 {
		t.Fatalf("expected counts 2/3 after rebuild, got %d/%d", tenant, total)
	}
	if _, found, _ := tr.ResolveExternal(ctx, "call-1"); !found {
		t.Fatalf("expected external binding restored")
	}
}
