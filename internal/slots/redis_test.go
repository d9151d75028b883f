package slots

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisTracker(t *testing.T, systemLimit int) *RedisTracker {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTracker(client, systemLimit, time.Hour)
}

func TestRedisReserve_TenantCeiling(t *testing.T) {
	tr := newRedisTracker(t, 10)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := tr.Reserve(ctx, slot(fmt.Sprintf("e%d", i), "t1"), 2)
		if err != nil || !ok {
			t.Fatalf("reserve %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := tr.Reserve(ctx, slot("e3", "t1"), 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok {
		t.Fatalf("expected rejection at tenant limit 2")
	}

	tenant, total, err := tr.Counts(ctx, "t1")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if tenant != 2 || total != 2 {
		t.Fatalf("expected counts 2/2, got %d/%d", tenant, total)
	}
}

func TestRedisReserve_SystemCeiling(t *testing.T) {
	tr := newRedisTracker(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := tr.Reserve(ctx, slot(fmt.Sprintf("e%d", i), fmt.Sprintf("t%d", i)), 2)
		if err != nil || !ok {
			t.Fatalf("reserve %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := tr.Reserve(ctx, slot("e9", "t9"), 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok {
		t.Fatalf("expected rejection at system limit 3")
	}
}

func TestRedisReserve_Duplicate(t *testing.T) {
	tr := newRedisTracker(t, 10)
	ctx := context.Background()
	if ok, err := tr.Reserve(ctx, slot("e1", "t1"), 2); err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}
	if _, err := tr.Reserve(ctx, slot("e1", "t1"), 2); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestRedisReleaseAndResolve(t *testing.T) {
	tr := newRedisTracker(t, 10)
	ctx := context.Background()

	if ok, err := tr.Reserve(ctx, slot("e1", "t1"), 1); err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}
	if err := tr.BindExternal(ctx, "e1", "call-abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	s, found, err := tr.ResolveExternal(ctx, "call-abc")
	if err != nil || !found {
		t.Fatalf("resolve: found=%v err=%v", found, err)
	}
	if s.EntryID != "e1" || s.TenantID != "t1" {
		t.Fatalf("resolved wrong slot: %+v", s)
	}

	if err := tr.Release(ctx, "e1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := tr.Release(ctx, "e1"); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("expected ErrSlotNotFound on double release, got %v", err)
	}
	if _, found, _ := tr.ResolveExternal(ctx, "call-abc"); found {
		t.Fatalf("expected external index cleared on release")
	}

	// Capacity is fully reusable after release.
	if ok, err := tr.Reserve(ctx, slot("e2", "t1"), 1); err != nil || !ok {
		t.Fatalf("reserve after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisReap_ExactlyOnce(t *testing.T) {
	tr := newRedisTracker(t, 10)
	ctx := context.Background()

	stale := slot("old", "t1")
	stale.StartedAt = started.Add(-3 * time.Hour)
	if ok, err := tr.Reserve(ctx, stale, 5); err != nil || !ok {
		t.Fatalf("reserve stale: ok=%v err=%v", ok, err)
	}
	if ok, err := tr.Reserve(ctx, slot("fresh", "t1"), 5); err != nil || !ok {
		t.Fatalf("reserve fresh: ok=%v err=%v", ok, err)
	}

	orphans, err := tr.Reap(ctx, started.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(orphans) != 1 || orphans[0].EntryID != "old" {
		t.Fatalf("expected only stale slot reaped, got %+v", orphans)
	}

	orphans, err = tr.Reap(ctx, started.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("second reap: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("expected empty second reap, got %+v", orphans)
	}

	tenant, total, _ := tr.Counts(ctx, "t1")
	if tenant != 1 || total != 1 {
		t.Fatalf("expected counts 1/1 after reap, got %d/%d", tenant, total)
	}
}

func TestRedisRebuild(t *testing.T) {
	tr := newRedisTracker(t, 10)
	ctx := context.Background()

	// Leave stale accounting behind, then rebuild from the authoritative list.
	if ok, err := tr.Reserve(ctx, slot("gone", "t9"), 5); err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}

	existing := []Slot{slot("e1", "t1"), slot("e2", "t1"), slot("e3", "t2")}
	existing[0].ExternalID = "call-1"
	if err := tr.Rebuild(ctx, existing); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	tenant, total, _ := tr.Counts(ctx, "t1")
	if tenant != 2 || total != 3 {
		t.Fatalf("expected counts 2/3 after rebuild, got %d/%d", tenant, total)
	}
	if tenant, _, _ := tr.Counts(ctx, "t9"); tenant != 0 {
		t.Fatalf("expected stale tenant counter cleared, got %d", tenant)
	}
	if _, found, _ := tr.ResolveExternal(ctx, "call-1"); !found {
		t.Fatalf("expected external binding restored")
	}
}
