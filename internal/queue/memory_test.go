package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newStore() *MemoryStore {
	return NewMemoryStore().WithClock(func() time.Time { return base })
}

func enqueue(t *testing.T, s *MemoryStore, e Entry) Entry {
	t.Helper()
	out, err := s.Enqueue(context.Background(), e)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return out
}

func TestEnqueue_RejectsInvalidEntries(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	cases := []Entry{
		{CallType: CallTypeDirect, PhoneNumber: "+15550001"},                                            // no tenant
		{TenantID: "t1", CallType: CallTypeDirect},                                                      // no phone
		{TenantID: "t1", CallType: CallTypeDirect, CampaignID: "c1", PhoneNumber: "+15550001"},          // direct with campaign
		{TenantID: "t1", CallType: CallTypeCampaign, PhoneNumber: "+15550001"},                          // campaign without id
		{TenantID: "t1", CallType: CallType("bulk"), PhoneNumber: "+15550001"},                          // unknown type
	}
	for i, e := range cases {
		if _, err := s.Enqueue(ctx, e); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("case %d: expected ErrInvalidEntry, got %v", i, err)
		}
	}
}

func TestNextEligible_DirectBeatsCampaign(t *testing.T) {
	s := newStore()
	enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeCampaign, CampaignID: "c1", PhoneNumber: "+1", Priority: 100})
	want := enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeDirect, PhoneNumber: "+2", Priority: 0})

	got, ok, err := s.NextEligible(context.Background(), "t1", base, func(Entry) bool { return true })
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if got.ID != want.ID {
		t.Fatalf("expected direct entry %s first, got %s (%s)", want.ID, got.ID, got.CallType)
	}
}

func TestNextEligible_PriorityThenPosition(t *testing.T) {
	s := newStore()
	low := enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeDirect, PhoneNumber: "+1", Priority: 1})
	hiFirst := enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeDirect, PhoneNumber: "+2", Priority: 5})
	hiSecond := enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeDirect, PhoneNumber: "+3", Priority: 5})

	order := []string{hiFirst.ID, hiSecond.ID, low.ID}
	for i, wantID := range order {
		got, ok, err := s.NextEligible(context.Background(), "t1", base, nil)
		if err != nil || !ok {
			t.Fatalf("step %d: ok=%v err=%v", i, ok, err)
		}
		if got.ID != wantID {
			t.Fatalf("step %d: expected %s, got %s", i, wantID, got.ID)
		}
		if err := s.MarkProcessing(context.Background(), got.ID, base); err != nil {
			t.Fatalf("step %d: mark: %v", i, err)
		}
	}
}

func TestNextEligible_SkipsFutureScheduled(t *testing.T) {
	s := newStore()
	enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeDirect, PhoneNumber: "+1", ScheduledFor: base.Add(time.Hour)})

	if _, ok, _ := s.NextEligible(context.Background(), "t1", base, nil); ok {
		t.Fatalf("expected no eligible entry before scheduled_for")
	}
	if _, ok, _ := s.NextEligible(context.Background(), "t1", base.Add(time.Hour), nil); !ok {
		t.Fatalf("expected entry eligible at scheduled_for")
	}
}

func TestNextEligible_GateSkipsCampaignEntries(t *testing.T) {
	s := newStore()
	gated := enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeCampaign, CampaignID: "closed", PhoneNumber: "+1", Priority: 9})
	open := enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeCampaign, CampaignID: "open", PhoneNumber: "+2", Priority: 1})

	got, ok, err := s.NextEligible(context.Background(), "t1", base, func(e Entry) bool {
		return e.CampaignID == "open"
	})
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if got.ID != open.ID {
		t.Fatalf("expected gated entry %s skipped, got %s", gated.ID, got.ID)
	}

	// The gated entry is skipped in place, not removed.
	if e, err := s.Get(context.Background(), gated.ID); err != nil || e.Status != StatusQueued {
		t.Fatalf("expected gated entry still queued, got %+v err=%v", e, err)
	}
}

func TestMarkProcessing_RefusesDoubleClaim(t *testing.T) {
	s := newStore()
	e := enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeDirect, PhoneNumber: "+1"})

	if err := s.MarkProcessing(context.Background(), e.ID, base); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.MarkProcessing(context.Background(), e.ID, base); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on second claim, got %v", err)
	}
}

func TestRequeue_AttemptAccounting(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	e := enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeCampaign, CampaignID: "c1", PhoneNumber: "+1", MaxRetries: 3})

	if err := s.MarkProcessing(ctx, e.ID, base); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.Requeue(ctx, e.ID, base.Add(time.Minute), true, "busy"); err != nil {
		t.Fatalf("requeue retry: %v", err)
	}
	got, _ := s.Get(ctx, e.ID)
	if got.Attempts != 1 || got.LastOutcome != "busy" || !got.ScheduledFor.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected after retry requeue: %+v", got)
	}

	// Provider-cooldown path must not consume an attempt.
	if err := s.MarkProcessing(ctx, e.ID, base.Add(time.Minute)); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.Requeue(ctx, e.ID, base.Add(2*time.Minute), false, ""); err != nil {
		t.Fatalf("requeue cooldown: %v", err)
	}
	got, _ = s.Get(ctx, e.ID)
	if got.Attempts != 1 {
		t.Fatalf("cooldown requeue consumed an attempt: %+v", got)
	}
}

func TestFinalize_ExactlyOnce(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	e := enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeDirect, PhoneNumber: "+1"})

	if err := s.Finalize(ctx, e.ID, StatusBusy, ""); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected non-terminal status rejected, got %v", err)
	}
	if err := s.MarkProcessing(ctx, e.ID, base); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.Finalize(ctx, e.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := s.Finalize(ctx, e.ID, StatusFailed, "late"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected second finalize rejected, got %v", err)
	}
}

func TestCancel_OnlyQueuedAndOwnTenant(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	e := enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeDirect, PhoneNumber: "+1"})

	if err := s.Cancel(ctx, "t2", e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cross-tenant cancel to return ErrNotFound, got %v", err)
	}
	if err := s.Cancel(ctx, "t1", e.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	inflight := enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeDirect, PhoneNumber: "+2"})
	if err := s.MarkProcessing(ctx, inflight.ID, base); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.Cancel(ctx, "t1", inflight.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected in-flight cancel rejected, got %v", err)
	}
}

func TestEarliestScheduled_StrictlyAfter(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeDirect, PhoneNumber: "+1", ScheduledFor: base})
	enqueue(t, s, Entry{TenantID: "t1", CallType: CallTypeDirect, PhoneNumber: "+2", ScheduledFor: base.Add(30 * time.Minute)})
	enqueue(t, s, Entry{TenantID: "t2", CallType: CallTypeDirect, PhoneNumber: "+3", ScheduledFor: base.Add(10 * time.Minute)})

	// Entries due at `after` do not count; only strictly later ones.
	got, ok, err := s.EarliestScheduled(ctx, "t1", base)
	if err != nil || !ok {
		t.Fatalf("earliest: ok=%v err=%v", ok, err)
	}
	if !got.Equal(base.Add(30 * time.Minute)) {
		t.Fatalf("expected 10:30, got %s", got)
	}

	got, ok, err = s.EarliestScheduled(ctx, "", base)
	if err != nil || !ok {
		t.Fatalf("earliest all: ok=%v err=%v", ok, err)
	}
	if !got.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("expected 10:10 across tenants, got %s", got)
	}
}

func TestTenantsWithDue(t *testing.T) {
	s := newStore()
	enqueue(t, s, Entry{TenantID: "b", CallType: CallTypeDirect, PhoneNumber: "+1"})
	enqueue(t, s, Entry{TenantID: "a", CallType: CallTypeDirect, PhoneNumber: "+2"})
	enqueue(t, s, Entry{TenantID: "c", CallType: CallTypeDirect, PhoneNumber: "+3", ScheduledFor: base.Add(time.Hour)})

	got, err := s.TenantsWithDue(context.Background(), base)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected [a b], got %v", got)
	}
}
