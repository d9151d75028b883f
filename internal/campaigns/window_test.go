package campaigns

import (
	"testing"
	"time"
)

func testCampaign() Campaign {
	return Campaign{
		ID:               "c1",
		TenantID:         "t1",
		Name:             "spring promo",
		Status:           StatusActive,
		TimeZone:         "America/New_York",
		DailyWindowStart: 9 * 60,  // 09:00
		DailyWindowEnd:   17 * 60, // 17:00
		StartDate:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:          time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		MaxRetries:       3,
		RetryInterval:    5 * time.Minute,
	}
}

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("zone %s: %v", name, err)
	}
	return loc
}

func TestIsWithinWindow_DailyBounds(t *testing.T) {
	c := testCampaign()
	ny := mustZone(t, "America/New_York")

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2026, 3, 10, 8, 59, 0, 0, ny), false},
		{"at open", time.Date(2026, 3, 10, 9, 0, 0, 0, ny), true},
		{"midday", time.Date(2026, 3, 10, 12, 30, 0, 0, ny), true},
		{"last minute", time.Date(2026, 3, 10, 16, 59, 0, 0, ny), true},
		{"at close", time.Date(2026, 3, 10, 17, 0, 0, 0, ny), false},
	}
	for _, tc := range cases {
		if got := IsWithinWindow(c, tc.at); got != tc.want {
			t.Fatalf("%s: IsWithinWindow = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsWithinWindow_EvaluatesInCampaignZone(t *testing.T) {
	c := testCampaign()
	// 14:00 UTC on March 10 is 09:00 in New York (EST, UTC-5).
	at := time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)
	if !IsWithinWindow(c, at) {
		t.Fatalf("expected 14:00 UTC inside a 09:00 New York window")
	}
	// The same wall instant is outside a Tokyo campaign's window (23:00 local).
	c.TimeZone = "Asia/Tokyo"
	if IsWithinWindow(c, at) {
		t.Fatalf("expected 23:00 Tokyo outside the window")
	}
}

func TestIsWithinWindow_DateRange(t *testing.T) {
	c := testCampaign()
	ny := mustZone(t, "America/New_York")

	if IsWithinWindow(c, time.Date(2026, 2, 28, 12, 0, 0, 0, ny)) {
		t.Fatalf("expected day before start date excluded")
	}
	if !IsWithinWindow(c, time.Date(2026, 3, 31, 12, 0, 0, 0, ny)) {
		t.Fatalf("expected end date itself included")
	}
	if IsWithinWindow(c, time.Date(2026, 4, 1, 12, 0, 0, 0, ny)) {
		t.Fatalf("expected day after end date excluded")
	}
}

func TestIsWithinWindow_BadZoneNeverOpen(t *testing.T) {
	c := testCampaign()
	c.TimeZone = "Mars/Olympus"
	if IsWithinWindow(c, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected campaign with unknown zone never within window")
	}
}

func TestNextWindowOpen_TodayIfAhead(t *testing.T) {
	c := testCampaign()
	ny := mustZone(t, "America/New_York")

	now := time.Date(2026, 3, 10, 8, 0, 0, 0, ny)
	got := NextWindowOpen(c, now)
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, ny)
	if !got.Equal(want) {
		t.Fatalf("expected today's 09:00 open, got %s", got)
	}
}

func TestNextWindowOpen_TomorrowAfterClose(t *testing.T) {
	c := testCampaign()
	ny := mustZone(t, "America/New_York")

	now := time.Date(2026, 3, 10, 18, 0, 0, 0, ny)
	got := NextWindowOpen(c, now)
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, ny)
	if !got.Equal(want) {
		t.Fatalf("expected tomorrow's 09:00 open, got %s", got)
	}
}

func TestNextWindowOpen_ClampsToStartDate(t *testing.T) {
	c := testCampaign()
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	got := NextWindowOpen(c, now)
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, mustZone(t, "America/New_York"))
	if !got.Equal(want) {
		t.Fatalf("expected first open on start date, got %s", got)
	}
}

func TestNextWindowOpen_DSTTransitionDay(t *testing.T) {
	c := testCampaign()

	// DST starts 2026-03-08 in New York; midnight plus nine hours lands at
	// 10:00 wall clock that day. The open must still be 09:00 local, which
	// is 13:00 UTC under EDT.
	now := time.Date(2026, 3, 8, 6, 0, 0, 0, time.UTC) // 01:00 EST
	got := NextWindowOpen(c, now)
	want := time.Date(2026, 3, 8, 13, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected 09:00 local open at %s, got %s", want, got)
	}
}

func TestNextWindowOpen_ZeroPastEndDate(t *testing.T) {
	c := testCampaign()
	ny := mustZone(t, "America/New_York")

	now := time.Date(2026, 3, 31, 18, 0, 0, 0, ny)
	if got := NextWindowOpen(c, now); !got.IsZero() {
		t.Fatalf("expected no further opens past end date, got %s", got)
	}
}

func TestValidate_WindowRules(t *testing.T) {
	c := testCampaign()
	if err := c.Validate(); err != nil {
		t.Fatalf("valid campaign rejected: %v", err)
	}

	short := testCampaign()
	short.DailyWindowEnd = short.DailyWindowStart + 30
	if err := short.Validate(); err == nil {
		t.Fatalf("expected sub-minimum window rejected")
	}

	inverted := testCampaign()
	inverted.DailyWindowStart, inverted.DailyWindowEnd = 17*60, 9*60
	if err := inverted.Validate(); err == nil {
		t.Fatalf("expected inverted window rejected")
	}

	badZone := testCampaign()
	badZone.TimeZone = "Not/AZone"
	if err := badZone.Validate(); err == nil {
		t.Fatalf("expected unknown zone rejected")
	}
}
