package tenants

import (
	"context"
	"testing"
)

func TestMemoryDirectory_DefaultFallback(t *testing.T) {
	d := NewMemoryDirectory(2)
	if got := d.ConcurrencyLimit(context.Background(), "unknown"); got != 2 {
		t.Fatalf("expected default limit 2 for unknown tenant, got %d", got)
	}
}

func TestMemoryDirectory_PerTenantOverride(t *testing.T) {
	d := NewMemoryDirectory(2)
	d.Put(Tenant{ID: "big", Name: "big corp", ConcurrencyLimit: 5})
	if got := d.ConcurrencyLimit(context.Background(), "big"); got != 5 {
		t.Fatalf("expected override limit 5, got %d", got)
	}

	// A zero or negative stored limit falls back to the default.
	d.Put(Tenant{ID: "odd", ConcurrencyLimit: 0})
	if got := d.ConcurrencyLimit(context.Background(), "odd"); got != 2 {
		t.Fatalf("expected fallback for zero limit, got %d", got)
	}
}
