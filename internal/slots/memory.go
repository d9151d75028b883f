package slots

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker enforces both ceilings with a single mutex around the
// check-and-reserve step. Suitable for single-process deployments; counts
// are rebuilt from persisted processing entries at startup.
type MemoryTracker struct {
	systemLimit int

	mu         sync.Mutex
	byEntry    map[string]Slot
	byExternal map[string]string // external_id -> entry_id
	perTenant  map[string]int
}

func NewMemoryTracker(systemLimit int) *MemoryTracker {
	return &MemoryTracker{
		systemLimit: systemLimit,
		byEntry:     map[string]Slot{},
		byExternal:  map[string]string{},
		perTenant:   map[string]int{},
	}
}

func (t *MemoryTracker) Reserve(ctx context.Context, s Slot, tenantLimit int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byEntry[s.EntryID]; ok {
		return false, ErrDuplicate
	}
	if len(t.byEntry) >= t.systemLimit {
		return false, nil
	}
	if t.perTenant[s.TenantID] >= tenantLimit {
		return false, nil
	}
	t.byEntry[s.EntryID] = s
	t.perTenant[s.TenantID]++
	if s.ExternalID != "" {
		t.byExternal[s.ExternalID] = s.EntryID
	}
	return true, nil
}

func (t *MemoryTracker) Release(ctx context.Context, entryID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byEntry[entryID]
	if !ok {
		return ErrSlotNotFound
	}
	t.removeLocked(s)
	return nil
}

func (t *MemoryTracker) removeLocked(s Slot) {
	delete(t.byEntry, s.EntryID)
	if s.ExternalID != "" {
		delete(t.byExternal, s.ExternalID)
	}
	if t.perTenant[s.TenantID] <= 1 {
		delete(t.perTenant, s.TenantID)
	} else {
		t.perTenant[s.TenantID]--
	}
}

func (t *MemoryTracker) BindExternal(ctx context.Context, entryID, externalID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byEntry[entryID]
	if !ok {
		return ErrSlotNotFound
	}
	if s.ExternalID != "" {
		delete(t.byExternal, s.ExternalID)
	}
	s.ExternalID = externalID
	t.byEntry[entryID] = s
	t.byExternal[externalID] = entryID
	return nil
}

func (t *MemoryTracker) ResolveExternal(ctx context.Context, externalID string) (Slot, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entryID, ok := t.byExternal[externalID]
	if !ok {
		return Slot{}, false, nil
	}
	return t.byEntry[entryID], true, nil
}

func (t *MemoryTracker) Counts(ctx context.Context, tenantID string) (int, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perTenant[tenantID], len(t.byEntry), nil
}

func (t *MemoryTracker) Reap(ctx context.Context, cutoff time.Time) ([]Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	orphans := make([]Slot, 0)
	for _, s := range t.byEntry {
		if s.StartedAt.Before(cutoff) {
			orphans = append(orphans, s)
		}
	}
	for _, s := range orphans {
		t.removeLocked(s)
	}
	return orphans, nil
}

func (t *MemoryTracker) Rebuild(ctx context.Context, existing []Slot) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byEntry = map[string]Slot{}
	t.byExternal = map[string]string{}
	t.perTenant = map[string]int{}
	for _, s := range existing {
		t.byEntry[s.EntryID] = s
		t.perTenant[s.TenantID]++
		if s.ExternalID != "" {
			t.byExternal[s.ExternalID] = s.EntryID
		}
	}
	return nil
}
