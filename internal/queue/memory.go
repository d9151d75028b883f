package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-memory queue store for tests and
// single-process development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	nextPos int64
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Entry{}, nextPos: 1, clock: time.Now}
}

// WithClock overrides the store clock for deterministic tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.clock = now
	return s
}

func (s *MemoryStore) Enqueue(ctx context.Context, e Entry) (Entry, error) {
	if err := e.validateForEnqueue(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(e), nil
}

func (s *MemoryStore) EnqueueBatch(ctx context.Context, entries []Entry) ([]Entry, error) {
	for _, e := range entries {
		if err := e.validateForEnqueue(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.enqueueLocked(e))
	}
	return out, nil
}

func (s *MemoryStore) enqueueLocked(e Entry) Entry {
	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Status = StatusQueued
	e.Position = s.nextPos
	s.nextPos++
	if e.ScheduledFor.IsZero() {
		e.ScheduledFor = now
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	s.entries[e.ID] = e
	return e
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) NextEligible(ctx context.Context, tenantID string, now time.Time, gate CampaignGate) (Entry, bool, error) {
	s.mu.Lock()
	candidates := make([]Entry, 0)
	for _, e := range s.entries {
		if e.TenantID != tenantID || e.Status != StatusQueued || e.ScheduledFor.After(now) {
			continue
		}
		candidates = append(candidates, e)
	}
	s.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CallType != b.CallType {
			return a.CallType == CallTypeDirect
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Position < b.Position
	})

	for _, e := range candidates {
		if e.CallType == CallTypeCampaign && gate != nil && !gate(e) {
			continue
		}
		return e, true, nil
	}
	return Entry{}, false, nil
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, id string, now time.Time) error {
	return s.transition(id, func(e *Entry) error {
		if e.Status != StatusQueued {
			return ErrInvalidStatus
		}
		e.Status = StatusProcessing
		e.LastAttemptAt = now.UTC()
		return nil
	})
}

func (s *MemoryStore) Requeue(ctx context.Context, id string, scheduledFor time.Time, incAttempt bool, lastOutcome string) error {
	return s.transition(id, func(e *Entry) error {
		if e.Status != StatusProcessing {
			return ErrInvalidStatus
		}
		e.Status = StatusQueued
		e.ScheduledFor = scheduledFor.UTC()
		if incAttempt {
			e.Attempts++
		}
		e.LastOutcome = lastOutcome
		return nil
	})
}

func (s *MemoryStore) Finalize(ctx context.Context, id string, status Status, reason string) error {
	if !status.Terminal() {
		return ErrInvalidStatus
	}
	return s.transition(id, func(e *Entry) error {
		if e.Status != StatusProcessing {
			return ErrInvalidStatus
		}
		e.Status = status
		e.ErrorReason = reason
		return nil
	})
}

func (s *MemoryStore) Cancel(ctx context.Context, tenantID, id string) error {
	return s.transition(id, func(e *Entry) error {
		if e.TenantID != tenantID {
			return ErrNotFound
		}
		if e.Status != StatusQueued {
			return ErrInvalidStatus
		}
		e.Status = StatusCancelled
		return nil
	})
}

func (s *MemoryStore) Flag(ctx context.Context, id, reason string) error {
	return s.transition(id, func(e *Entry) error {
		e.ErrorReason = reason
		return nil
	})
}

func (s *MemoryStore) transition(id string, fn func(e *Entry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&e); err != nil {
		return err
	}
	e.UpdatedAt = s.clock().UTC()
	s.entries[id] = e
	return nil
}

func (s *MemoryStore) Counts(ctx context.Context, tenantID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued, processing := 0, 0
	for _, e := range s.entries {
		if e.TenantID != tenantID {
			continue
		}
		switch e.Status {
		case StatusQueued:
			queued++
		case StatusProcessing:
			processing++
		}
	}
	return queued, processing, nil
}

func (s *MemoryStore) EarliestScheduled(ctx context.Context, tenantID string, after time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best time.Time
	found := false
	for _, e := range s.entries {
		if e.Status != StatusQueued || !e.ScheduledFor.After(after) {
			continue
		}
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		if !found || e.ScheduledFor.Before(best) {
			best = e.ScheduledFor
			found = true
		}
	}
	return best, found, nil
}

func (s *MemoryStore) TenantsWithDue(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, e := range s.entries {
		if e.Status != StatusQueued || e.ScheduledFor.After(now) {
			continue
		}
		if _, ok := seen[e.TenantID]; ok {
			continue
		}
		seen[e.TenantID] = struct{}{}
		out = append(out, e.TenantID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) ListProcessing(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if e.Status == StatusProcessing {
			out = append(out, e)
		}
	}
	return out, nil
}
