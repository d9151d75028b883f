package campaigns

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory campaign repository for tests and single-process
// development. It enforces tenant isolation on reads.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign // tenant_id|id
	clock     func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{campaigns: map[string]Campaign{}, clock: time.Now}
}

// WithClock overrides the repo clock for deterministic tests.
func (r *MemoryRepo) WithClock(now func() time.Time) *MemoryRepo {
	r.clock = now
	return r
}

func (r *MemoryRepo) Create(ctx context.Context, c Campaign) error {
	if err := c.Validate(); err != nil {
		return err
	}
	now := r.clock().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[key(c.TenantID, c.ID)] = c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[key(tenantID, id)]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) ListActive(ctx context.Context, tenantID string) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Campaign, 0)
	for _, c := range r.campaigns {
		if c.TenantID == tenantID && c.Status == StatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListAllActive(ctx context.Context) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Campaign, 0)
	for _, c := range r.campaigns {
		if c.Status == StatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, tenantID, id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[key(tenantID, id)]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = r.clock().UTC()
	r.campaigns[key(tenantID, id)] = c
	return nil
}

func (r *MemoryRepo) AddContacts(ctx context.Context, tenantID, id string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[key(tenantID, id)]
	if !ok {
		return ErrNotFound
	}
	c.TotalContacts += n
	c.UpdatedAt = r.clock().UTC()
	r.campaigns[key(tenantID, id)] = c
	return nil
}

func (r *MemoryRepo) RecordOutcome(ctx context.Context, tenantID, id string, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[key(tenantID, id)]
	if !ok {
		return ErrNotFound
	}
	switch outcome {
	case OutcomeSuccess:
		c.CompletedCalls++
		c.SuccessfulCalls++
	case OutcomeFailed:
		c.FailedCalls++
	case OutcomeCancelled:
		if c.TotalContacts > 0 {
			c.TotalContacts--
		}
	}
	if c.Resolved() && c.Status == StatusActive {
		c.Status = StatusCompleted
	}
	c.UpdatedAt = r.clock().UTC()
	r.campaigns[key(tenantID, id)] = c
	return nil
}
