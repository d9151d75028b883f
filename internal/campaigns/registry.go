package campaigns

import (
	"context"
	"sync"
)

// Repository abstracts campaign persistence.
//
// Implementations must enforce tenant filtering on reads.
type Repository interface {
	Create(ctx context.Context, c Campaign) error
	Get(ctx context.Context, tenantID, id string) (Campaign, error)
	ListActive(ctx context.Context, tenantID string) ([]Campaign, error)
	ListAllActive(ctx context.Context) ([]Campaign, error)
	SetStatus(ctx context.Context, tenantID, id string, status Status) error

	// AddContacts grows TotalContacts when a batch is enqueued.
	AddContacts(ctx context.Context, tenantID, id string, n int) error

	// RecordOutcome bumps the terminal-outcome counters and flips the
	// campaign to completed once every contact has resolved.
	RecordOutcome(ctx context.Context, tenantID, id string, outcome Outcome) error
}

// Outcome classifies a terminal call result for counter bookkeeping.
// Success bumps both completed and successful; failure bumps failed;
// cancelled removes the contact from the denominator so completion
// derivation stays exact.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeCancelled
)

// Registry is the scheduler's read-mostly view of campaigns. Lookups hit a
// cache that is invalidated on notify rather than re-read on every check.
type Registry struct {
	repo Repository

	mu    sync.Mutex
	cache map[string][]Campaign // tenant_id -> active campaigns
	byID  map[string]Campaign   // tenant_id|id
}

func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:  repo,
		cache: map[string][]Campaign{},
		byID:  map[string]Campaign{},
	}
}

func key(tenantID, id string) string { return tenantID + "|" + id }

// Active returns the tenant's active campaigns, serving from cache when warm.
func (r *Registry) Active(ctx context.Context, tenantID string) ([]Campaign, error) {
	r.mu.Lock()
	if cs, ok := r.cache[tenantID]; ok {
		r.mu.Unlock()
		return cs, nil
	}
	r.mu.Unlock()

	cs, err := r.repo.ListActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[tenantID] = cs
	for _, c := range cs {
		r.byID[key(tenantID, c.ID)] = c
	}
	r.mu.Unlock()
	return cs, nil
}

// Get resolves one campaign, preferring the cache.
func (r *Registry) Get(ctx context.Context, tenantID, id string) (Campaign, error) {
	r.mu.Lock()
	if c, ok := r.byID[key(tenantID, id)]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	c, err := r.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Campaign{}, err
	}
	r.mu.Lock()
	r.byID[key(tenantID, id)] = c
	r.mu.Unlock()
	return c, nil
}

// AllActive lists active campaigns across every tenant (next-wake computation).
func (r *Registry) AllActive(ctx context.Context) ([]Campaign, error) {
	return r.repo.ListAllActive(ctx)
}

// Invalidate drops the cache. Call on any campaign mutation.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.cache = map[string][]Campaign{}
	r.byID = map[string]Campaign{}
	r.mu.Unlock()
}

// Write-through mutations. Each invalidates the cache so the next pass sees
// fresh state.

func (r *Registry) Create(ctx context.Context, c Campaign) error {
	if err := r.repo.Create(ctx, c); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

func (r *Registry) SetStatus(ctx context.Context, tenantID, id string, status Status) error {
	if err := r.repo.SetStatus(ctx, tenantID, id, status); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

func (r *Registry) AddContacts(ctx context.Context, tenantID, id string, n int) error {
	if err := r.repo.AddContacts(ctx, tenantID, id, n); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

func (r *Registry) RecordOutcome(ctx context.Context, tenantID, id string, outcome Outcome) error {
	if err := r.repo.RecordOutcome(ctx, tenantID, id, outcome); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}
