package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/clock"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/slots"
	"dialer-platform/internal/telephony"
	"dialer-platform/internal/tenants"
)

// Engine is the dispatch orchestrator: it owns the scheduler wake model,
// the per-pass fairness loop, slot acquisition, and the public queue
// operations exposed to collaborators.
//
// Shared mutable state (slot tracker, queue store) is only written through
// the atomic check-and-reserve step or single-writer update paths; a single
// dispatch pass runs at a time per process.
type Engine struct {
	store    queue.Store
	slots    slots.Tracker
	registry *campaigns.Registry
	tenants  tenants.Directory
	provider telephony.Provider
	clock    clock.Clock
	log      *slog.Logger
	cfg      Config

	// Scheduler wake state (scheduler.go).
	stateMu  sync.Mutex
	state    schedState
	runAgain bool
	notifyCh chan struct{}
	nextWake time.Time

	// Fairness: allocation sequence per tenant, least-recently-allocated
	// dispatches first. Only the pass loop touches it.
	lastAlloc map[string]uint64
	allocSeq  uint64
}

// Config carries the dispatch tunables. Limits for tenants come from the
// tenant directory; SystemLimit is enforced inside the slot tracker and kept
// here for reporting.
type Config struct {
	SystemLimit int

	// DispatchTimeout bounds a single provider initiation so a slow provider
	// cannot stall a pass.
	DispatchTimeout time.Duration

	// ProviderCooldown delays re-dispatch after a synchronous provider
	// rejection. Deliberately distinct from the campaign retry policy.
	ProviderCooldown time.Duration

	// MaxCallDuration is the generous upper bound on a plausible call; slots
	// older than this are orphans.
	MaxCallDuration time.Duration

	OrphanSweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.SystemLimit <= 0 {
		out.SystemLimit = 10
	}
	if out.DispatchTimeout <= 0 {
		out.DispatchTimeout = 5 * time.Second
	}
	if out.ProviderCooldown <= 0 {
		out.ProviderCooldown = 30 * time.Second
	}
	if out.MaxCallDuration <= 0 {
		out.MaxCallDuration = 2 * time.Hour
	}
	if out.OrphanSweepInterval <= 0 {
		out.OrphanSweepInterval = 5 * time.Minute
	}
	return out
}

// Deps groups the engine's collaborators.
type Deps struct {
	Store    queue.Store
	Slots    slots.Tracker
	Registry *campaigns.Registry
	Tenants  tenants.Directory
	Provider telephony.Provider
	Clock    clock.Clock
	Log      *slog.Logger
}

var (
	ErrUnknownHandle   = errors.New("unknown call handle")
	ErrInvalidOutcome  = errors.New("invalid call outcome")
	ErrNotDispatchable = errors.New("campaign cannot accept entries")
	ErrInvalidRequest  = errors.New("invalid request")
)

func NewEngine(deps Deps, cfg Config) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Engine{
		store:     deps.Store,
		slots:     deps.Slots,
		registry:  deps.Registry,
		tenants:   deps.Tenants,
		provider:  deps.Provider,
		clock:     deps.Clock,
		log:       deps.Log,
		cfg:       cfg.withDefaults(),
		notifyCh:  make(chan struct{}, 1),
		lastAlloc: map[string]uint64{},
	}
}

// DirectCallRequest enqueues one tenant-initiated call. Direct calls always
// dispatch before campaign calls and carry no retry budget.
type DirectCallRequest struct {
	ContactName string `json:"contact_name,omitempty"`
	PhoneNumber string `json:"phone_number"`
	Priority    int    `json:"priority"`
}

// EnqueueDirect creates a direct queue entry and wakes the scheduler.
func (e *Engine) EnqueueDirect(ctx context.Context, tenantID string, req DirectCallRequest) (queue.Entry, error) {
	if tenantID == "" || req.PhoneNumber == "" {
		return queue.Entry{}, ErrInvalidRequest
	}
	entry, err := e.store.Enqueue(ctx, queue.Entry{
		TenantID:     tenantID,
		CallType:     queue.CallTypeDirect,
		ContactName:  req.ContactName,
		PhoneNumber:  req.PhoneNumber,
		Priority:     req.Priority,
		ScheduledFor: e.clock.Now(),
	})
	if err != nil {
		return queue.Entry{}, err
	}
	e.Notify()
	return entry, nil
}

// BatchContact is one contact of a campaign batch. Priority is computed by
// the contact-enrichment collaborator before enqueue.
type BatchContact struct {
	ContactName string `json:"contact_name,omitempty"`
	PhoneNumber string `json:"phone_number"`
	Priority    int    `json:"priority"`
}

// EnqueueCampaignBatch creates entries for a campaign's contacts, growing
// the campaign's contact total, and wakes the scheduler.
func (e *Engine) EnqueueCampaignBatch(ctx context.Context, tenantID, campaignID string, contacts []BatchContact) ([]queue.Entry, error) {
	if tenantID == "" || campaignID == "" || len(contacts) == 0 {
		return nil, ErrInvalidRequest
	}
	c, err := e.registry.Get(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case campaigns.StatusScheduled, campaigns.StatusActive:
	default:
		return nil, fmt.Errorf("%w: status %s", ErrNotDispatchable, c.Status)
	}

	now := e.clock.Now()
	batch := make([]queue.Entry, 0, len(contacts))
	for _, ct := range contacts {
		batch = append(batch, queue.Entry{
			TenantID:     tenantID,
			CampaignID:   campaignID,
			CallType:     queue.CallTypeCampaign,
			ContactName:  ct.ContactName,
			PhoneNumber:  ct.PhoneNumber,
			Priority:     ct.Priority,
			MaxRetries:   c.MaxRetries,
			ScheduledFor: now,
		})
	}
	// Grow the contact total before creating entries: completion is derived
	// from completed+failed >= total, so the total must never lag the
	// entries it counts.
	if err := e.registry.AddContacts(ctx, tenantID, campaignID, len(batch)); err != nil {
		return nil, err
	}
	entries, err := e.store.EnqueueBatch(ctx, batch)
	if err != nil {
		if rbErr := e.registry.AddContacts(ctx, tenantID, campaignID, -len(batch)); rbErr != nil {
			e.log.Error("campaign contact total rollback failed",
				"tenant_id", tenantID, "campaign_id", campaignID, "err", rbErr)
		}
		return nil, err
	}
	e.Notify()
	return entries, nil
}

// Cancel marks a queued entry cancelled. In-flight entries are left to run
// out; their outcome callback resolves them.
func (e *Engine) Cancel(ctx context.Context, tenantID, entryID string) error {
	entry, err := e.store.Get(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.TenantID != tenantID {
		return queue.ErrNotFound
	}
	if err := e.store.Cancel(ctx, tenantID, entryID); err != nil {
		return err
	}
	if entry.CampaignID != "" {
		if err := e.registry.RecordOutcome(ctx, tenantID, entry.CampaignID, campaigns.OutcomeCancelled); err != nil {
			e.log.Error("campaign counter update failed",
				"tenant_id", tenantID, "campaign_id", entry.CampaignID, "err", err)
		}
	}
	return nil
}

// StatusReport is the tenant-visible queue snapshot.
type StatusReport struct {
	TenantID        string     `json:"tenant_id"`
	QueuedCount     int        `json:"queued_count"`
	ProcessingCount int        `json:"processing_count"`
	NextWakeAt      *time.Time `json:"next_wake_at,omitempty"`
}

// QueueStatus reports queue depth and the tenant's next wake instant.
func (e *Engine) QueueStatus(ctx context.Context, tenantID string) (StatusReport, error) {
	if tenantID == "" {
		return StatusReport{}, ErrInvalidRequest
	}
	queued, processing, err := e.store.Counts(ctx, tenantID)
	if err != nil {
		return StatusReport{}, err
	}
	out := StatusReport{TenantID: tenantID, QueuedCount: queued, ProcessingCount: processing}
	if next, ok := e.computeNextWake(ctx, e.clock.Now(), tenantID); ok {
		out.NextWakeAt = &next
	}
	return out, nil
}

// RegisterCampaign validates and persists a campaign definition.
func (e *Engine) RegisterCampaign(ctx context.Context, c campaigns.Campaign) error {
	if err := e.registry.Create(ctx, c); err != nil {
		return err
	}
	e.Notify()
	return nil
}

// ActivateCampaign opens a scheduled campaign for dispatch. Entries of a
// scheduled campaign can be enqueued but are never selected until activation.
func (e *Engine) ActivateCampaign(ctx context.Context, tenantID, id string) error {
	return e.setCampaignStatus(ctx, tenantID, id, campaigns.StatusScheduled, campaigns.StatusActive)
}

// PauseCampaign suspends dispatch of the campaign's entries.
func (e *Engine) PauseCampaign(ctx context.Context, tenantID, id string) error {
	return e.setCampaignStatus(ctx, tenantID, id, campaigns.StatusActive, campaigns.StatusPaused)
}

// ResumeCampaign reverses a pause.
func (e *Engine) ResumeCampaign(ctx context.Context, tenantID, id string) error {
	return e.setCampaignStatus(ctx, tenantID, id, campaigns.StatusPaused, campaigns.StatusActive)
}

// CancelCampaign permanently excludes the campaign from dispatch.
func (e *Engine) CancelCampaign(ctx context.Context, tenantID, id string) error {
	c, err := e.registry.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	switch c.Status {
	case campaigns.StatusCompleted, campaigns.StatusCancelled:
		return fmt.Errorf("%w: status %s", ErrNotDispatchable, c.Status)
	}
	if err := e.registry.SetStatus(ctx, tenantID, id, campaigns.StatusCancelled); err != nil {
		return err
	}
	e.Notify()
	return nil
}

func (e *Engine) setCampaignStatus(ctx context.Context, tenantID, id string, from, to campaigns.Status) error {
	c, err := e.registry.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if c.Status != from {
		return fmt.Errorf("%w: status %s", ErrNotDispatchable, c.Status)
	}
	if err := e.registry.SetStatus(ctx, tenantID, id, to); err != nil {
		return err
	}
	e.Notify()
	return nil
}

// OnCallTerminated consumes the normalized terminal outcome for an in-flight
// call: it releases the slot, resolves the entry (terminal or retry), bumps
// campaign counters, and wakes the scheduler since capacity is now free.
func (e *Engine) OnCallTerminated(ctx context.Context, externalID string, outcome telephony.CallOutcome) error {
	if !outcome.Valid() {
		return ErrInvalidOutcome
	}
	slot, ok, err := e.slots.ResolveExternal(ctx, externalID)
	if err != nil {
		return err
	}
	if !ok {
		// Duplicate or late callback; the slot may already be reclaimed.
		e.log.Warn("terminal callback for unknown handle", "external_id", externalID)
		return ErrUnknownHandle
	}
	// Resolve the entry before giving up the slot: a failed resolution
	// leaves the slot (and its external binding) in place, so a callback
	// retry or the orphan sweep can still reach the entry.
	entry, err := e.store.Get(ctx, slot.EntryID)
	if err != nil {
		return err
	}
	if err := e.resolveOutcome(ctx, entry, outcome); err != nil {
		return err
	}

	if err := e.slots.Release(ctx, slot.EntryID); err != nil && !errors.Is(err, slots.ErrSlotNotFound) {
		return err
	}
	slotReleased()
	e.Notify()
	return nil
}

func (e *Engine) resolveOutcome(ctx context.Context, entry queue.Entry, outcome telephony.CallOutcome) error {
	now := e.clock.Now()
	switch outcome {
	case telephony.OutcomeCompleted:
		return e.finalize(ctx, entry, queue.StatusCompleted, "", campaigns.OutcomeSuccess)

	case telephony.OutcomeFailed:
		return e.finalize(ctx, entry, queue.StatusFailed, "call failed", campaigns.OutcomeFailed)

	case telephony.OutcomeCancelled:
		return e.finalize(ctx, entry, queue.StatusCancelled, "", campaigns.OutcomeCancelled)

	case telephony.OutcomeBusy, telephony.OutcomeNoAnswer:
		// Transient outcome: bounded retry with backoff, terminal failure
		// once the budget is spent.
		if entry.Attempts < entry.MaxRetries {
			retryAt := now.Add(e.retryInterval(ctx, entry))
			if err := e.store.Requeue(ctx, entry.ID, retryAt, true, string(outcome)); err != nil {
				return err
			}
			retryScheduled()
			return nil
		}
		return e.finalize(ctx, entry, queue.StatusFailed, "retries exhausted: "+string(outcome), campaigns.OutcomeFailed)
	}
	return nil
}

func (e *Engine) finalize(ctx context.Context, entry queue.Entry, status queue.Status, reason string, outcome campaigns.Outcome) error {
	if err := e.store.Finalize(ctx, entry.ID, status, reason); err != nil {
		return err
	}
	if entry.CampaignID == "" {
		return nil
	}
	if err := e.registry.RecordOutcome(ctx, entry.TenantID, entry.CampaignID, outcome); err != nil {
		e.logEntryErr(entry, "campaign counter update failed", err)
	}
	return nil
}

func (e *Engine) retryInterval(ctx context.Context, entry queue.Entry) time.Duration {
	if entry.CampaignID == "" {
		return e.cfg.ProviderCooldown
	}
	c, err := e.registry.Get(ctx, entry.TenantID, entry.CampaignID)
	if err != nil || c.RetryInterval <= 0 {
		return e.cfg.ProviderCooldown
	}
	return c.RetryInterval
}

// RebuildSlots restores slot accounting from persisted processing entries.
// Run at startup before the scheduler loop: in-memory counts must never be
// trusted across process restarts.
func (e *Engine) RebuildSlots(ctx context.Context) error {
	entries, err := e.store.ListProcessing(ctx)
	if err != nil {
		return err
	}
	existing := make([]slots.Slot, 0, len(entries))
	for _, entry := range entries {
		existing = append(existing, slots.Slot{
			EntryID:   entry.ID,
			TenantID:  entry.TenantID,
			CallType:  entry.CallType,
			StartedAt: entry.LastAttemptAt,
		})
	}
	if err := e.slots.Rebuild(ctx, existing); err != nil {
		return err
	}
	slotsRebuilt(len(existing))
	return nil
}

func (e *Engine) logEntryErr(entry queue.Entry, msg string, err error) {
	e.log.Error(msg,
		"entry_id", entry.ID,
		"tenant_id", entry.TenantID,
		"campaign_id", entry.CampaignID,
		"err", err)
}
