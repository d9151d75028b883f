package queue

import (
	"context"
	"time"
)

// CampaignGate decides whether a campaign entry is currently dispatchable
// (campaign active and inside its daily window). The store calls it during
// selection so closed-window entries are skipped in place, never deleted.
// It receives the full entry so inconsistent ones can be flagged by the
// caller.
type CampaignGate func(e Entry) bool

// Store is the persistent ordered collection of queue entries.
//
// Selection contract (NextEligible):
//  1. candidates: status = queued and scheduled_for <= now
//  2. any direct entry beats every campaign entry of the tenant
//  3. campaign entries additionally require the gate to pass
//  4. order by priority descending, then position ascending
type Store interface {
	Enqueue(ctx context.Context, e Entry) (Entry, error)
	EnqueueBatch(ctx context.Context, entries []Entry) ([]Entry, error)
	Get(ctx context.Context, id string) (Entry, error)

	NextEligible(ctx context.Context, tenantID string, now time.Time, gate CampaignGate) (Entry, bool, error)

	// MarkProcessing transitions queued -> processing. It fails with
	// ErrInvalidStatus if the entry is not queued, which keeps a dispatch
	// pass from double-claiming an entry.
	MarkProcessing(ctx context.Context, id string, now time.Time) error

	// Requeue returns a processing entry to queued with a new earliest
	// dispatch time. incAttempt distinguishes the busy/no-answer retry path
	// (consumes a retry) from the provider-cooldown path (does not).
	Requeue(ctx context.Context, id string, scheduledFor time.Time, incAttempt bool, lastOutcome string) error

	// Finalize transitions processing -> terminal status exactly once.
	Finalize(ctx context.Context, id string, status Status, reason string) error

	// Cancel marks a queued entry cancelled; processing entries are left to
	// run out, per the cancellation policy.
	Cancel(ctx context.Context, tenantID, id string) error

	// Flag records a reason on an entry without changing its status
	// (data-inconsistency path: skipped, never dispatched).
	Flag(ctx context.Context, id, reason string) error

	Counts(ctx context.Context, tenantID string) (queued, processing int, err error)

	// EarliestScheduled returns the smallest scheduled_for strictly after
	// `after` among queued entries (tenantID empty means all tenants).
	EarliestScheduled(ctx context.Context, tenantID string, after time.Time) (time.Time, bool, error)

	// TenantsWithDue lists tenants holding queued entries already due at now.
	TenantsWithDue(ctx context.Context, now time.Time) ([]string, error)

	// ListProcessing returns in-flight entries, used to rebuild slot
	// accounting after a restart.
	ListProcessing(ctx context.Context) ([]Entry, error)
}
