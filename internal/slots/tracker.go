package slots

import (
	"context"
	"errors"
	"time"

	"dialer-platform/internal/queue"
)

// Slot is the ephemeral record of one in-flight call. Created at dispatch
// time under the concurrency ceilings, deleted when the terminal outcome
// arrives (or when the orphan sweep reclaims it).
type Slot struct {
	EntryID    string         `json:"entry_id"`
	TenantID   string         `json:"tenant_id"`
	CallType   queue.CallType `json:"call_type"`
	ExternalID string         `json:"external_id,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
}

var (
	ErrSlotNotFound = errors.New("slot not found")
	ErrDuplicate    = errors.New("slot already reserved for entry")
)

// Tracker is the authoritative record of in-flight calls.
//
// Reserve must check the global ceiling and the tenant ceiling and create
// the slot in one atomic step: no concurrent reservation may observe a
// stale count between check and reserve.
type Tracker interface {
	// Reserve returns false (no error) when either ceiling is reached.
	Reserve(ctx context.Context, s Slot, tenantLimit int) (bool, error)

	Release(ctx context.Context, entryID string) error

	// BindExternal attaches the provider's call handle once initiation
	// succeeds, so terminal callbacks can be routed back to the entry.
	BindExternal(ctx context.Context, entryID, externalID string) error

	ResolveExternal(ctx context.Context, externalID string) (Slot, bool, error)

	// Counts returns the tenant's slot count and the global slot count.
	Counts(ctx context.Context, tenantID string) (tenant int, total int, err error)

	// Reap removes and returns slots started before cutoff whose terminal
	// callback never arrived. Each orphan is returned exactly once.
	Reap(ctx context.Context, cutoff time.Time) ([]Slot, error)

	// Rebuild replaces all accounting with the given slots; used at startup
	// to restore counts from persisted processing entries.
	Rebuild(ctx context.Context, existing []Slot) error
}
