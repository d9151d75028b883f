package dispatch

import (
	"context"
	"errors"
	"sort"
	"time"

	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/slots"
	"dialer-platform/internal/telephony"
)

// pass runs one full dispatch pass: the cross-tenant fairness loop until
// capacity or eligible work is exhausted. Per-entry errors are contained
// here; a single bad entry never aborts the pass.
func (e *Engine) pass(ctx context.Context) {
	passStarted()
	now := e.clock.Now()

	for {
		due, err := e.store.TenantsWithDue(ctx, now)
		if err != nil {
			e.log.Error("tenant enumeration failed", "err", err)
			return
		}
		if len(due) == 0 {
			return
		}

		// Least-recently-allocated first; never-allocated tenants lead.
		// Ties fall back to tenant ID for determinism.
		sort.Slice(due, func(i, j int) bool {
			a, b := e.lastAlloc[due[i]], e.lastAlloc[due[j]]
			if a != b {
				return a < b
			}
			return due[i] < due[j]
		})

		progress := false
		for _, tenantID := range due {
			if ctx.Err() != nil {
				return
			}
			if e.dispatchOne(ctx, tenantID, now) {
				e.allocSeq++
				e.lastAlloc[tenantID] = e.allocSeq
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

// dispatchOne selects the tenant's next eligible entry and attempts a single
// dispatch. Returns true only when a call was actually handed to the provider.
func (e *Engine) dispatchOne(ctx context.Context, tenantID string, now time.Time) bool {
	entry, ok, err := e.store.NextEligible(ctx, tenantID, now, e.campaignGate(ctx, now))
	if err != nil {
		e.log.Error("eligible-entry selection failed", "tenant_id", tenantID, "err", err)
		return false
	}
	if !ok {
		return false
	}
	return e.tryDispatch(ctx, entry, now)
}

// campaignGate enforces campaign status and the daily window during
// selection. Entries referencing a missing campaign are flagged and skipped,
// never dispatched.
func (e *Engine) campaignGate(ctx context.Context, now time.Time) queue.CampaignGate {
	return func(entry queue.Entry) bool {
		c, err := e.registry.Get(ctx, entry.TenantID, entry.CampaignID)
		if err != nil {
			if errors.Is(err, campaigns.ErrNotFound) {
				if ferr := e.store.Flag(ctx, entry.ID, "campaign missing"); ferr != nil {
					e.logEntryErr(entry, "flagging inconsistent entry failed", ferr)
				}
				e.logEntryErr(entry, "entry references missing campaign", err)
			} else {
				e.logEntryErr(entry, "campaign lookup failed", err)
			}
			return false
		}
		if !c.Dispatchable() {
			return false
		}
		return campaigns.IsWithinWindow(c, now)
	}
}

// tryDispatch performs the atomic check-and-reserve, claims the entry, and
// initiates the call. Both concurrency ceilings are checked and the slot
// created in one atomic step inside the tracker, so no concurrent attempt
// can observe stale capacity between check and reservation.
func (e *Engine) tryDispatch(ctx context.Context, entry queue.Entry, now time.Time) bool {
	tenantLimit := e.tenants.ConcurrencyLimit(ctx, entry.TenantID)

	reserved, err := e.slots.Reserve(ctx, slots.Slot{
		EntryID:   entry.ID,
		TenantID:  entry.TenantID,
		CallType:  entry.CallType,
		StartedAt: now,
	}, tenantLimit)
	if err != nil {
		e.logEntryErr(entry, "slot reservation failed", err)
		return false
	}
	if !reserved {
		// Capacity exhaustion is not an error; the entry stays queued.
		capacityRejected()
		return false
	}

	if err := e.store.MarkProcessing(ctx, entry.ID, now); err != nil {
		// Entry changed under us (e.g. cancelled between select and claim).
		_ = e.slots.Release(ctx, entry.ID)
		e.logEntryErr(entry, "claim failed, releasing slot", err)
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.DispatchTimeout)
	defer cancel()
	res, err := e.provider.InitiateCall(callCtx, telephony.InitiateCallRequest{
		TenantID:    entry.TenantID,
		EntryID:     entry.ID,
		CampaignID:  entry.CampaignID,
		PhoneNumber: entry.PhoneNumber,
		ContactName: entry.ContactName,
		Attempt:     entry.Attempts + 1,
	})
	if err != nil || !res.Accepted {
		// Synchronous rejection: roll the reservation back and apply the
		// provider cooldown instead of the retry policy, so a failing
		// provider is not hammered and no retry attempt is consumed.
		providerRejected()
		_ = e.slots.Release(ctx, entry.ID)
		if rqErr := e.store.Requeue(ctx, entry.ID, now.Add(e.cfg.ProviderCooldown), false, ""); rqErr != nil {
			e.logEntryErr(entry, "cooldown requeue failed", rqErr)
		}
		e.log.Warn("provider rejected initiation",
			"entry_id", entry.ID, "tenant_id", entry.TenantID,
			"reason", res.Reason, "err", err)
		return false
	}

	if err := e.slots.BindExternal(ctx, entry.ID, res.ExternalID); err != nil {
		e.logEntryErr(entry, "binding external handle failed", err)
	}
	dispatchRecorded()
	return true
}
