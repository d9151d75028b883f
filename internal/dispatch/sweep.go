package dispatch

import (
	"context"
	"time"

	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/queue"
)

// Orphan reclamation. External callback delivery is not guaranteed, so a
// slot can outlive its call indefinitely. The sweep runs on its own long
// interval, independent of the dispatch wake model.

// RunOrphanSweep reaps orphaned slots periodically until ctx is cancelled.
func (e *Engine) RunOrphanSweep(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.OrphanSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ReapOrphans(ctx); err != nil {
				e.log.Error("orphan sweep failed", "err", err)
			}
		}
	}
}

// ReapOrphans removes slots older than the maximum plausible call duration
// and fails their entries with reason "orphaned". The tracker hands out each
// orphan exactly once, and Finalize only transitions processing entries, so
// a reclaimed entry cannot be failed twice. A second scan reconciles entries
// stranded in processing without a slot, which the slot scan never sees.
func (e *Engine) ReapOrphans(ctx context.Context) (int, error) {
	cutoff := e.clock.Now().Add(-e.cfg.MaxCallDuration)
	orphans, err := e.slots.Reap(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, s := range orphans {
		entry, err := e.store.Get(ctx, s.EntryID)
		if err != nil {
			e.log.Error("orphaned entry lookup failed", "entry_id", s.EntryID, "err", err)
			continue
		}
		if err := e.finalize(ctx, entry, queue.StatusFailed, "orphaned", campaigns.OutcomeFailed); err != nil {
			e.logEntryErr(entry, "orphan finalize failed", err)
			continue
		}
		orphanReclaimed()
		reclaimed++
		e.log.Warn("orphaned slot reclaimed",
			"entry_id", s.EntryID, "tenant_id", s.TenantID, "started_at", s.StartedAt)
	}

	stale, err := e.store.ListProcessing(ctx)
	if err != nil {
		return reclaimed, err
	}
	for _, entry := range stale {
		if !entry.LastAttemptAt.Before(cutoff) {
			continue
		}
		if err := e.slots.Release(ctx, entry.ID); err == nil {
			slotReleased()
		}
		if err := e.finalize(ctx, entry, queue.StatusFailed, "orphaned", campaigns.OutcomeFailed); err != nil {
			e.logEntryErr(entry, "orphan finalize failed", err)
			continue
		}
		orphanReclaimed()
		reclaimed++
		e.log.Warn("stranded processing entry reclaimed",
			"entry_id", entry.ID, "tenant_id", entry.TenantID, "last_attempt_at", entry.LastAttemptAt)
	}

	if reclaimed > 0 {
		e.Notify()
	}
	return reclaimed, nil
}
