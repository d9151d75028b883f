package dispatch

import (
	"context"
	"time"

	"dialer-platform/internal/campaigns"
)

// Scheduler wake model.
//
// The engine is event/timer driven: it computes the next instant at which
// work can possibly exist (earliest deferred entry, earliest campaign window
// opening) and sleeps until then or until Notify. The backing store is only
// touched when there is provably work to do soon; there is no fixed-interval
// polling.

type schedState int

const (
	stateIdle schedState = iota
	stateArmed
	stateProcessing
)

// Notify wakes the scheduler. Safe to call from any goroutine. While a pass
// is processing, calls coalesce into at most one follow-up pass.
func (e *Engine) Notify() {
	e.stateMu.Lock()
	if e.state == stateProcessing {
		e.runAgain = true
		e.stateMu.Unlock()
		return
	}
	e.stateMu.Unlock()

	select {
	case e.notifyCh <- struct{}{}:
	default:
	}
}

// Run drives the scheduler until ctx is cancelled. Call RebuildSlots first.
func (e *Engine) Run(ctx context.Context) {
	for {
		next, armed := e.Tick(ctx)

		var timer *time.Timer
		var timerC <-chan time.Time
		if armed {
			d := next.Sub(e.clock.Now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-e.notifyCh:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
	}
}

// Tick runs the dispatch passes for one wake (including any passes queued by
// Notify during processing), recomputes the next wake instant, and moves to
// armed or idle. Exposed so tests can drive the scheduler deterministically.
func (e *Engine) Tick(ctx context.Context) (time.Time, bool) {
	e.setState(stateProcessing)
	for {
		for {
			e.pass(ctx)

			e.stateMu.Lock()
			again := e.runAgain
			e.runAgain = false
			e.stateMu.Unlock()
			if !again || ctx.Err() != nil {
				break
			}
		}

		next, ok := e.computeNextWake(ctx, e.clock.Now(), "")

		e.stateMu.Lock()
		// A Notify landing while the wake instant is recomputed only sets
		// runAgain (state is still processing). It must be consumed here:
		// arming or idling over a set flag loses the wakeup.
		if e.runAgain && ctx.Err() == nil {
			e.runAgain = false
			e.stateMu.Unlock()
			continue
		}
		if ok {
			e.nextWake = next
			e.state = stateArmed
		} else {
			e.nextWake = time.Time{}
			e.state = stateIdle
		}
		e.stateMu.Unlock()
		return next, ok
	}
}

func (e *Engine) setState(s schedState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// NextWakeAt returns the armed wake instant, zero when idle or processing.
func (e *Engine) NextWakeAt() (time.Time, bool) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state != stateArmed || e.nextWake.IsZero() {
		return time.Time{}, false
	}
	return e.nextWake, true
}

// computeNextWake finds the earliest instant at which new work can become
// eligible: the earliest future scheduled_for among queued entries, or the
// earliest window opening among active campaigns with unresolved contacts.
// tenantID scopes the computation; empty means all tenants.
func (e *Engine) computeNextWake(ctx context.Context, now time.Time, tenantID string) (time.Time, bool) {
	var best time.Time
	found := false
	merge := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if !found || t.Before(best) {
			best = t
			found = true
		}
	}

	if t, ok, err := e.store.EarliestScheduled(ctx, tenantID, now); err != nil {
		e.log.Error("next-wake scan failed", "err", err)
	} else if ok {
		merge(t)
	}

	var (
		cs  []campaigns.Campaign
		err error
	)
	if tenantID == "" {
		cs, err = e.registry.AllActive(ctx)
	} else {
		cs, err = e.registry.Active(ctx, tenantID)
	}
	if err != nil {
		e.log.Error("campaign scan failed", "err", err)
		return best, found
	}
	for _, c := range cs {
		if c.TotalContacts <= c.CompletedCalls+c.FailedCalls {
			continue
		}
		merge(campaigns.NextWindowOpen(c, now))
	}
	return best, found
}
