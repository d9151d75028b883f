package dispatch

import "dialer-platform/internal/telemetry"

// Thin wrappers so engine code reads as domain events rather than metric
// plumbing.

func passStarted()      { telemetry.PassRuns.Inc() }
func capacityRejected() { telemetry.CapacityRejects.Inc() }
func providerRejected() { telemetry.ProviderRejects.Inc() }
func retryScheduled()   { telemetry.Retries.Inc() }

func dispatchRecorded() {
	telemetry.Dispatches.Inc()
	telemetry.ActiveSlotsGauge.Inc()
}

func slotReleased() { telemetry.ActiveSlotsGauge.Dec() }

func orphanReclaimed() {
	telemetry.OrphanReclaims.Inc()
	telemetry.ActiveSlotsGauge.Dec()
}

func slotsRebuilt(n int) { telemetry.ActiveSlotsGauge.Set(float64(n)) }
