package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Dispatches       = prometheus.NewCounter(prometheus.CounterOpts{Name: "dialer_dispatches_total", Help: "Calls handed to the provider"})
	CapacityRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "dialer_capacity_rejects_total", Help: "Dispatch attempts skipped because a concurrency ceiling was reached"})
	ProviderRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "dialer_provider_rejects_total", Help: "Synchronous provider rejections at initiation"})
	Retries          = prometheus.NewCounter(prometheus.CounterOpts{Name: "dialer_retries_total", Help: "Busy/no-answer outcomes requeued for retry"})
	OrphanReclaims   = prometheus.NewCounter(prometheus.CounterOpts{Name: "dialer_orphan_reclaims_total", Help: "Slots reclaimed by the orphan sweep"})
	PassRuns         = prometheus.NewCounter(prometheus.CounterOpts{Name: "dialer_passes_total", Help: "Dispatch passes executed"})
	ActiveSlotsGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "dialer_active_slots", Help: "Calls currently in flight"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Dispatches,
			CapacityRejects,
			ProviderRejects,
			Retries,
			OrphanReclaims,
			PassRuns,
			ActiveSlotsGauge,
		)
	})
	return promhttp.Handler()
}
