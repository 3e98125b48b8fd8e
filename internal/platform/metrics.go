package platform

import "github.com/prometheus/client_golang/prometheus"

var (
	accessoriesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "airbridge_platform_accessories",
		Help: "Cached accessories by state (active, orphaned)",
	}, []string{"state"})
	evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airbridge_platform_evictions_total",
		Help: "Accessories removed after their orphan grace period",
	})
	reconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airbridge_platform_reconcile_total",
		Help: "Reconciliation runs by result (ok, error)",
	}, []string{"result"})
	lastReconcile = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "airbridge_platform_last_reconcile_timestamp_seconds",
		Help: "Last successful reconciliation (epoch seconds)",
	})
)

// MetricsCollectors exposes platform metrics for registry wiring.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{accessoriesGauge, evictionsTotal, reconcileTotal, lastReconcile}
}
