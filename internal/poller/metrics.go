package poller

import "github.com/prometheus/client_golang/prometheus"

var (
	cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airbridge_poller_cycles_total",
		Help: "Poll cycles by outcome (success, soft, rate_limited, hard)",
	}, []string{"outcome"})
	escalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airbridge_poller_soft_escalations_total",
		Help: "Devices faulted after consecutive soft failures",
	})
)

// MetricsCollectors exposes poller metrics for registry wiring.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{cyclesTotal, escalationsTotal}
}
