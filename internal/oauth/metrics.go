package oauth

import "github.com/prometheus/client_golang/prometheus"

var (
	exchangeSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airbridge_oauth_exchange_success_total",
			Help: "Successful client-credentials token exchanges",
		},
		[]string{"provider"},
	)
	exchangeFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airbridge_oauth_exchange_failure_total",
			Help: "Failed client-credentials token exchanges",
		},
		[]string{"provider"},
	)
	tokenValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airbridge_oauth_token_valid",
			Help: "OAuth access token validity (1=valid, 0=invalid)",
		},
		[]string{"provider"},
	)
	tokenExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airbridge_oauth_token_expiry_timestamp_seconds",
			Help: "Expiry of the cached access token, margin included (epoch seconds)",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors returns collectors for the shared OAuth module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		exchangeSuccess,
		exchangeFailure,
		tokenValid,
		tokenExpiry,
	}
}
