// README: Prometheus metrics shared by the engine and the HTTP layer.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tricykol"

var (
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Number of drivers with an online session"})
	FixesAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_fixes_accepted_total", Help: "Fixes accepted by the movement filter"})

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_transitions_total", Help: "Trip transition attempts by target status and outcome"},
		[]string{"to", "result"},
	)
	TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trip_transition_duration_seconds",
			Help:      "Trip transition latency including proximity checks and remote writes",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"to"},
	)
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "settlements_total", Help: "Settlement attempts by outcome"},
		[]string{"result"},
	)
	SystemFeesCollected = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "system_fees_collected_total", Help: "Sum of system fees debited from wallets"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
