// metrics.go: Prometheus metrics for the admission path
package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "admission",
			Name:      "checks_total",
			Help:      "Total number of admission checks by rule and status",
		},
		[]string{"rule", "status"},
	)

	admissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "convoport",
			Subsystem: "admission",
			Name:      "check_duration_seconds",
			Help:      "Time spent evaluating admission checks",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	blockedRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "admission",
			Name:      "blocked_rejections_total",
			Help:      "Requests rejected because the source IP is blocked",
		},
	)

	storeFailovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "admission",
			Name:      "store_failovers_total",
			Help:      "Window store operations served by the local fallback",
		},
	)
)
