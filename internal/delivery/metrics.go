package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Delivery attempts by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	deliveryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "delivery",
			Name:      "retries_total",
			Help:      "Retries scheduled by target",
		},
		[]string{"target"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "convoport",
			Subsystem: "delivery",
			Name:      "duration_seconds",
			Help:      "End-to-end delivery duration including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"target", "outcome"},
	)

	payloadBytesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "convoport",
			Subsystem: "delivery",
			Name:      "payload_bytes_saved_total",
			Help:      "Bytes removed by payload shaping and compression",
		},
	)
)
