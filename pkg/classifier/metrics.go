package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	classifyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcare_classifier_requests_total",
			Help: "Classification calls by final outcome",
		},
		[]string{"outcome"},
	)

	classifyAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leafcare_classifier_attempts_total",
			Help: "HTTP attempts made against the classifier, including retries",
		},
	)

	classifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leafcare_classifier_duration_seconds",
			Help:    "Latency of classification calls including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)
