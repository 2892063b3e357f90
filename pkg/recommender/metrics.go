package recommender

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generateRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafcare_generator_requests_total",
			Help: "Recommendation generation calls by generator and outcome",
		},
		[]string{"generator", "outcome"},
	)

	generateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leafcare_generator_duration_seconds",
			Help:    "Latency of recommendation generation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"generator"},
	)
)
