package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alarmd_http_requests_total",
		Help: "HTTP requests served by the status API",
	}, []string{"method", "route", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alarmd_http_request_duration_seconds",
		Help:    "Status API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
