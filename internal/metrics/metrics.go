// Package metrics exposes the Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztoapi_requests_total",
		Help: "Chat completion requests by platform, model and response status.",
	}, []string{"platform", "model", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ztoapi_request_duration_seconds",
		Help:    "End to end request latency.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"platform", "model"})

	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ztoapi_cache_hits_total",
		Help: "Non-streaming responses served from the response cache.",
	})

	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ztoapi_cache_misses_total",
		Help: "Non-streaming requests that reached the upstream.",
	})

	TokenSourceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztoapi_token_source_total",
		Help: "Credential acquisitions by cascade stage (header, static, kv, anonymous).",
	}, []string{"source"})

	UpstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ztoapi_upstream_errors_total",
		Help: "Failed upstream calls by platform.",
	}, []string{"platform"})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ztoapi_active_streams",
		Help: "Streaming responses currently open.",
	})
)
