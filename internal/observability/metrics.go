package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Readings folded into the aggregation engine. rate() gives ingest throughput.
	RecordsIngestedTotal prometheus.Counter

	// Source rows skipped by the stream reader, by reason (malformed, invalid).
	RecordsSkippedTotal *prometheus.CounterVec

	// Alerts appended to the alert log, by severity tier.
	AlertsEmittedTotal *prometheus.CounterVec

	// Query cache hits/misses per signature. Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend failures by operation and error category. Nonzero with the
	// memcached backend means the view is being recomputed every request.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache backend operation latency. Mostly interesting for memcached.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent misses for one signature that collapsed into a single
	// recomputation, and the time waiters spent blocked on it.
	QueryCoalescingHitsTotal   *prometheus.CounterVec
	QueryCoalescingWaitSeconds prometheus.Histogram

	// Stampede detection: >1 concurrent miss observed for a signature.
	CacheStampedeDetectedTotal *prometheus.CounterVec

	// Q&A collaborator call rate and latency by outcome status.
	RAGCallsTotal *prometheus.CounterVec
	RAGDuration   *prometheus.HistogramVec

	// Retry attempts against the collaborator. High values = unstable collaborator.
	RAGRetriesTotal prometheus.Counter

	// Requests answered with the fixed fallback payload instead of the collaborator.
	RAGFallbacksTotal prometheus.Counter

	// Circuit breaker state transitions and current state (0 closed, 1 open, 2 half-open).
	CircuitBreakerTransitionsTotal *prometheus.CounterVec
	circuitBreakerState            *prometheus.GaugeVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	RecordsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recordsIngestedTotal",
			Help: "Total number of source readings folded into the aggregation engine",
		},
	)
	RecordsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordsSkippedTotal",
			Help: "Source rows skipped by the stream reader",
		},
		[]string{"reason"},
	)
	AlertsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertsEmittedTotal",
			Help: "Pollution alerts appended to the alert log",
		},
		[]string{"severity"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Query cache hits by signature",
		},
		[]string{"signature"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Query cache misses by signature",
		},
		[]string{"signature"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache backend operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "outcome"},
	)
	QueryCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryCoalescingHitsTotal",
			Help: "Query recomputations avoided by coalescing concurrent misses",
		},
		[]string{"signature"},
	)
	QueryCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queryCoalescingWaitSeconds",
			Help:    "Time spent waiting on an in-flight recomputation",
			Buckets: prometheus.DefBuckets,
		},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Concurrent cache misses observed for the same signature",
		},
		[]string{"signature"},
	)
	RAGCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragCallsTotal",
			Help: "Total number of Q&A collaborator calls",
		},
		[]string{"status"},
	)
	RAGDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragDurationSeconds",
			Help:    "Q&A collaborator latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	RAGRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragRetriesTotal",
			Help: "Total number of retry attempts for Q&A collaborator calls",
		},
	)
	RAGFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragFallbacksTotal",
			Help: "Q&A requests answered with the fixed fallback payload",
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		RecordsIngestedTotal, RecordsSkippedTotal, AlertsEmittedTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		QueryCoalescingHitsTotal, QueryCoalescingWaitSeconds, CacheStampedeDetectedTotal,
		RAGCallsTotal, RAGDuration, RAGRetriesTotal, RAGFallbacksTotal,
		CircuitBreakerTransitionsTotal, circuitBreakerState,
		RateLimitDeniedTotal,
	)
}

// RecordCircuitBreakerTransition records a state transition for metrics.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// SetCircuitBreakerStateGauge sets the current breaker state gauge.
func SetCircuitBreakerStateGauge(component string, state int) {
	circuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
