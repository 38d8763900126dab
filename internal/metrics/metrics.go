package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Inference pipeline metrics
	InferenceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_requests_total",
			Help: "Total number of inference requests handled by the pipeline",
		},
		[]string{"result", "cache"}, // result: success, failure; cache: hit, miss
	)

	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_duration_seconds",
			Help:    "Wall-clock duration of cache-mediated inference",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"cache"},
	)

	CollaboratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_collaborator_failures_total",
			Help: "Total number of failed fetch or classify calls",
		},
		[]string{"stage"}, // stage: fetch, classify, panic
	)

	// Result cache metrics
	ResultCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_lookups_total",
			Help: "Total number of result cache lookups",
		},
		[]string{"result"}, // result: hit, miss, expired
	)

	ResultCacheSharedFlights = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "result_cache_shared_flights_total",
			Help: "Total number of callers that waited on another caller's in-flight computation",
		},
	)

	ResultCacheItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "result_cache_items",
			Help: "Current number of entries in the result cache",
		},
	)

	ResultCacheEvictions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "result_cache_evictions",
			Help: "Cumulative number of capacity evictions from the result cache",
		},
	)

	// Usage monitor metrics
	MonitorTrackedKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "usage_monitor_tracked_keys",
			Help: "Number of keys with an unexpired usage record",
		},
	)

	MonitorSweptKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_monitor_swept_keys_total",
			Help: "Total number of stale usage records removed by sweeps",
		},
	)

	// Outbound HTTP metrics (image fetch and model server)
	OutboundHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_http_requests_total",
			Help: "Total number of outbound HTTP attempts",
		},
		[]string{"target", "status"}, // status: success, retry, error
	)

	OutboundHTTPRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_http_retries_total",
			Help: "Total number of outbound HTTP retries",
		},
		[]string{"target"},
	)

	OutboundRetryAfterWaits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbound_retry_after_wait_seconds",
			Help:    "Duration of Retry-After waits in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	FetchRateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_fetch_rate_limit_waits_total",
			Help: "Total number of times an image fetch waited for the outbound rate limiter",
		},
	)

	ModelInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_requests_in_flight",
			Help: "Number of classification requests currently held by the model semaphore",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// API request metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"endpoint", "method", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Report stream metrics
	ReportStreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "report_stream_connections_active",
			Help: "Number of active report stream WebSocket connections",
		},
	)

	ReportStreamMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_stream_messages_sent_total",
			Help: "Total number of report snapshots sent to stream clients",
		},
	)
)
