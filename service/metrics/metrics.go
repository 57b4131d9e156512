package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRetries       *prometheus.CounterVec
	lookupTableCacheHits   *prometheus.CounterVec

	// Payload decoding
	payloadsDecodedTotal *prometheus.CounterVec

	// Simulation
	simulationsTotal      *prometheus.CounterVec
	simulationUnitsUsed   prometheus.Histogram
	simulationDiffEntries prometheus.Histogram

	// Broadcast / resend loop
	broadcastsTotal      *prometheus.CounterVec
	broadcastAttempts    prometheus.Histogram
	broadcastConfirmTime *prometheus.HistogramVec
	recoveryPlansBuilt   *prometheus.CounterVec
	priorityFeePrice     prometheus.Histogram

	// Workflow Metrics
	broadcastWorkflowDuration *prometheus.HistogramVec
	activityDuration          *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// Price API Metrics
	priceRequestsTotal *prometheus.CounterVec
	priceCacheHits     *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		lookupTableCacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookup_table_cache_total",
				Help: "Address lookup table cache lookups by result (hit or miss)",
			},
			[]string{"result"},
		),

		// Payload decoding
		payloadsDecodedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payloads_decoded_total",
				Help: "Total number of transaction payloads decoded by encoding, version and status",
			},
			[]string{"encoding", "version", "status"},
		),

		// Simulation
		simulationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simulations_total",
				Help: "Total number of transaction simulations by outcome class",
			},
			[]string{"status"},
		),
		simulationUnitsUsed: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "simulation_compute_units",
				Help:    "Compute units consumed by simulated transactions",
				Buckets: []float64{1_000, 5_000, 20_000, 50_000, 100_000, 200_000, 400_000, 1_400_000},
			},
		),
		simulationDiffEntries: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "simulation_diff_rows",
				Help:    "Number of accounts in a simulation before/after table",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),

		// Broadcast / resend loop
		broadcastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcasts_total",
				Help: "Total number of transaction broadcasts by final status",
			},
			[]string{"status"},
		),
		broadcastAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "broadcast_attempts",
				Help:    "Number of sends performed before a broadcast settled",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 45, 90},
			},
		),
		broadcastConfirmTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broadcast_confirm_duration_seconds",
				Help:    "Time from first send until the broadcast settled",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
			[]string{"status"},
		),
		recoveryPlansBuilt: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_plans_built_total",
				Help: "Total number of recovery plans built by kind",
			},
			[]string{"kind"},
		),
		priorityFeePrice: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "priority_fee_micro_lamports",
				Help:    "Estimated compute unit price in micro-lamports",
				Buckets: []float64{0, 1_000, 10_000, 50_000, 100_000, 500_000, 1_000_000},
			},
		),

		// Workflow Metrics
		broadcastWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broadcast_workflow_duration_seconds",
				Help:    "Duration of broadcast workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind", "status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "activity_duration_seconds",
				Help:    "Duration of workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"activity"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// Price API Metrics
		priceRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_api_requests_total",
				Help: "Total number of price/token metadata API requests",
			},
			[]string{"endpoint", "status"},
		),
		priceCacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_cache_total",
				Help: "Price and token metadata cache lookups by kind and result",
			},
			[]string{"kind", "result"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordLookupTableCache records a lookup table cache hit or miss.
func (m *Metrics) RecordLookupTableCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookupTableCacheHits.WithLabelValues(result).Inc()
}

// Decoder metric helpers

// RecordDecode records a payload decode attempt.
func (m *Metrics) RecordDecode(encoding, version, status string) {
	m.payloadsDecodedTotal.WithLabelValues(encoding, version, status).Inc()
}

// Simulation metric helpers

// RecordSimulation records a simulation outcome and its size.
func (m *Metrics) RecordSimulation(status string, unitsConsumed uint64, rows int) {
	m.simulationsTotal.WithLabelValues(status).Inc()
	m.simulationUnitsUsed.Observe(float64(unitsConsumed))
	m.simulationDiffEntries.Observe(float64(rows))
}

// Broadcast metric helpers

// RecordBroadcast records the final status of a resend loop.
func (m *Metrics) RecordBroadcast(status string, attempts int, duration float64) {
	m.broadcastsTotal.WithLabelValues(status).Inc()
	m.broadcastAttempts.Observe(float64(attempts))
	m.broadcastConfirmTime.WithLabelValues(status).Observe(duration)
}

// RecordPlanBuilt records a recovery plan build.
func (m *Metrics) RecordPlanBuilt(kind string) {
	m.recoveryPlansBuilt.WithLabelValues(kind).Inc()
}

// RecordPriorityFee records an estimated compute unit price.
func (m *Metrics) RecordPriorityFee(microLamports uint64) {
	m.priorityFeePrice.Observe(float64(microLamports))
}

// Workflow metric helpers

// RecordWorkflowDuration records broadcast workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(kind, status string, duration float64) {
	m.broadcastWorkflowDuration.WithLabelValues(kind, status).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.activityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// Price API metric helpers

// RecordPriceRequest records a request to the price/token API.
func (m *Metrics) RecordPriceRequest(endpoint, status string) {
	m.priceRequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordPriceCache records a price or metadata cache lookup.
func (m *Metrics) RecordPriceCache(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.priceCacheHits.WithLabelValues(kind, result).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
