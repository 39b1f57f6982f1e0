package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Pipeline metrics
	PipelineRunsTotal   *prometheus.CounterVec
	PipelineDuration    *prometheus.HistogramVec
	PipelineStepErrors  *prometheus.CounterVec
	TriggersTotal       *prometheus.CounterVec
	DigestsSentTotal    prometheus.Counter
	AlertsSkippedTotal  *prometheus.CounterVec
	AxisChangesTotal    *prometheus.CounterVec
	TickersProcessed    *prometheus.GaugeVec
	ColdStartsTotal     prometheus.Counter
	ValuationValidGauge prometheus.Gauge

	// External API metrics
	ExternalAPIRequestsTotal *prometheus.CounterVec
	ExternalAPIErrorsTotal   *prometheus.CounterVec
	ExternalAPIDuration      *prometheus.HistogramVec

	// Object storage metrics
	StorageOpsTotal    *prometheus.CounterVec
	StorageOpsDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryTotal    *prometheus.CounterVec
	DBErrorsTotal   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// defaultBuckets are the default histogram buckets for duration metrics (in seconds)
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// pipelineBuckets cover batch job durations (in seconds)
var pipelineBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}

// globalMetrics is the global metrics instance
var globalMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		// Pipeline metrics
		PipelineRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Total number of pipeline runs by job and status",
			},
			[]string{"job", "status"},
		),
		PipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stock_sentinel",
				Subsystem: "pipeline",
				Name:      "duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   pipelineBuckets,
			},
			[]string{"job"},
		),
		PipelineStepErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "pipeline",
				Name:      "step_errors_total",
				Help:      "Total number of pipeline step errors",
			},
			[]string{"job", "step"},
		),
		TriggersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "templates",
				Name:      "triggers_total",
				Help:      "Total number of template triggers fired",
			},
			[]string{"template_id"},
		),
		DigestsSentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "alerts",
				Name:      "digests_sent_total",
				Help:      "Total number of digest emails sent",
			},
		),
		AlertsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "alerts",
				Name:      "skipped_total",
				Help:      "Total number of alerts suppressed by reason",
			},
			[]string{"reason"},
		),
		AxisChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "alerts",
				Name:      "axis_changes_total",
				Help:      "Total number of material axis changes detected",
			},
			[]string{"change_type"},
		),
		TickersProcessed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stock_sentinel",
				Subsystem: "features",
				Name:      "tickers_processed",
				Help:      "Tickers processed in the most recent run",
			},
			[]string{"job"},
		),
		ColdStartsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "features",
				Name:      "cold_starts_total",
				Help:      "Total number of indicator cold starts",
			},
		),
		ValuationValidGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "stock_sentinel",
				Subsystem: "features",
				Name:      "valuation_valid",
				Help:      "Tickers with valid valuation fields in the most recent run",
			},
		),

		// External API metrics
		ExternalAPIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "external_api",
				Name:      "requests_total",
				Help:      "Total number of external API requests",
			},
			[]string{"service", "operation"},
		),
		ExternalAPIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "external_api",
				Name:      "errors_total",
				Help:      "Total number of external API errors",
			},
			[]string{"service", "operation", "error_type"},
		),
		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stock_sentinel",
				Subsystem: "external_api",
				Name:      "duration_seconds",
				Help:      "Duration of external API calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"service", "operation"},
		),

		// Object storage metrics
		StorageOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Total number of object storage operations",
			},
			[]string{"operation", "status"},
		),
		StorageOpsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stock_sentinel",
				Subsystem: "storage",
				Name:      "operation_duration_seconds",
				Help:      "Duration of object storage operations in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"operation"},
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stock_sentinel",
				Subsystem: "database",
				Name:      "query_duration_seconds",
				Help:      "Duration of database queries in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"operation", "table"},
		),
		DBQueryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "database",
				Name:      "queries_total",
				Help:      "Total number of database queries",
			},
			[]string{"operation", "table"},
		),
		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "database",
				Name:      "errors_total",
				Help:      "Total number of database errors",
			},
			[]string{"operation", "table"},
		),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stock_sentinel",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "path"},
		),

		// Circuit breaker metrics
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stock_sentinel",
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stock_sentinel",
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"service"},
		),
	}

	return m
}

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		return InitMetrics()
	}
	return globalMetrics
}

// RecordPipelineRun records a completed pipeline run
func (m *Metrics) RecordPipelineRun(job, status string, duration time.Duration) {
	m.PipelineRunsTotal.WithLabelValues(job, status).Inc()
	m.PipelineDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordStepError records a pipeline step error
func (m *Metrics) RecordStepError(job, step string) {
	m.PipelineStepErrors.WithLabelValues(job, step).Inc()
}

// RecordTrigger records a fired template trigger
func (m *Metrics) RecordTrigger(templateID string) {
	m.TriggersTotal.WithLabelValues(templateID).Inc()
}

// RecordExternalAPIRequest records an external API request
func (m *Metrics) RecordExternalAPIRequest(service, operation string) {
	m.ExternalAPIRequestsTotal.WithLabelValues(service, operation).Inc()
}

// RecordExternalAPIError records an external API error
func (m *Metrics) RecordExternalAPIError(service, operation, errorType string) {
	m.ExternalAPIErrorsTotal.WithLabelValues(service, operation, errorType).Inc()
}

// RecordExternalAPIDuration records the duration of an external API call
func (m *Metrics) RecordExternalAPIDuration(service, operation string, duration time.Duration) {
	m.ExternalAPIDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordStorageOp records an object storage operation
func (m *Metrics) RecordStorageOp(operation, status string, duration time.Duration) {
	m.StorageOpsTotal.WithLabelValues(operation, status).Inc()
	m.StorageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDBQuery records a database query
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration) {
	m.DBQueryTotal.WithLabelValues(operation, table).Inc()
	m.DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordDBError records a database error
func (m *Metrics) RecordDBError(operation, table string) {
	m.DBErrorsTotal.WithLabelValues(operation, table).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the current state of a circuit breaker
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(service string) {
	m.CircuitBreakerTrips.WithLabelValues(service).Inc()
}

// Timer is a helper for timing operations
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer
func (m *Metrics) NewTimer() *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: m,
	}
}

// ObservePipeline records the pipeline run duration and status
func (t *Timer) ObservePipeline(job, status string) {
	t.metrics.RecordPipelineRun(job, status, time.Since(t.start))
}

// ObserveExternalAPI records the external API duration
func (t *Timer) ObserveExternalAPI(service, operation string) {
	t.metrics.RecordExternalAPIDuration(service, operation, time.Since(t.start))
}

// ObserveDB records the database query duration
func (t *Timer) ObserveDB(operation, table string) {
	t.metrics.RecordDBQuery(operation, table, time.Since(t.start))
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
