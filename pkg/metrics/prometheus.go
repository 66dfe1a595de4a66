// Package metrics provides Prometheus metrics for the dialog KPI recorder and collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Outcome label values shared by several counters.
const (
	OutcomeEnabled  = "enabled"
	OutcomeDisabled = "disabled"
	OutcomeResumed  = "resumed"
	OutcomeMissing  = "missing"
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeEmpty    = "empty"
)

// Manager manages all Prometheus metrics for the dialog KPI service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Recorder metrics
	eventsRecorded  prometheus.Counter
	eventsDropped   *prometheus.CounterVec
	eventsCollapsed prometheus.Counter
	startAdjusts    prometheus.Counter

	// Session lifecycle
	samplingDecisions *prometheus.CounterVec
	resumes           *prometheus.CounterVec
	publishes         *prometheus.CounterVec

	// Upload pipeline
	uploadLatency    prometheus.Histogram
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueRejected    *prometheus.CounterVec
	workerCount      prometheus.Gauge
	workerProcessing prometheus.Histogram

	// Collector intake
	recordsReceived  prometheus.Counter
	recordsDuplicate prometheus.Counter
	recordsStored    prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "dialogkpi",
		subsystem:        "kpi",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.eventsRecorded = m.counter("events_recorded_total", "Total number of tuples appended to an event stream")
	m.eventsDropped = m.counterVec("events_dropped_total", "Events that produced no tuple, by reason", "reason")
	m.eventsCollapsed = m.counter("events_collapsed_total", "Network-completion events folded into the previous tuple")
	m.startAdjusts = m.counter("start_time_adjustments_total", "Retroactive start-time corrections applied")

	m.samplingDecisions = m.counterVec("sampling_decisions_total", "Per-session sampling decisions by outcome", "outcome")
	m.resumes = m.counterVec("continuation_resumes_total", "Continuation page loads by outcome", "outcome")
	m.publishes = m.counterVec("publishes_total", "Previous-record publications by outcome", "outcome")

	m.uploadLatency = m.histogram("upload_latency_milliseconds", "Record upload latency in milliseconds")
	m.queueSize = m.gauge("queue_size", "Current size of the upload queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum upload queue capacity")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Total number of uploads enqueued")
	m.queueRejected = m.counterVec("queue_rejected_total", "Uploads refused by the queue, by reason", "reason")
	m.workerCount = m.gauge("worker_count", "Current number of upload workers")
	m.workerProcessing = m.histogram("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds")

	m.recordsReceived = m.counter("records_received_total", "Records accepted by the collection endpoint")
	m.recordsDuplicate = m.counter("records_duplicate_total", "Records rejected as already received")
	m.recordsStored = m.gauge("records_stored", "Records currently held by the collector sink")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordEventRecorded increments the appended tuples counter.
func RecordEventRecorded() { globalManager.eventsRecorded.Inc() }

// RecordEventDropped counts an event that produced no tuple.
func RecordEventDropped(reason string) { globalManager.eventsDropped.WithLabelValues(reason).Inc() }

// RecordEventCollapsed counts a duplicate completion folded into its predecessor.
func RecordEventCollapsed() { globalManager.eventsCollapsed.Inc() }

// RecordStartAdjust counts a retroactive start-time correction.
func RecordStartAdjust() { globalManager.startAdjusts.Inc() }

// RecordSamplingDecision counts a sampling decision by outcome.
func RecordSamplingDecision(outcome string) {
	globalManager.samplingDecisions.WithLabelValues(outcome).Inc()
}

// RecordResume counts a continuation resume by outcome.
func RecordResume(outcome string) { globalManager.resumes.WithLabelValues(outcome).Inc() }

// RecordPublish counts a previous-record publication by outcome.
func RecordPublish(outcome string) { globalManager.publishes.WithLabelValues(outcome).Inc() }

// RecordUploadLatency records upload latency in milliseconds.
func RecordUploadLatency(latencyMs float64) { globalManager.uploadLatency.Observe(latencyMs) }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue counts an accepted upload.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueRejected counts an upload the queue refused.
func RecordQueueRejected(reason string) { globalManager.queueRejected.WithLabelValues(reason).Inc() }

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records worker processing latency in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessing.Observe(latencyMs)
}

// RecordRecordReceived counts a record accepted by the collector.
func RecordRecordReceived() { globalManager.recordsReceived.Inc() }

// RecordRecordDuplicate counts a record the collector had already seen.
func RecordRecordDuplicate() { globalManager.recordsDuplicate.Inc() }

// UpdateRecordsStored sets the number of records held by the sink.
func UpdateRecordsStored(count int) { globalManager.recordsStored.Set(float64(count)) }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// GetRegistry returns the custom registry the global manager writes to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Enabled reports whether the periodic gauge updaters should run.
func Enabled() bool { return globalManager.enabled }

// RefreshInterval is how often the periodic gauges are refreshed.
func RefreshInterval() time.Duration { return globalManager.refreshInterval }
