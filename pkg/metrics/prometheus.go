// Package metrics provides Prometheus metrics for the decision-logging client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the decision-logging client.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ranking
	eventsRanked    prometheus.Counter
	rankFallbacks   *prometheus.CounterVec
	rankLatency     prometheus.Histogram
	invalidRecords  prometheus.Counter
	eventsDiscarded prometheus.Counter

	// Queue Metrics - bounded event queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueTotal  prometheus.Counter
	queueDequeueTotal  prometheus.Counter
	queueOverflowTotal prometheus.Counter

	// Upload Metrics - batch uploader
	batchesUploaded  prometheus.Counter
	eventsUploaded   prometheus.Counter
	batchSizeBytes   prometheus.Histogram
	batchEventCount  prometheus.Histogram
	uploadLatency    prometheus.Histogram
	uploadErrors     *prometheus.CounterVec
	uploadsInFlight  prometheus.Gauge
	uploadSlotWaits  prometheus.Counter
	uploadConnection prometheus.Gauge

	// Reward Metrics
	rewardsSent   prometheus.Counter
	rewardErrors  *prometheus.CounterVec
	rewardLatency prometheus.Histogram

	// Model Metrics
	modelUpdates       prometheus.Counter
	modelRefreshErrors prometheus.Counter
	modelSizeBytes     prometheus.Gauge
	modelLastUpdate    prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "decisionlog",
		subsystem:        "client",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	return m.metricPrefix + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	sizeBuckets := prometheus.ExponentialBuckets(256, 4, 10)
	countBuckets := prometheus.ExponentialBuckets(1, 2, 14)

	m.eventsRanked = m.counter("events_ranked_total", "Total number of rank calls that produced an event")
	m.rankFallbacks = m.counterVec("rank_fallbacks_total", "Rank calls answered with the default ranking, by reason", "reason")
	m.rankLatency = m.histogram("rank_latency_milliseconds", "Histogram of synchronous rank latency in milliseconds", m.histogramBuckets)
	m.invalidRecords = m.counter("invalid_records_total", "Rank results rejected because the record was invalid")
	m.eventsDiscarded = m.counter("events_discarded_total", "Queued events discarded at shutdown without being uploaded")

	m.queueSize = m.gauge("queue_size", "Current number of serialized events waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Fixed capacity of the event queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size divided by capacity")
	m.queueEnqueueTotal = m.counter("queue_enqueue_total", "Total number of events accepted by the queue")
	m.queueDequeueTotal = m.counter("queue_dequeue_total", "Total number of events taken off the queue by the uploader")
	m.queueOverflowTotal = m.counter("queue_overflow_total", "Total number of events dropped because the queue was full")

	m.batchesUploaded = m.counter("batches_uploaded_total", "Total number of batches accepted by the interaction sink")
	m.eventsUploaded = m.counter("events_uploaded_total", "Total number of events inside accepted batches")
	m.batchSizeBytes = m.histogram("batch_size_bytes", "Size of dispatched batches in bytes", sizeBuckets)
	m.batchEventCount = m.histogram("batch_event_count", "Number of events per dispatched batch", countBuckets)
	m.uploadLatency = m.histogram("upload_latency_milliseconds", "Latency of a single batch upload in milliseconds", m.histogramBuckets)
	m.uploadErrors = m.counterVec("upload_errors_total", "Dropped batches by failure kind", "kind")
	m.uploadsInFlight = m.gauge("uploads_in_flight", "Number of batch uploads currently in flight")
	m.uploadSlotWaits = m.counter("upload_slot_waits_total", "Times the uploader waited because every connection was busy")
	m.uploadConnection = m.gauge("upload_connections", "Number of pooled interaction connections")

	m.rewardsSent = m.counter("rewards_sent_total", "Total number of rewards accepted by the observation sink")
	m.rewardErrors = m.counterVec("reward_errors_total", "Rewards that failed, by failure kind", "kind")
	m.rewardLatency = m.histogram("reward_latency_milliseconds", "Latency of a reward send in milliseconds", m.histogramBuckets)

	m.modelUpdates = m.counter("model_updates_total", "Total number of model installs")
	m.modelRefreshErrors = m.counter("model_refresh_errors_total", "Total number of failed model refresh attempts")
	m.modelSizeBytes = m.gauge("model_size_bytes", "Size of the active model in bytes")
	m.modelLastUpdate = m.gauge("model_last_update_unix", "Unix time of the last model install")

	auto := promauto.With(m.registry)
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_requests_total"),
			Help:        "Total number of HTTP requests by endpoint and method",
			ConstLabels: m.customLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_request_duration_milliseconds"),
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: m.customLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint, method and type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// Ranking Functions.

// RecordEventRanked increments the ranked events counter.
func RecordEventRanked() {
	globalManager.eventsRanked.Inc()
}

// RecordRankFallback counts a rank answered with the default ranking.
func RecordRankFallback(reason string) {
	globalManager.rankFallbacks.WithLabelValues(reason).Inc()
}

// RecordRankLatency records rank latency in milliseconds.
func RecordRankLatency(latencyMs float64) {
	globalManager.rankLatency.Observe(latencyMs)
}

// RecordInvalidRecord increments the invalid record counter.
func RecordInvalidRecord() {
	globalManager.invalidRecords.Inc()
}

// RecordEventsDiscarded adds n events dropped at shutdown.
func RecordEventsDiscarded(n int) {
	globalManager.eventsDiscarded.Add(float64(n))
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueTotal.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueTotal.Inc()
}

// RecordQueueOverflow increments the overflow counter.
func RecordQueueOverflow() {
	globalManager.queueOverflowTotal.Inc()
}

// Upload Metrics Functions.

// RecordBatchDispatched observes the size of a batch handed to a connection.
func RecordBatchDispatched(sizeBytes, events int) {
	globalManager.batchSizeBytes.Observe(float64(sizeBytes))
	globalManager.batchEventCount.Observe(float64(events))
}

// RecordBatchUploaded counts a batch the sink accepted.
func RecordBatchUploaded(events int) {
	globalManager.batchesUploaded.Inc()
	globalManager.eventsUploaded.Add(float64(events))
}

// RecordUploadLatency records upload latency in milliseconds.
func RecordUploadLatency(latencyMs float64) {
	globalManager.uploadLatency.Observe(latencyMs)
}

// RecordUploadError counts a dropped batch by failure kind.
func RecordUploadError(kind string) {
	globalManager.uploadErrors.WithLabelValues(kind).Inc()
}

// UpdateUploadsInFlight sets the number of in-flight uploads.
func UpdateUploadsInFlight(n int) {
	globalManager.uploadsInFlight.Set(float64(n))
}

// RecordUploadSlotWait counts a wait for a free connection.
func RecordUploadSlotWait() {
	globalManager.uploadSlotWaits.Inc()
}

// UpdateUploadConnections sets the size of the connection pool.
func UpdateUploadConnections(n int) {
	globalManager.uploadConnection.Set(float64(n))
}

// Reward Metrics Functions.

// RecordRewardSent counts an accepted reward.
func RecordRewardSent() {
	globalManager.rewardsSent.Inc()
}

// RecordRewardError counts a failed reward by kind.
func RecordRewardError(kind string) {
	globalManager.rewardErrors.WithLabelValues(kind).Inc()
}

// RecordRewardLatency records reward send latency in milliseconds.
func RecordRewardLatency(latencyMs float64) {
	globalManager.rewardLatency.Observe(latencyMs)
}

// Model Metrics Functions.

// RecordModelUpdate records a model install of the given size.
func RecordModelUpdate(sizeBytes int) {
	globalManager.modelUpdates.Inc()
	globalManager.modelSizeBytes.Set(float64(sizeBytes))
	globalManager.modelLastUpdate.Set(float64(time.Now().Unix()))
}

// RecordModelRefreshError counts a failed refresh attempt.
func RecordModelRefreshError() {
	globalManager.modelRefreshErrors.Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
