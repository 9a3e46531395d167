package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelforge_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Pipeline Metrics
	StageRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_stage_runs_total",
			Help: "Total number of pipeline stage executions",
		},
		[]string{"stage", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelforge_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~2 hours
		},
		[]string{"stage"},
	)

	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"pipeline", "result"},
	)

	// Generation Metrics
	GenerationJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_generation_jobs_total",
			Help: "Total number of generation jobs by final state",
		},
		[]string{"state"},
	)

	GenerationPollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelforge_generation_polls_total",
			Help: "Total number of status polls sent to the generation backend",
		},
	)

	GenerationSubmitRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelforge_generation_submit_retries_total",
			Help: "Total number of throttled submissions that were retried",
		},
	)

	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reelforge_generation_duration_seconds",
			Help:    "Wall time from submission to terminal state",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~40 minutes
		},
	)

	// Transcoding Metrics
	TranscodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_transcodes_total",
			Help: "Total number of ffmpeg invocations by outcome",
		},
		[]string{"operation", "status"},
	)

	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelforge_transcode_duration_seconds",
			Help:    "ffmpeg invocation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"operation"},
	)

	TranscodeOutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reelforge_transcode_output_bytes",
			Help:    "Size of transcoded outputs in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 14), // 64KB to 512MB
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelforge_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelforge_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Queue Metrics
	UploadRequestsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_upload_requests_published_total",
			Help: "Total number of upload requests handed to the queue",
		},
		[]string{"platform", "status"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Webhook Metrics
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_webhook_deliveries_total",
			Help: "Total number of webhook deliveries",
		},
		[]string{"event", "status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelforge_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordStage records a finished pipeline stage
func RecordStage(stage, status string, duration float64) {
	StageRunsTotal.WithLabelValues(stage, status).Inc()
	StageDuration.WithLabelValues(stage).Observe(duration)
}

// RecordPipelineRun records a finished pipeline run
func RecordPipelineRun(pipeline string, succeeded bool) {
	result := "succeeded"
	if !succeeded {
		result = "failed"
	}
	PipelineRunsTotal.WithLabelValues(pipeline, result).Inc()
}

// RecordGeneration records the terminal state of a generation job
func RecordGeneration(state string, duration float64) {
	GenerationJobsTotal.WithLabelValues(state).Inc()
	GenerationDuration.Observe(duration)
}

// RecordPoll records one status poll
func RecordPoll() {
	GenerationPollsTotal.Inc()
}

// RecordSubmitRetry records one throttled submission
func RecordSubmitRetry() {
	GenerationSubmitRetriesTotal.Inc()
}

// RecordTranscode records an ffmpeg invocation; size is only observed on success
func RecordTranscode(operation, status string, duration float64, size int64) {
	TranscodesTotal.WithLabelValues(operation, status).Inc()
	TranscodeDuration.WithLabelValues(operation).Observe(duration)
	if status == "success" {
		TranscodeOutputBytes.Observe(float64(size))
	}
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordUploadRequest records a queue publish
func RecordUploadRequest(platform, status string) {
	UploadRequestsPublished.WithLabelValues(platform, status).Inc()
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordWebhookDelivery records a webhook delivery attempt outcome
func RecordWebhookDelivery(event, status string) {
	WebhookDeliveriesTotal.WithLabelValues(event, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// Status maps an error to the status label used by the Record helpers
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
