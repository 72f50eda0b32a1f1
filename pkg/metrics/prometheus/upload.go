// Package prometheus implements the metrics interfaces on top of the
// registry owned by pkg/metrics. Importing it registers the constructors.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dvuploader/pkg/metrics"
	"github.com/marmos91/dvuploader/pkg/upload"
)

func init() {
	metrics.RegisterUploadMetricsConstructor(NewUploadMetrics)
	metrics.RegisterDigestMetricsConstructor(NewDigestMetrics)
}

// uploadMetrics is the Prometheus implementation of upload.Metrics.
type uploadMetrics struct {
	filesTotal        *prometheus.CounterVec
	bytesUploaded     prometheus.Counter
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	lockWaitSeconds   prometheus.Counter
	inFlight          prometheus.Gauge
	batchDuration     *prometheus.HistogramVec
	lastBatch         prometheus.Gauge
}

// NewUploadMetrics creates a new Prometheus-backed upload.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() upload.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &uploadMetrics{
		filesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dvuploader_files_total",
				Help: "Files reaching a terminal status, by status and reason",
			},
			[]string{"status", "reason"},
		),
		bytesUploaded: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dvuploader_uploaded_bytes_total",
				Help: "Bytes of files successfully uploaded",
			},
		),
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dvuploader_operations_total",
				Help: "Repository and storage calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dvuploader_operation_duration_milliseconds",
				Help: "Duration of repository and storage calls in milliseconds",
				Buckets: []float64{
					10,     // 10ms - listing and lock checks
					50,     // 50ms
					100,    // 100ms
					500,    // 500ms - small files
					1000,   // 1s
					5000,   // 5s - medium files and parts
					30000,  // 30s
					120000, // 2m - large proxied uploads
					600000, // 10m
				},
			},
			[]string{"operation"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dvuploader_retries_total",
				Help: "Retries by layer (operation or pass)",
			},
			[]string{"layer"},
		),
		lockWaitSeconds: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dvuploader_lock_wait_seconds_total",
				Help: "Time spent waiting for the dataset to unlock",
			},
		),
		inFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dvuploader_files_in_flight",
				Help: "Files currently transferring",
			},
		),
		batchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dvuploader_batch_duration_seconds",
				Help:    "Wall time of upload batches",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"mode"},
		),
		lastBatch: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dvuploader_last_batch_timestamp_seconds",
				Help: "Unix time the last batch finished",
			},
		),
	}
}

func (m *uploadMetrics) ObserveFile(status upload.Status, reason upload.Reason, bytes int64) {
	if m == nil {
		return
	}
	m.filesTotal.WithLabelValues(string(status), string(reason)).Inc()
	if status == upload.StatusUploaded && bytes > 0 {
		m.bytesUploaded.Add(float64(bytes))
	}
}

func (m *uploadMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds() * 1000)
}

func (m *uploadMetrics) ObserveRetry(layer string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(layer).Inc()
}

func (m *uploadMetrics) ObserveLockWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.lockWaitSeconds.Add(duration.Seconds())
}

func (m *uploadMetrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

func (m *uploadMetrics) ObserveBatch(mode upload.Mode, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(mode.String()).Observe(duration.Seconds())
	m.lastBatch.SetToCurrentTime()
}
