package metrics

import (
	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/upload"
)

// NewUploadMetrics creates a Prometheus-backed upload.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called). Pass the
// result to upload.WithMetrics, which treats nil as disabled.
//
// Example usage:
//
//	metrics.InitRegistry()
//	engine := upload.NewEngine(client, upload.WithMetrics(metrics.NewUploadMetrics()))
func NewUploadMetrics() upload.Metrics {
	if !IsEnabled() || newPrometheusUploadMetrics == nil {
		return nil
	}
	return newPrometheusUploadMetrics()
}

// newPrometheusUploadMetrics is implemented in pkg/metrics/prometheus; the
// indirection keeps this package free of the implementation import.
var newPrometheusUploadMetrics func() upload.Metrics

// RegisterUploadMetricsConstructor registers the Prometheus upload metrics
// constructor. Called by pkg/metrics/prometheus during initialization.
func RegisterUploadMetricsConstructor(constructor func() upload.Metrics) {
	newPrometheusUploadMetrics = constructor
}

// DigestMetrics counts where fixity digests were served from.
type DigestMetrics interface {
	ObserveLookup(source string)
}

// NewDigestMetrics creates a Prometheus-backed DigestMetrics instance, or
// nil when metrics are disabled.
func NewDigestMetrics() DigestMetrics {
	if !IsEnabled() || newPrometheusDigestMetrics == nil {
		return nil
	}
	return newPrometheusDigestMetrics()
}

var newPrometheusDigestMetrics func() DigestMetrics

// RegisterDigestMetricsConstructor registers the Prometheus digest metrics
// constructor.
func RegisterDigestMetricsConstructor(constructor func() DigestMetrics) {
	newPrometheusDigestMetrics = constructor
}

// ObserveDigests wires m into a checksum engine. A nil m leaves the engine
// unobserved.
func ObserveDigests(e *checksum.Engine, m DigestMetrics) {
	if m == nil || e == nil {
		return
	}
	e.SetObserver(m.ObserveLookup)
}
