package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dvuploader/pkg/metrics"
)

// digestMetrics counts digest lookups against the in-memory and persistent
// caches.
type digestMetrics struct {
	lookups *prometheus.CounterVec
}

// NewDigestMetrics creates a new Prometheus-backed DigestMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDigestMetrics() metrics.DigestMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &digestMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dvuploader_digest_lookups_total",
				Help: "Fixity digests served, by source",
			},
			[]string{"source"}, // "memory", "store", "computed"
		),
	}
}

func (m *digestMetrics) ObserveLookup(source string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(source).Inc()
}
