package feature

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sample outcomes counted by Metrics.
const (
	StatusExtracted = "extracted"
	StatusCached    = "cached"
	StatusFailed    = "failed"
)

// Metrics is the append-only progress counter shared by extraction workers.
type Metrics struct {
	samples *prometheus.CounterVec
}

// NewMetrics registers the counters on reg. A nil reg keeps them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "malcleanse"
	}
	return &Metrics{
		samples: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feature",
				Name:      "samples_total",
				Help:      "Number of samples processed by the extraction pool",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) record(status string) {
	m.samples.WithLabelValues(status).Inc()
}

// Collector exposes the underlying counter vector.
func (m *Metrics) Collector() *prometheus.CounterVec {
	return m.samples
}
