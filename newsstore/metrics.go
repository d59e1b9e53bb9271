package newsstore

import (
	"github.com/c360/signalstream/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics holds Prometheus metrics for dedupe store operations.
type storeMetrics struct {
	inserts    prometheus.Counter
	duplicates prometheus.Counter
	size       prometheus.Gauge
}

// newStoreMetrics creates and registers store metrics with the provided registry.
func newStoreMetrics(registry *metric.MetricsRegistry, prefix string) (*storeMetrics, error) {
	m := &storeMetrics{
		inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "signalstream",
			Subsystem:   "newsstore",
			Name:        "inserts_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of new fingerprints inserted",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "signalstream",
			Subsystem:   "newsstore",
			Name:        "duplicates_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of duplicate fingerprints rejected",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "signalstream",
			Subsystem:   "newsstore",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of stored records",
		}),
	}

	if err := registry.RegisterCounter(prefix, "newsstore_inserts", m.inserts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "newsstore_duplicates", m.duplicates); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "newsstore_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *storeMetrics) recordInsert() {
	m.inserts.Inc()
}

func (m *storeMetrics) recordDuplicate() {
	m.duplicates.Inc()
}

func (m *storeMetrics) updateSize(size int) {
	m.size.Set(float64(size))
}
