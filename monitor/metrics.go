package monitor

import (
	"github.com/c360/signalstream/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// monitorMetrics holds Prometheus metrics for monitor activity.
type monitorMetrics struct {
	checks       prometheus.Counter
	cycleFailed  prometheus.Counter
	recoveries   prometheus.Counter
	healthStatus prometheus.Gauge
}

// newMonitorMetrics creates and registers monitor metrics with the provided registry.
func newMonitorMetrics(registry *metric.MetricsRegistry) (*monitorMetrics, error) {
	m := &monitorMetrics{
		checks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalstream",
			Subsystem: "monitor",
			Name:      "checks_total",
			Help:      "Total connection probe cycles run",
		}),
		cycleFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalstream",
			Subsystem: "monitor",
			Name:      "cycle_failures_total",
			Help:      "Total reconnect cycles that exhausted all attempts",
		}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalstream",
			Subsystem: "monitor",
			Name:      "recoveries_total",
			Help:      "Total successful reconnect cycles",
		}),
		healthStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalstream",
			Subsystem: "monitor",
			Name:      "health",
			Help:      "Connection health (0=healthy, 1=degraded, 2=down)",
		}),
	}

	reg := registry.PrometheusRegistry()
	collectors := []prometheus.Collector{m.checks, m.cycleFailed, m.recoveries, m.healthStatus}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *monitorMetrics) recordCheck() {
	if m == nil {
		return
	}
	m.checks.Inc()
}

func (m *monitorMetrics) recordCycleFailed() {
	if m == nil {
		return
	}
	m.cycleFailed.Inc()
}

func (m *monitorMetrics) recordRecovery() {
	if m == nil {
		return
	}
	m.recoveries.Inc()
}

func (m *monitorMetrics) setHealth(h Health) {
	if m == nil {
		return
	}
	m.healthStatus.Set(float64(h))
}
