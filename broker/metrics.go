package broker

import (
	"github.com/c360/signalstream/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// brokerMetrics holds Prometheus metrics for broker operations.
type brokerMetrics struct {
	publishes  *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	acks       *prometheus.CounterVec
	naks       *prometheus.CounterVec
	errors     *prometheus.CounterVec
	connected  prometheus.Gauge
	reconnects prometheus.Counter
}

// newBrokerMetrics creates and registers broker metrics with the provided registry.
func newBrokerMetrics(registry *metric.MetricsRegistry) (*brokerMetrics, error) {
	m := &brokerMetrics{
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalstream",
			Subsystem: "broker",
			Name:      "publishes_total",
			Help:      "Total messages published by subject",
		}, []string{"subject"}),

		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalstream",
			Subsystem: "broker",
			Name:      "deliveries_total",
			Help:      "Total messages delivered to consumers by subject",
		}, []string{"subject"}),

		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalstream",
			Subsystem: "broker",
			Name:      "acks_total",
			Help:      "Total messages acknowledged by subject",
		}, []string{"subject"}),

		naks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalstream",
			Subsystem: "broker",
			Name:      "naks_total",
			Help:      "Total messages negatively acknowledged by subject",
		}, []string{"subject"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalstream",
			Subsystem: "broker",
			Name:      "errors_total",
			Help:      "Total broker operation errors by operation",
		}, []string{"operation"}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalstream",
			Subsystem: "broker",
			Name:      "connected",
			Help:      "Connection state (1=connected, 0=disconnected)",
		}),

		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalstream",
			Subsystem: "broker",
			Name:      "reconnects_total",
			Help:      "Total successful reconnections",
		}),
	}

	reg := registry.PrometheusRegistry()
	collectors := []prometheus.Collector{
		m.publishes, m.deliveries, m.acks, m.naks, m.errors, m.connected, m.reconnects,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *brokerMetrics) recordPublish(subject string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(subject).Inc()
}

func (m *brokerMetrics) recordDelivery(subject string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(subject).Inc()
}

func (m *brokerMetrics) recordAck(subject string) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(subject).Inc()
}

func (m *brokerMetrics) recordNak(subject string) {
	if m == nil {
		return
	}
	m.naks.WithLabelValues(subject).Inc()
}

func (m *brokerMetrics) recordError(operation string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(operation).Inc()
}

func (m *brokerMetrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *brokerMetrics) recordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
