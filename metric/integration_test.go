package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// detectorInstrumentation stands in for a pipeline component that owns its
// collectors and registers them through the MetricsRegistrar interface,
// the way the dispatcher and the outage buffer do.
type detectorInstrumentation struct {
	service string
	scans   prometheus.Counter
	backlog prometheus.Gauge
}

func newDetectorInstrumentation(service string) *detectorInstrumentation {
	return &detectorInstrumentation{service: service}
}

func (d *detectorInstrumentation) register(registrar MetricsRegistrar) error {
	d.scans = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "signalstream",
		Subsystem: "detectors",
		Name:      "scans_total",
		Help:      "Messages scanned for token mentions",
	})
	if err := registrar.RegisterCounter(d.service, "scans_total", d.scans); err != nil {
		return err
	}

	d.backlog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signalstream",
		Subsystem: "detectors",
		Name:      "backlog",
		Help:      "Messages waiting for detection",
	})
	return registrar.RegisterGauge(d.service, "backlog", d.backlog)
}

func (d *detectorInstrumentation) observe(scanned, waiting int) {
	d.scans.Add(float64(scanned))
	d.backlog.Set(float64(waiting))
}

func gatheredFamilies(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := make(map[string]bool, len(families))
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	return found
}

func TestComponentRegistrationExportsCollectors(t *testing.T) {
	registry := NewMetricsRegistry()

	detectors := newDetectorInstrumentation("token-detectors")
	require.NoError(t, detectors.register(registry))

	detectors.observe(10, 5)

	found := gatheredFamilies(t, registry)
	assert.True(t, found["signalstream_detectors_scans_total"])
	assert.True(t, found["signalstream_detectors_backlog"])
}

func TestComponentDoubleRegistrationRejected(t *testing.T) {
	registry := NewMetricsRegistry()

	first := newDetectorInstrumentation("token-detectors")
	require.NoError(t, first.register(registry))

	// A restart that re-registers under the same service name must fail
	// at the registry key, before Prometheus sees the collector.
	second := newDetectorInstrumentation("token-detectors")
	err := second.register(registry)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestComponentNameConflictDetectedByPrometheus(t *testing.T) {
	registry := NewMetricsRegistry()

	first := newDetectorInstrumentation("text-detector")
	require.NoError(t, first.register(registry))

	// A different service name passes the key check, but the collectors
	// carry the same fully qualified metric names.
	second := newDetectorInstrumentation("image-detector")
	err := second.register(registry)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestCoreAndComponentCollectorsCoexist(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	detectors := newDetectorInstrumentation("token-detectors")
	require.NoError(t, detectors.register(registry))

	core.RecordServiceStatus("token-detectors", 2)
	core.RecordMessageReceived("token-detectors", "telegram")
	detectors.observe(5, 3)

	found := gatheredFamilies(t, registry)
	assert.True(t, found["signalstream_service_status"])
	assert.True(t, found["signalstream_messages_received_total"])
	assert.True(t, found["signalstream_detectors_scans_total"])
	assert.True(t, found["signalstream_detectors_backlog"])
}

func TestUnregisterRemovesOnlyNamedCollector(t *testing.T) {
	registry := NewMetricsRegistry()

	detectors := newDetectorInstrumentation("token-detectors")
	require.NoError(t, detectors.register(registry))
	detectors.observe(1, 1)

	before := gatheredFamilies(t, registry)
	assert.True(t, before["signalstream_detectors_scans_total"])

	assert.True(t, registry.Unregister("token-detectors", "scans_total"))

	after := gatheredFamilies(t, registry)
	assert.False(t, after["signalstream_detectors_scans_total"])
	assert.True(t, after["signalstream_detectors_backlog"], "sibling collectors stay registered")
}
