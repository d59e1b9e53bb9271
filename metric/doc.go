// Package metric provides the pipeline's Prometheus registry and scrape
// server.
//
// A single MetricsRegistry holds everything: the core platform collectors
// registered at construction, the Go runtime and process collectors, and
// whatever component-specific collectors the rest of the pipeline adds
// through the MetricsRegistrar interface. Server exposes the registry in
// OpenMetrics format, together with a /health probe.
//
// # Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
//	        slog.Error("metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop()
//
// # Core Metrics
//
// The core collectors live under the "signalstream" namespace and cover the
// concerns every deployment wants without further wiring:
//
//   - service lifecycle: signalstream_service_status, signalstream_health_status
//   - message flow: signalstream_messages_received_total, _processed_total,
//     _published_total, signalstream_processing_duration_seconds
//   - pipeline outcomes: signalstream_pipeline_actions_emitted_total (by
//     action: notify, trade, snipe), signalstream_pipeline_items_deduplicated_total
//   - broker health: signalstream_nats_connected, _rtt_milliseconds,
//     _reconnects_total, _circuit_breaker
//   - errors: signalstream_errors_total
//
// Components record through the typed helpers on CoreMetrics():
//
//	core := registry.CoreMetrics()
//	core.RecordActionEmitted("workflow", "snipe")
//	core.RecordItemDeduplicated("newsstore")
//	core.RecordNATSStatus(true)
//
// # Component Collectors
//
// Components that own their own collectors register them under a
// service/name key. The dispatcher registers its worker gauge and outcome
// histogram this way, and the publisher's outage buffer registers its
// occupancy and drop counters:
//
//	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
//	    Namespace: "signalstream",
//	    Subsystem: "dispatch",
//	    Name:      "workers_inflight",
//	    Help:      "Workers currently processing items",
//	})
//	if err := registry.RegisterGauge("dispatcher", "workers_inflight", inflight); err != nil {
//	    return err
//	}
//
// Vec variants (RegisterCounterVec and friends) cover labeled collectors.
// Registering the same service/name key twice fails with an invalid-class
// error mentioning "already registered"; a name collision inside Prometheus
// itself surfaces as "prometheus conflict".
//
// Constructors take the MetricsRegistrar interface rather than the concrete
// registry, so tests can pass a stub and metrics can be disabled by passing
// nil.
//
// # Thread Safety
//
// Registration is mutex-guarded and recording is lock-free, so collectors
// can be registered and driven from any goroutine. The registry is built
// once in main and shared by every component.
package metric
