// Package signalstream implements a resilient pipeline that turns social
// feed items into trading and notification actions.
//
// # Architecture
//
// Items arrive on a JetStream work queue, fan out to bounded workers, run
// through an LLM-backed analysis workflow, and leave as actions on
// outbound subjects:
//
//	┌──────────┐    ┌────────────┐    ┌──────────────┐    ┌───────────┐
//	│  broker  │───►│  dispatch  │───►│   workflow   │───►│ publisher │
//	│ consumer │    │  workers   │    │ orchestrator │    │  + buffer │
//	└──────────┘    └────────────┘    └──────────────┘    └───────────┘
//	     ▲                                  │
//	     │ probe/reconnect                  │ classify, dedupe,
//	┌──────────┐                            │ score, detect
//	│ monitor  │                       ┌──────────┐
//	└──────────┘                       │ analysis │
//	                                   └──────────┘
//
// Every delivery is settled exactly once. Terminal workflow states
// acknowledge; timeouts and panics negatively acknowledge so the broker
// redelivers. Acknowledgments are marshalled onto the connection's
// single operation loop.
//
// # Packages
//
// Pipeline:
//   - broker: JetStream client, delivery handles, connection op loop
//   - dispatch: worker-per-item dispatcher with blocking backpressure
//   - workflow: topic routing, dedupe, scoring, token detection, actions
//   - analysis: LLM collaborators (classifier, scorer, detectors)
//   - newsstore: deduplicating news record store
//   - publisher: outbound publisher with outage buffering
//   - monitor: periodic connection probe and bounded reconnect cycles
//   - event: inbound feed item model and validation
//
// Infrastructure:
//   - config: layered JSON configuration with env overrides
//   - metric: Prometheus metrics registry and scrape server
//   - errors: classified error handling (transient, invalid, fatal)
//   - pkg/buffer: bounded FIFO buffer with overflow policies
//   - pkg/retry: retry policies with backoff
//
// # Binary
//
// cmd/signalstream wires the pipeline together:
//
//	./bin/signalstream --config config.json
package signalstream
