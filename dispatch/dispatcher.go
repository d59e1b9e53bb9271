// Package dispatch provides the worker-per-item dispatcher between the
// broker consumer and the workflow. Each delivery gets its own goroutine,
// capped by a semaphore that blocks intake when saturated. Every delivery
// is settled exactly once: acked on any terminal workflow state, naked on
// timeout or panic so the broker redelivers it.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/signalstream/errors"
	"github.com/c360/signalstream/event"
	"github.com/c360/signalstream/metric"
	"github.com/c360/signalstream/workflow"
)

// Delivery is the acknowledgment surface of one consumed message.
// Satisfied by *broker.Delivery.
type Delivery interface {
	Data() []byte
	Subject() string
	Ack(ctx context.Context) error
	Nak(ctx context.Context) error
}

// Processor runs one parsed item through the workflow.
type Processor interface {
	Process(ctx context.Context, item *event.Tweet) workflow.Result
}

// ActionPublisher sends serialized actions downstream.
type ActionPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Metrics holds Prometheus metrics for dispatcher monitoring
type Metrics struct {
	inFlight       prometheus.Gauge
	dispatched     prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	timedOut       prometheus.Counter
	malformed      prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Stats represents dispatcher statistics
type Stats struct {
	Cap        int   `json:"cap"`
	InFlight   int   `json:"in_flight"`
	Dispatched int64 `json:"dispatched"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	TimedOut   int64 `json:"timed_out"`
	Malformed  int64 `json:"malformed"`
}

// Dispatcher fans deliveries out to bounded worker goroutines.
type Dispatcher struct {
	// Configuration
	cap       int
	timeout   time.Duration
	processor Processor
	publisher ActionPublisher
	subjects  map[workflow.ActionType]string

	// Runtime state
	sem      chan struct{}
	wg       sync.WaitGroup
	inFlight atomic.Int32
	logger   *slog.Logger
	metrics  *Metrics

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	shutdownCh  chan struct{}

	// Statistics (atomic)
	dispatched atomic.Int64
	processed  atomic.Int64
	failed     atomic.Int64
	timedOut   atomic.Int64
	malformed  atomic.Int64

	// Metrics configuration
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Option represents a configuration option for the dispatcher
type Option func(*Dispatcher)

// WithTimeout sets the per-item processing timeout
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithLogger sets a custom structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(dp *Dispatcher) {
		if logger != nil {
			dp.logger = logger
		}
	}
}

// WithSubjects overrides the outbound subject for each action type
func WithSubjects(subjects map[workflow.ActionType]string) Option {
	return func(dp *Dispatcher) {
		for actionType, subject := range subjects {
			dp.subjects[actionType] = subject
		}
	}
}

// WithMetricsRegistry configures the dispatcher to register metrics
func WithMetricsRegistry(registry *metric.MetricsRegistry, prefix string) Option {
	return func(dp *Dispatcher) {
		dp.metricsRegistry = registry
		dp.metricsPrefix = prefix
	}
}

// New creates a dispatcher with the given concurrency cap.
func New(capacity int, processor Processor, publisher ActionPublisher, opts ...Option) (*Dispatcher, error) {
	if capacity <= 0 {
		capacity = 10 // Default concurrency cap
	}
	if processor == nil || publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Dispatcher", "New", "nil collaborator")
	}

	d := &Dispatcher{
		cap:       capacity,
		timeout:   60 * time.Second,
		processor: processor,
		publisher: publisher,
		sem:       make(chan struct{}, capacity),
		logger:    slog.Default(),
		subjects: map[workflow.ActionType]string{
			workflow.ActionSnipe:  "actions.snipe",
			workflow.ActionTrade:  "actions.trade",
			workflow.ActionNotify: "actions.notify",
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.metricsRegistry != nil && d.metricsPrefix != "" {
		d.initializeMetrics()
	}

	return d, nil
}

// initializeMetrics creates and registers metrics with the shared registry
func (d *Dispatcher) initializeMetrics() {
	prefix := d.metricsPrefix

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_in_flight",
		Help: "Workers currently processing items",
	})
	dispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_dispatched_total",
		Help: "Total items dispatched to workers",
	})
	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_processed_total",
		Help: "Total items that reached a terminal workflow state",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_failed_total",
		Help: "Total items whose workflow run failed",
	})
	timedOut := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_timed_out_total",
		Help: "Total items that hit the processing timeout",
	})
	malformed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_malformed_total",
		Help: "Total deliveries dropped as malformed",
	})
	processingTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_processing_duration_seconds",
		Help:    "Time spent processing items",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	}, []string{"status"})

	serviceName := "dispatcher"
	d.metricsRegistry.RegisterGauge(serviceName, prefix+"_in_flight", inFlight)
	d.metricsRegistry.RegisterCounter(serviceName, prefix+"_dispatched_total", dispatched)
	d.metricsRegistry.RegisterCounter(serviceName, prefix+"_processed_total", processed)
	d.metricsRegistry.RegisterCounter(serviceName, prefix+"_failed_total", failed)
	d.metricsRegistry.RegisterCounter(serviceName, prefix+"_timed_out_total", timedOut)
	d.metricsRegistry.RegisterCounter(serviceName, prefix+"_malformed_total", malformed)
	d.metricsRegistry.RegisterHistogramVec(serviceName, prefix+"_processing_duration_seconds", processingTime)

	d.metrics = &Metrics{
		inFlight:       inFlight,
		dispatched:     dispatched,
		processed:      processed,
		failed:         failed,
		timedOut:       timedOut,
		malformed:      malformed,
		processingTime: processingTime,
	}
}

// Start makes the dispatcher accept deliveries.
func (d *Dispatcher) Start(_ context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.started {
		return errors.ErrAlreadyStarted
	}

	d.shutdownCh = make(chan struct{})
	d.started = true
	return nil
}

// OnDelivery is the broker consume callback. Malformed payloads are acked
// and dropped without a worker. Valid items block here while the
// concurrency cap is saturated, then run on their own goroutine; the call
// returns as soon as the worker is launched.
func (d *Dispatcher) OnDelivery(ctx context.Context, delivery Delivery) error {
	d.lifecycleMu.Lock()
	if !d.started || d.stopped {
		d.lifecycleMu.Unlock()
		d.nak(ctx, delivery)
		return errors.ErrShuttingDown
	}
	shutdownCh := d.shutdownCh
	d.lifecycleMu.Unlock()

	item, err := event.ParseTweet(delivery.Data())
	if err != nil {
		d.malformed.Add(1)
		if d.metrics != nil {
			d.metrics.malformed.Inc()
		}
		d.logger.Warn("malformed delivery dropped",
			"subject", delivery.Subject(),
			"error", err)
		d.ack(ctx, delivery)
		return nil
	}

	// Backpressure: wait for a worker slot
	select {
	case d.sem <- struct{}{}:
	case <-shutdownCh:
		d.nak(ctx, delivery)
		return errors.ErrShuttingDown
	case <-ctx.Done():
		d.nak(ctx, delivery)
		return ctx.Err()
	}

	d.dispatched.Add(1)
	d.inFlight.Add(1)
	if d.metrics != nil {
		d.metrics.dispatched.Inc()
		d.metrics.inFlight.Set(float64(d.inFlight.Load()))
	}

	d.wg.Add(1)
	go d.work(ctx, item, delivery)

	return nil
}

// work runs one item through the workflow and settles its delivery.
// Each item gets a correlation ID carried through its log lines.
func (d *Dispatcher) work(ctx context.Context, item *event.Tweet, delivery Delivery) {
	start := time.Now()
	status := "success"
	log := d.logger.With("item_id", uuid.NewString(), "source", item.Source())

	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			d.failed.Add(1)
			log.Error("worker panicked", "panic", r)
			// Settle from the recovery path so the item is redelivered
			d.nak(context.WithoutCancel(ctx), delivery)
		}

		<-d.sem
		d.inFlight.Add(-1)
		d.processed.Add(1)
		if d.metrics != nil {
			d.metrics.inFlight.Set(float64(d.inFlight.Load()))
			d.metrics.processed.Inc()
			d.metrics.processingTime.WithLabelValues(status).Observe(time.Since(start).Seconds())
		}
		d.wg.Done()
	}()

	itemCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result := d.processor.Process(itemCtx, item)

	// A deadline that cuts the workflow short surfaces as a failed result
	// with the context expired; only that combination is a timeout. A real
	// terminal result that lands as the deadline lapses already decided its
	// actions and must be acked, or a redelivery would emit them twice.
	if itemCtx.Err() != nil && result.State == workflow.StateFailed {
		status = "timeout"
		d.timedOut.Add(1)
		if d.metrics != nil {
			d.metrics.timedOut.Inc()
		}
		log.Warn("item processing timed out", "timeout", d.timeout)
		d.nak(context.WithoutCancel(ctx), delivery)
		return
	}

	switch result.State {
	case workflow.StateFailed:
		status = "failed"
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.failed.Inc()
		}
		log.Error("workflow failed for item", "error", result.Err)
	case workflow.StateActionsEmitted:
		// Publish outside the item deadline so a result that beat the
		// timeout by a hair still gets its actions out.
		d.publishActions(context.WithoutCancel(ctx), log, result.Actions)
	case workflow.StateDiscarded:
		log.Debug("item discarded")
	}

	// Every terminal workflow state acknowledges: failed items are not
	// retried, only timeouts and panics are redelivered.
	d.ack(context.WithoutCancel(ctx), delivery)
}

// publishActions serializes and sends each action. Publish failures are
// absorbed by the publisher's outage buffer.
func (d *Dispatcher) publishActions(ctx context.Context, log *slog.Logger, actions []workflow.Action) {
	for _, action := range actions {
		data, err := json.Marshal(action)
		if err != nil {
			log.Error("failed to marshal action",
				"action", action.Type(),
				"error", err)
			continue
		}

		subject := d.subjects[action.Type()]
		if err := d.publisher.Publish(ctx, subject, data); err != nil {
			log.Error("failed to publish action",
				"action", action.Type(),
				"subject", subject,
				"error", err)
		}
	}
}

func (d *Dispatcher) ack(ctx context.Context, delivery Delivery) {
	if err := delivery.Ack(ctx); err != nil {
		d.logger.Error("ack handoff failed, item will be redelivered", "error", err)
	}
}

func (d *Dispatcher) nak(ctx context.Context, delivery Delivery) {
	if err := delivery.Nak(ctx); err != nil {
		d.logger.Error("nak handoff failed, item will be redelivered after ack wait", "error", err)
	}
}

// Shutdown stops intake and waits up to timeout for in-flight workers.
// When the timeout passes the dispatcher force-proceeds: stragglers keep
// their goroutines, their unsettled deliveries are redelivered by the
// broker after the ack wait.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.lifecycleMu.Lock()
	if !d.started || d.stopped {
		d.lifecycleMu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.shutdownCh)
	d.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		d.logger.Info("dispatcher drained", "processed", d.processed.Load())
		return nil
	case <-timer.C:
		stragglers := d.inFlight.Load()
		d.logger.Warn("dispatcher shutdown timed out, proceeding",
			"timeout", timeout,
			"in_flight", stragglers)
		return errors.WrapTransient(
			errors.ErrShuttingDown,
			"Dispatcher", "Shutdown", "wait for workers")
	}
}

// Stats returns current dispatcher statistics
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Cap:        d.cap,
		InFlight:   int(d.inFlight.Load()),
		Dispatched: d.dispatched.Load(),
		Processed:  d.processed.Load(),
		Failed:     d.failed.Load(),
		TimedOut:   d.timedOut.Load(),
		Malformed:  d.malformed.Load(),
	}
}
