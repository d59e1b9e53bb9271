package buffer

import (
	"github.com/c360/signalstream/metric"
)

// Option configures a buffer at construction time.
type Option[T any] func(*bufferOptions[T])

// bufferOptions is the resolved configuration. Statistics are unconditional
// so the outage buffer stays observable even with Prometheus export off;
// everything else defaults to the publisher's needs.
type bufferOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]

	// Prometheus export, enabled only when both are set.
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithOverflowPolicy sets the behavior when the buffer is full.
// The default is DropOldest: under sustained backlog the freshest
// messages win.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics exports buffer counters and occupancy to the shared pipeline
// registry, labeled with prefix as the owning component. A nil registry or
// empty prefix leaves metrics off rather than failing construction.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *bufferOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithDropCallback registers an observer for every item lost to the
// overflow policy. The publisher uses it to log each dropped message.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *bufferOptions[T] {
	opts := &bufferOptions[T]{
		overflowPolicy: DropOldest,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
