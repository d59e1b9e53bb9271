package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/signalstream/metric"
)

// Option is a functional option for configuring the Monitor
type Option func(*Monitor) error

// WithInterval sets the time between connection probes
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) error {
		if d <= 0 {
			return fmt.Errorf("interval must be positive, got %v", d)
		}
		m.interval = d
		return nil
	}
}

// WithRetries sets the number of reconnect attempts per failed probe
func WithRetries(n int) Option {
	return func(m *Monitor) error {
		if n <= 0 {
			return fmt.Errorf("retries must be positive, got %d", n)
		}
		m.retries = n
		return nil
	}
}

// WithRetryDelay sets the fixed delay between reconnect attempts
func WithRetryDelay(d time.Duration) Option {
	return func(m *Monitor) error {
		if d < 0 {
			return fmt.Errorf("retry delay cannot be negative, got %v", d)
		}
		m.retryDelay = d
		return nil
	}
}

// WithOnRecovered sets a callback invoked after a successful reconnect
// cycle. The publisher registers its buffer flush here.
func WithOnRecovered(fn func(context.Context)) Option {
	return func(m *Monitor) error {
		m.onRecovered = fn
		return nil
	}
}

// WithLogger sets a custom structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

// WithMetrics enables Prometheus metrics export for monitor activity
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Monitor) error {
		if registry == nil {
			return nil
		}
		metrics, err := newMonitorMetrics(registry)
		if err != nil {
			return err
		}
		m.metrics = metrics
		return nil
	}
}
