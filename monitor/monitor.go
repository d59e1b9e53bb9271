// Package monitor provides the connection monitor that keeps the broker
// connection alive for the lifetime of the process. It probes the
// connection on a fixed interval, runs a bounded reconnect cycle when the
// probe fails, and triggers a recovery callback so buffered messages can
// be flushed once the connection returns. The monitor never gives up: a
// fully failed reconnect cycle marks the connection Down and probing
// resumes on the next interval.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/signalstream/errors"
	"github.com/c360/signalstream/pkg/retry"
)

// Health describes the monitor's view of the connection.
type Health int

// Health states
const (
	// Healthy means the last probe succeeded.
	Healthy Health = iota
	// Degraded means a probe failed and a reconnect cycle is in progress.
	Degraded
	// Down means a full reconnect cycle failed. Probing continues.
	Down
)

// String returns the string representation of Health
func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// Connection is the broker surface the monitor drives.
type Connection interface {
	// Probe checks connection liveness with a server round trip.
	Probe(ctx context.Context) error
	// Reconnect makes exactly one attempt to replace the connection.
	Reconnect(ctx context.Context) error
}

// Status is a point-in-time snapshot of the monitor.
type Status struct {
	IsRunning   bool   `json:"is_running"`
	Health      Health `json:"-"`
	HealthLabel string `json:"health"`
	// ConsecutiveFailures is the number of reconnect attempts made in the
	// current detection cycle. It resets when a new cycle starts and when
	// the connection recovers.
	ConsecutiveFailures int32 `json:"consecutive_failures"`
	// FailedCycles counts back-to-back reconnect cycles that exhausted
	// their attempts without recovering.
	FailedCycles int64     `json:"failed_cycles"`
	ChecksRun    int64     `json:"checks_run"`
	Reconnects   int64     `json:"reconnects"`
	LastCheck    time.Time `json:"last_check,omitempty"`
	LastRecovery time.Time `json:"last_recovery,omitempty"`
}

// Monitor probes a Connection on an interval and repairs it when it drops.
type Monitor struct {
	conn       Connection
	interval   time.Duration
	retries    int
	retryDelay time.Duration

	onRecovered func(context.Context)
	logger      *slog.Logger
	metrics     *monitorMetrics

	health       atomic.Value // stores Health
	attempts     atomic.Int32 // reconnect attempts in the current cycle
	failedCycles atomic.Int64 // back-to-back exhausted cycles
	checks       atomic.Int64
	reconnects   atomic.Int64
	lastCheck    atomic.Value // stores time.Time
	lastRecovery atomic.Value // stores time.Time

	lifecycleMu sync.Mutex
	running     atomic.Bool
	shutdown    chan struct{}
	done        chan struct{}
}

// New creates a Monitor for the given connection.
func New(conn Connection, options ...Option) (*Monitor, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Monitor", "New", "nil connection")
	}

	m := &Monitor{
		conn:       conn,
		interval:   30 * time.Second,
		retries:    3,
		retryDelay: 5 * time.Second,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		if err := opt(m); err != nil {
			return nil, errors.WrapInvalid(err, "Monitor", "New", "apply option")
		}
	}

	m.health.Store(Healthy)
	m.lastCheck.Store(time.Time{})
	m.lastRecovery.Store(time.Time{})

	return m, nil
}

// Start begins the probe loop. The loop runs until Stop is called or ctx
// is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.running.Load() {
		return errors.ErrAlreadyStarted
	}

	m.shutdown = make(chan struct{})
	m.done = make(chan struct{})
	m.running.Store(true)

	go m.run(ctx)

	m.logger.Info("connection monitor started",
		"interval", m.interval,
		"retries", m.retries,
		"retry_delay", m.retryDelay)

	return nil
}

// Stop halts the probe loop, waiting up to timeout for an in-flight cycle
// to finish. Returns an error if the loop did not stop in time; the
// monitor is considered stopped either way.
func (m *Monitor) Stop(timeout time.Duration) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.running.Load() {
		return errors.ErrNotStarted
	}

	close(m.shutdown)
	m.running.Store(false)

	select {
	case <-m.done:
		m.logger.Info("connection monitor stopped")
		return nil
	case <-time.After(timeout):
		m.logger.Warn("connection monitor stop timed out", "timeout", timeout)
		return errors.WrapTransient(
			fmt.Errorf("probe cycle still running after %v", timeout),
			"Monitor", "Stop", "wait for probe loop")
	}
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() Status {
	health := m.health.Load().(Health)
	return Status{
		IsRunning:           m.running.Load(),
		Health:              health,
		HealthLabel:         health.String(),
		ConsecutiveFailures: m.attempts.Load(),
		FailedCycles:        m.failedCycles.Load(),
		ChecksRun:           m.checks.Load(),
		Reconnects:          m.reconnects.Load(),
		LastCheck:           m.lastCheck.Load().(time.Time),
		LastRecovery:        m.lastRecovery.Load().(time.Time),
	}
}

// Health returns the current health state.
func (m *Monitor) Health() Health {
	return m.health.Load().(Health)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check runs one probe cycle. A panic in the connection implementation is
// contained here so the probe loop survives it.
func (m *Monitor) check(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("probe cycle panicked", "panic", r)
			m.setHealth(Down)
			m.failedCycles.Add(1)
		}
	}()

	m.checks.Add(1)
	m.lastCheck.Store(time.Now())
	m.metrics.recordCheck()

	if err := m.conn.Probe(ctx); err == nil {
		m.setHealth(Healthy)
		m.attempts.Store(0)
		m.failedCycles.Store(0)
		return
	}

	m.logger.Warn("connection probe failed, starting reconnect cycle",
		"attempts", m.retries,
		"delay", m.retryDelay)
	m.setHealth(Degraded)

	// The attempt counter tracks this cycle only.
	m.attempts.Store(0)
	err := retry.Do(ctx, retry.Fixed(m.retries, m.retryDelay), func() error {
		m.attempts.Add(1)
		if rerr := m.conn.Reconnect(ctx); rerr != nil {
			m.logger.Warn("reconnect attempt failed",
				"attempt", m.attempts.Load(),
				"error", rerr)
			return rerr
		}
		return nil
	})
	if err != nil {
		// Cycle exhausted. Mark Down and wait for the next interval;
		// the monitor never stops trying.
		cycles := m.failedCycles.Add(1)
		m.setHealth(Down)
		m.metrics.recordCycleFailed()
		m.logger.Error("reconnect cycle failed, will retry next interval",
			"attempts", m.attempts.Load(),
			"failed_cycles", cycles,
			"error", err)
		return
	}

	m.setHealth(Healthy)
	m.attempts.Store(0)
	m.failedCycles.Store(0)
	m.reconnects.Add(1)
	m.lastRecovery.Store(time.Now())
	m.metrics.recordRecovery()
	m.logger.Info("connection recovered")

	if m.onRecovered != nil {
		m.onRecovered(ctx)
	}
}

func (m *Monitor) setHealth(h Health) {
	m.health.Store(h)
	m.metrics.setHealth(h)
}
