package monitor

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/signalstream/errors"
	"github.com/c360/signalstream/metric"
)

// probeResult wraps an error so atomic.Value can hold a nil result.
type probeResult struct {
	err error
}

// fakeConn is a scriptable Connection for driving probe cycles.
type fakeConn struct {
	probeErr       atomic.Value // stores probeResult
	reconnectAfter atomic.Int32 // succeed once attempts reach this count, 0 = always fail
	probes         atomic.Int32
	reconnects     atomic.Int32
	panicOnProbe   atomic.Bool
}

func (f *fakeConn) Probe(_ context.Context) error {
	if f.panicOnProbe.Load() {
		panic("connection gone sideways")
	}
	f.probes.Add(1)
	if v := f.probeErr.Load(); v != nil {
		return v.(probeResult).err
	}
	return nil
}

func (f *fakeConn) Reconnect(_ context.Context) error {
	n := f.reconnects.Add(1)
	target := f.reconnectAfter.Load()
	if target > 0 && n >= target {
		// Connection restored, later probes succeed
		f.probeErr.Store(probeResult{})
		return nil
	}
	return stderrors.New("dial refused")
}

func (f *fakeConn) failProbes() {
	f.probeErr.Store(probeResult{err: stderrors.New("probe timeout")})
}

func TestNewMonitorValidation(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, cerrors.IsInvalid(err))

	_, err = New(&fakeConn{}, WithInterval(0))
	require.Error(t, err)

	_, err = New(&fakeConn{}, WithRetries(-1))
	require.Error(t, err)
}

func TestMonitorStartStop(t *testing.T) {
	conn := &fakeConn{}
	m, err := New(conn, WithInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), cerrors.ErrAlreadyStarted)
	assert.True(t, m.Status().IsRunning)

	require.NoError(t, m.Stop(time.Second))
	assert.ErrorIs(t, m.Stop(time.Second), cerrors.ErrNotStarted)
	assert.False(t, m.Status().IsRunning)
}

func TestMonitorHealthyProbe(t *testing.T) {
	conn := &fakeConn{}
	m, err := New(conn)
	require.NoError(t, err)

	m.check(context.Background())

	assert.Equal(t, Healthy, m.Health())
	assert.Equal(t, int32(0), m.Status().ConsecutiveFailures)
	assert.Equal(t, int32(1), conn.probes.Load())
	assert.Equal(t, int32(0), conn.reconnects.Load())
}

func TestMonitorExactReconnectAttempts(t *testing.T) {
	conn := &fakeConn{}
	conn.failProbes()

	m, err := New(conn, WithRetries(3), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	m.check(context.Background())

	// One failed cycle runs exactly the configured number of attempts
	assert.Equal(t, int32(3), conn.reconnects.Load())
	assert.Equal(t, Down, m.Health())
	assert.Equal(t, int32(3), m.Status().ConsecutiveFailures)
	assert.Equal(t, int64(1), m.Status().FailedCycles)
}

func TestMonitorNeverGivesUp(t *testing.T) {
	conn := &fakeConn{}
	conn.failProbes()

	m, err := New(conn, WithRetries(2), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	m.check(context.Background())
	m.check(context.Background())
	m.check(context.Background())

	// Every cycle retries from scratch; Down never becomes terminal. The
	// attempt counter covers the latest cycle only.
	assert.Equal(t, int32(6), conn.reconnects.Load())
	assert.Equal(t, int32(2), m.Status().ConsecutiveFailures)
	assert.Equal(t, int64(3), m.Status().FailedCycles)
	assert.Equal(t, Down, m.Health())
}

func TestMonitorRecoveryCallback(t *testing.T) {
	conn := &fakeConn{}
	conn.failProbes()
	conn.reconnectAfter.Store(2) // fail once, succeed on the second attempt

	var recovered atomic.Int32
	m, err := New(conn,
		WithRetries(3),
		WithRetryDelay(time.Millisecond),
		WithOnRecovered(func(context.Context) { recovered.Add(1) }),
	)
	require.NoError(t, err)

	m.check(context.Background())

	assert.Equal(t, int32(2), conn.reconnects.Load())
	assert.Equal(t, int32(1), recovered.Load())
	assert.Equal(t, Healthy, m.Health())
	assert.Equal(t, int32(0), m.Status().ConsecutiveFailures)
	assert.Equal(t, int64(0), m.Status().FailedCycles)
	assert.Equal(t, int64(1), m.Status().Reconnects)
	assert.False(t, m.Status().LastRecovery.IsZero())
}

func TestMonitorFailureCountResetsOnRecovery(t *testing.T) {
	conn := &fakeConn{}
	conn.failProbes()

	m, err := New(conn, WithRetries(1), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	m.check(context.Background())
	m.check(context.Background())
	require.Equal(t, int32(1), m.Status().ConsecutiveFailures)
	require.Equal(t, int64(2), m.Status().FailedCycles)

	conn.reconnectAfter.Store(1)
	m.check(context.Background())

	assert.Equal(t, Healthy, m.Health())
	assert.Equal(t, int32(0), m.Status().ConsecutiveFailures)
	assert.Equal(t, int64(0), m.Status().FailedCycles)
}

func TestMonitorPanicContained(t *testing.T) {
	conn := &fakeConn{}
	conn.panicOnProbe.Store(true)

	m, err := New(conn, WithRetries(1), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.check(context.Background())
	})
	assert.Equal(t, Down, m.Health())
	assert.Equal(t, int64(1), m.Status().FailedCycles)

	// Loop keeps probing after the panic
	conn.panicOnProbe.Store(false)
	m.check(context.Background())
	assert.Equal(t, Healthy, m.Health())
}

func TestMonitorProbeLoop(t *testing.T) {
	conn := &fakeConn{}
	m, err := New(conn, WithInterval(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return conn.probes.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(time.Second))
}

func TestMonitorWithMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	conn := &fakeConn{}
	m, err := New(conn, WithMetrics(registry))
	require.NoError(t, err)

	m.check(context.Background())

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	assert.True(t, found["signalstream_monitor_checks_total"])
	assert.True(t, found["signalstream_monitor_health"])
}

func TestHealthString(t *testing.T) {
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "down", Down.String())
	assert.Equal(t, "unknown", Health(42).String())
}
