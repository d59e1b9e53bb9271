package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/signalstream/errors"
)

// ConnectionStatus represents the state of the broker connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Status holds runtime status information for the broker client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// consumerSpec records an active consumer so it can be re-established
// after a reconnect replaces the underlying connection.
type consumerSpec struct {
	stream  string
	subject string
	handler func(context.Context, *Delivery)
}

// Client manages the broker connection with a circuit breaker and routes
// all connection mutations through a single loop goroutine.
type Client struct {
	url      string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   Logger

	conn *nats.Conn
	js   jetstream.JetStream

	// Consumer management
	consumers   map[string]jetstream.ConsumeContext
	specs       map[string]consumerSpec
	consumersMu sync.Mutex

	// Connection loop
	ops        chan opRequest
	opsQuit    chan struct{}
	opsStopped chan struct{}
	opsOnce    sync.Once

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32 // failures in current circuit round
	circuitThreshold int32        // failures before opening circuit
	maxBackoff       time.Duration

	// Connection options
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Consumer options
	prefetch int
	ackWait  time.Duration

	// Authentication - sensitive fields cleared on close
	username string
	password string
	token    string

	clientName string

	metrics *brokerMetrics

	// Callbacks
	onDisconnect func(error)
	onReconnect  func()

	// Synchronization
	mu      sync.RWMutex
	closeMu sync.Mutex  // Ensures Close() is called only once
	closed  atomic.Bool // Track if client is closed
}

// NewClient creates a new broker client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:    url,
		logger: &defaultLogger{},
		// Sensible defaults
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		prefetch:         10,
		ackWait:          30 * time.Second,

		ops:        make(chan opRequest, 64),
		opsQuit:    make(chan struct{}),
		opsStopped: make(chan struct{}),
		specs:      make(map[string]consumerSpec),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debugf("Created broker client for %s", url)

	return c, nil
}

// URL returns the broker server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// setStatus updates the connection status
func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
	c.metrics.setConnected(status == StatusConnected)
}

// IsHealthy returns true if the connection is healthy
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the current failure count
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Backoff returns the current circuit breaker backoff duration
func (c *Client) Backoff() time.Duration {
	return c.backoff.Load().(time.Duration)
}

// recordFailure records a connection failure and manages the circuit breaker
func (c *Client) recordFailure() {
	totalFailures := c.failures.Add(1)
	c.lastFailure.Store(time.Now())

	circuitFailures := c.circuitFailures.Add(1)

	c.logger.Debugf("Recorded failure %d (circuit failures: %d)", totalFailures, circuitFailures)

	if circuitFailures >= c.circuitThreshold {
		currentStatus := c.Status()

		if currentStatus != StatusCircuitOpen {
			// Only one goroutine wins the transition to open
			if c.status.CompareAndSwap(currentStatus, StatusCircuitOpen) {
				c.metrics.setConnected(false)
				currentBackoff := c.backoff.Load().(time.Duration)
				newBackoff := currentBackoff * 2
				if newBackoff > c.maxBackoff {
					newBackoff = c.maxBackoff
				}
				c.backoff.Store(newBackoff)

				c.logger.Printf(
					"Circuit breaker opened after %d failures, backing off for %v",
					circuitFailures,
					currentBackoff,
				)

				c.circuitFailures.Store(0)

				// Allow connection attempts again after the backoff passes
				time.AfterFunc(currentBackoff, c.testCircuit)
			}
		} else {
			currentBackoff := c.backoff.Load().(time.Duration)
			newBackoff := currentBackoff * 2
			if newBackoff > c.maxBackoff {
				newBackoff = c.maxBackoff
			}
			c.backoff.Store(newBackoff)

			c.logger.Printf("Circuit breaker still open, increased backoff to %v", newBackoff)

			c.circuitFailures.Store(0)
		}
	}
}

// resetCircuit resets the circuit breaker state
func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// testCircuit closes an open circuit so the next Connect attempt can run
func (c *Client) testCircuit() {
	if c.Status() == StatusCircuitOpen {
		c.logger.Debugf("Circuit breaker backoff elapsed, allowing connection attempts")
		c.setStatus(StatusDisconnected)
	}
}

// GetStatus returns current status information
func (c *Client) GetStatus() *Status {
	lastFailure := c.lastFailure.Load().(time.Time)

	status := &Status{
		Status:          c.Status(),
		FailureCount:    c.failures.Load(),
		LastFailureTime: lastFailure,
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			status.RTT = rtt
		}
	}

	return status
}

// buildConnectionOptions builds NATS connection options from client configuration
func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		// The monitor owns reconnection, the transport does not retry on its own
		nats.MaxReconnects(0),
		nats.RetryOnFailedConnect(false),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

// Connect establishes the connection and starts the connection loop.
// Returns ErrCircuitOpen while the circuit breaker backoff is in effect.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.ErrConnClosed
	}
	if c.Status() == StatusCircuitOpen {
		c.logger.Debugf("Circuit breaker is open, skipping connection attempt")
		return errors.ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Printf("Connecting to broker at %s", c.url)

	opts := c.buildConnectionOptions()

	// Attempt connection with context timeout
	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.recordFailure()
			c.metrics.recordError("connect")

			if c.Status() != StatusCircuitOpen {
				c.setStatus(StatusDisconnected)
			}
			if c.Status() == StatusCircuitOpen {
				return errors.ErrCircuitOpen
			}

			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.recordFailure()
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()

	c.opsOnce.Do(func() {
		go c.runOps()
	})

	c.logger.Printf("Connected to broker at %s", c.url)

	return nil
}

// Reconnect replaces a dead connection with a fresh one and re-establishes
// every active consumer. One call makes exactly one connection attempt;
// retry pacing belongs to the caller.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.ErrConnClosed
	}

	c.stopConsumers()

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.js = nil
	}
	c.mu.Unlock()

	c.setStatus(StatusReconnecting)

	if err := c.Connect(ctx); err != nil {
		return errors.WrapTransient(err, "Client", "Reconnect", "re-establish connection")
	}

	if err := c.resubscribe(ctx); err != nil {
		return errors.WrapTransient(err, "Client", "Reconnect", "re-establish consumers")
	}

	c.metrics.recordReconnect()
	if c.onReconnect != nil {
		c.onReconnect()
	}

	return nil
}

// Probe checks that the connection is alive. A round trip to the server
// is required, a locally cached "connected" flag is not trusted.
func (c *Client) Probe(_ context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Probe", "check connection")
	}
	if _, err := conn.RTT(); err != nil {
		return errors.WrapTransient(err, "Client", "Probe", "round trip check")
	}
	return nil
}

// EnsureStream creates the work queue stream if it does not already exist.
func (c *Client) EnsureStream(ctx context.Context, name string, subjects []string) error {
	if c.Status() == StatusCircuitOpen {
		return errors.ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return errors.ErrNoConnection
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	if js == nil {
		return errors.ErrNoConnection
	}

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		c.recordFailure()
		c.metrics.recordError("ensure_stream")
		return errors.WrapTransient(err, "Client", "EnsureStream", "create stream")
	}

	c.resetCircuit()
	return nil
}

// Publish publishes a message to a JetStream subject. The publish itself
// runs on the connection loop.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if c.Status() == StatusCircuitOpen {
		return errors.WrapTransient(errors.ErrCircuitOpen, "Client", "Publish", "circuit open")
	}
	if c.Status() != StatusConnected {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Publish", "not connected")
	}

	err := c.submit(ctx, func() error {
		c.mu.RLock()
		js := c.js
		c.mu.RUnlock()

		if js == nil {
			return errors.ErrNoConnection
		}
		_, pubErr := js.Publish(ctx, subject, data)
		return pubErr
	})
	if err != nil {
		c.recordFailure()
		c.metrics.recordError("publish")
		return errors.WrapTransient(err, "Client", "Publish", "publish message")
	}

	c.resetCircuit()
	c.metrics.recordPublish(subject)
	return nil
}

// Consume creates an explicit-ack consumer on the stream and invokes
// handler for each delivered message. The handler settles the Delivery
// itself; nothing is acknowledged automatically. The consumer survives
// Reconnect.
func (c *Client) Consume(
	ctx context.Context,
	streamName, subject string,
	handler func(context.Context, *Delivery),
) error {
	if c.Status() == StatusCircuitOpen {
		return errors.ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return errors.ErrNoConnection
	}
	if c.closed.Load() {
		return errors.ErrConnClosed
	}

	if err := c.startConsumer(ctx, streamName, subject, handler); err != nil {
		return err
	}

	key := fmt.Sprintf("%s:%s", streamName, subject)
	c.consumersMu.Lock()
	c.specs[key] = consumerSpec{stream: streamName, subject: subject, handler: handler}
	c.consumersMu.Unlock()

	c.resetCircuit()
	return nil
}

// startConsumer creates the JetStream consumer and begins delivery.
func (c *Client) startConsumer(
	ctx context.Context,
	streamName, subject string,
	handler func(context.Context, *Delivery),
) error {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	if js == nil {
		return errors.ErrNoConnection
	}

	consumerCfg := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: c.prefetch,
		AckWait:       c.ackWait,
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, consumerCfg)
	if err != nil {
		c.recordFailure()
		c.metrics.recordError("create_consumer")
		return errors.WrapTransient(err, "Client", "Consume", "create consumer")
	}

	consumeContext, err := consumer.Consume(func(msg jetstream.Msg) {
		c.metrics.recordDelivery(msg.Subject())
		delivery := &Delivery{
			subject: msg.Subject(),
			data:    msg.Data(),
			msg:     msg,
			submit:  c.submit,
			onAck:   func() { c.metrics.recordAck(msg.Subject()) },
			onNak:   func() { c.metrics.recordNak(msg.Subject()) },
		}
		handler(ctx, delivery)
	})
	if err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "Consume", "start consuming")
	}

	key := fmt.Sprintf("%s:%s", streamName, subject)

	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()

	if c.closed.Load() {
		consumeContext.Stop()
		return errors.ErrConnClosed
	}

	if c.consumers == nil {
		c.consumers = make(map[string]jetstream.ConsumeContext)
	}
	if existing, exists := c.consumers[key]; exists {
		existing.Stop()
		c.logger.Debugf("Replaced existing consumer for %s", key)
	}
	c.consumers[key] = consumeContext

	return nil
}

// resubscribe re-creates every registered consumer on the new connection.
func (c *Client) resubscribe(ctx context.Context) error {
	c.consumersMu.Lock()
	specs := make([]consumerSpec, 0, len(c.specs))
	for _, spec := range c.specs {
		specs = append(specs, spec)
	}
	c.consumersMu.Unlock()

	for _, spec := range specs {
		if err := c.startConsumer(ctx, spec.stream, spec.subject, spec.handler); err != nil {
			return err
		}
		c.logger.Printf("Re-established consumer %s:%s", spec.stream, spec.subject)
	}
	return nil
}

// stopConsumers stops delivery on all active consumers. Registered specs
// are kept so resubscribe can restore them.
func (c *Client) stopConsumers() {
	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()

	for key, consumer := range c.consumers {
		consumer.Stop()
		c.logger.Debugf("Stopped consumer: %s", key)
	}
	c.consumers = nil
}

// Close shuts the client down. The connection loop stops first so no
// settlement or publish can race the drain; pending loop requests fail
// with ErrConnClosed.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil // Already closed
	}
	c.closed.Store(true)

	c.stopConsumers()
	c.consumersMu.Lock()
	c.specs = nil
	c.consumersMu.Unlock()

	// Stop the connection loop and wait for it to drain
	close(c.opsQuit)
	c.opsOnce.Do(func() {
		// Loop never started; nothing will close opsStopped
		close(c.opsStopped)
	})
	select {
	case <-c.opsStopped:
	case <-time.After(c.drainTimeout):
		c.logger.Errorf("Connection loop did not stop within %v", c.drainTimeout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	if c.conn != nil {
		drainTimeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		conn := c.conn
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
				c.logger.Errorf("Drain error: %v", err)
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client", "Close", "drain timeout"))
			c.logger.Errorf("Drain timeout after %v, force closing", drainTimeout)
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain"))
			c.logger.Errorf("Context cancelled during drain, force closing")
		}

		c.conn.Close()
		c.conn = nil
		c.js = nil
	}

	// Clear sensitive credentials from memory
	c.username = ""
	c.password = ""
	c.token = ""

	c.setStatus(StatusDisconnected)

	if len(errs) > 0 {
		errMsg := "cleanup errors:"
		for i, err := range errs {
			errMsg += fmt.Sprintf("\n  [%d] %v", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

// handleDisconnect is called by the transport when the connection drops
func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.logger.Errorf("Broker disconnected: %v", err)
	c.setStatus(StatusDisconnected)
	c.recordFailure()

	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// handleClosed is called by the transport when the connection is closed
func (c *Client) handleClosed(_ *nats.Conn) {
	if c.closed.Load() {
		return
	}
	c.logger.Debugf("Broker connection closed")
	if c.Status() != StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// handleError is called by the transport on async errors
func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Errorf("Broker error on subject %s: %v", sub.Subject, err)
	} else {
		c.logger.Errorf("Broker error: %v", err)
	}
	c.metrics.recordError("async")
}
