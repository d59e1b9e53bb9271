// Package publisher provides the outbound publish facade. Actions are
// sent straight to the broker when it is up; when a publish fails the
// message lands in a bounded buffer instead of surfacing an error, and
// the connection monitor flushes the buffer once the connection recovers.
package publisher

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/c360/signalstream/errors"
	"github.com/c360/signalstream/metric"
	"github.com/c360/signalstream/pkg/buffer"
)

// Sender is the broker surface the publisher writes to.
type Sender interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Message is one buffered outbound message.
type Message struct {
	Subject string
	Data    []byte
}

// Status is a point-in-time snapshot of the publisher.
type Status struct {
	Published int64         `json:"published"`
	Buffered  int64         `json:"buffered"`
	Flushed   int64         `json:"flushed"`
	Buffer    buffer.Status `json:"buffer"`
}

// Publisher sends messages to the broker, falling back to a bounded
// buffer during outages. Oldest messages are dropped when the buffer
// overflows.
type Publisher struct {
	sender Sender
	buf    buffer.Buffer[Message]
	logger *slog.Logger

	published atomic.Int64
	buffered  atomic.Int64
	flushed   atomic.Int64
}

// New creates a Publisher with a buffer of the given capacity.
func New(sender Sender, capacity int, options ...Option) (*Publisher, error) {
	if sender == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Publisher", "New", "nil sender")
	}

	opts := &publisherOptions{
		logger: slog.Default(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	bufOpts := []buffer.Option[Message]{
		buffer.WithOverflowPolicy[Message](buffer.DropOldest),
		buffer.WithDropCallback[Message](func(msg Message) {
			opts.logger.Warn("outage buffer full, dropped oldest message", "subject", msg.Subject)
		}),
	}
	if opts.metricsReg != nil {
		bufOpts = append(bufOpts, buffer.WithMetrics[Message](opts.metricsReg, "publisher"))
	}

	buf, err := buffer.NewCircularBuffer[Message](capacity, bufOpts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Publisher", "New", "create buffer")
	}

	return &Publisher{
		sender: sender,
		buf:    buf,
		logger: opts.logger,
	}, nil
}

// Publish sends a message to the broker. A failed send is not an error
// from the caller's point of view: the message is buffered and will be
// flushed on recovery. Only a failure to buffer surfaces as an error.
func (p *Publisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := p.sender.Publish(ctx, subject, data); err != nil {
		p.logger.Warn("publish failed, buffering message",
			"subject", subject,
			"error", err)
		return p.buffer(subject, data)
	}

	p.published.Add(1)
	return nil
}

// buffer stores a message for later flush. With the DropOldest policy a
// full buffer evicts the oldest entry rather than rejecting the write.
func (p *Publisher) buffer(subject string, data []byte) error {
	msg := Message{Subject: subject, Data: data}
	if err := p.buf.Write(msg); err != nil {
		return errors.WrapTransient(err, "Publisher", "Publish", "buffer message")
	}
	p.buffered.Add(1)
	return nil
}

// Flush drains the buffer to the broker in FIFO order. It stops at the
// first send failure, leaving that message and everything behind it
// buffered in order. Returns the number of messages flushed and the
// number still buffered.
func (p *Publisher) Flush(ctx context.Context) (int, int) {
	sent, err := p.buf.Flush(func(msg Message) error {
		return p.sender.Publish(ctx, msg.Subject, msg.Data)
	})

	if sent > 0 {
		p.flushed.Add(int64(sent))
		p.published.Add(int64(sent))
	}

	remaining := p.buf.Size()
	if err != nil {
		p.logger.Warn("buffer flush interrupted",
			"flushed", sent,
			"remaining", remaining,
			"error", err)
	} else if sent > 0 {
		p.logger.Info("buffer flushed", "flushed", sent)
	}

	return sent, remaining
}

// OnRecovered is the monitor callback form of Flush.
func (p *Publisher) OnRecovered(ctx context.Context) {
	p.Flush(ctx)
}

// Status returns a snapshot of publisher counters and buffer state.
func (p *Publisher) Status() Status {
	return Status{
		Published: p.published.Load(),
		Buffered:  p.buffered.Load(),
		Flushed:   p.flushed.Load(),
		Buffer:    p.buf.Status(),
	}
}

// BufferedCount returns the number of messages currently buffered.
func (p *Publisher) BufferedCount() int {
	return p.buf.Size()
}

// Close releases the underlying buffer.
func (p *Publisher) Close() error {
	return p.buf.Close()
}

// Option is a functional option for configuring the Publisher
type Option func(*publisherOptions)

type publisherOptions struct {
	logger     *slog.Logger
	metricsReg *metric.MetricsRegistry
}

// WithLogger sets a custom structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *publisherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics on the outage buffer
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *publisherOptions) {
		o.metricsReg = registry
	}
}
