package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/c360/signalstream/errors"
)

// ackable is the subset of jetstream.Msg the delivery handle needs.
// Narrowed to an interface so tests can settle deliveries without a server.
type ackable interface {
	Ack() error
	Nak() error
}

// Delivery is the acknowledgment handle for one consumed message. The
// worker that processes the message settles it exactly once with Ack or
// Nak; the settlement itself runs on the client's connection loop, never
// on the worker goroutine. Repeat settlement attempts are no-ops.
type Delivery struct {
	subject string
	data    []byte

	msg    ackable
	submit func(ctx context.Context, fn func() error) error
	onAck  func()
	onNak  func()

	once    sync.Once
	settled atomic.Bool
}

// Subject returns the subject the message was delivered on.
func (d *Delivery) Subject() string {
	return d.subject
}

// Data returns the raw message payload.
func (d *Delivery) Data() []byte {
	return d.data
}

// Settled reports whether an Ack or Nak attempt has already been made.
func (d *Delivery) Settled() bool {
	return d.settled.Load()
}

// Ack acknowledges the message. Only the first settlement attempt on a
// handle reaches the connection; later calls return nil without effect.
// If the connection loop has stopped the handoff fails with ErrConnClosed
// and the server redelivers the message after its ack deadline.
func (d *Delivery) Ack(ctx context.Context) error {
	return d.settle(ctx, d.msg.Ack, d.onAck, "acknowledge message")
}

// Nak negatively acknowledges the message, requesting redelivery.
// Settlement semantics match Ack: first attempt only.
func (d *Delivery) Nak(ctx context.Context) error {
	return d.settle(ctx, d.msg.Nak, d.onNak, "nak message")
}

func (d *Delivery) settle(ctx context.Context, op func() error, record func(), action string) error {
	var err error
	attempted := false

	d.once.Do(func() {
		attempted = true
		d.settled.Store(true)
		err = d.submit(ctx, op)
	})

	if !attempted {
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "Delivery", "settle", action)
	}
	if record != nil {
		record()
	}
	return nil
}
