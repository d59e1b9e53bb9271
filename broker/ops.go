package broker

import (
	"context"

	"github.com/c360/signalstream/errors"
)

// opRequest is one unit of work for the connection loop.
type opRequest struct {
	fn   func() error
	done chan error
}

// runOps is the connection loop. Every mutation of the underlying
// connection (publishes, acks, naks) funnels through this single
// goroutine, so the transport only ever sees one caller at a time.
// On shutdown, pending requests are failed with ErrConnClosed.
func (c *Client) runOps() {
	defer close(c.opsStopped)

	for {
		select {
		case req := <-c.ops:
			req.done <- req.fn()
		case <-c.opsQuit:
			for {
				select {
				case req := <-c.ops:
					req.done <- errors.ErrConnClosed
				default:
					return
				}
			}
		}
	}
}

// submit hands fn to the connection loop and waits for its result.
// Returns ErrConnClosed if the loop has stopped, or the context error
// if ctx expires before the loop picks the request up or completes it.
func (c *Client) submit(ctx context.Context, fn func() error) error {
	if c.closed.Load() {
		return errors.ErrConnClosed
	}

	req := opRequest{fn: fn, done: make(chan error, 1)}

	select {
	case c.ops <- req:
	case <-c.opsQuit:
		return errors.ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-c.opsQuit:
		// Loop stopped after accepting the request; the buffered done
		// channel lets the loop's drain pass complete without blocking.
		return errors.ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
