// Package buffer provides a generic, thread-safe circular buffer with
// configurable overflow policies. In this pipeline it is the publisher's
// outage buffer: messages that could not be sent while the broker is down
// are held here in FIFO order and drained when the connection recovers.
//
// # Quick Start
//
//	buf, err := buffer.NewCircularBuffer[publisher.Message](10,
//		buffer.WithOverflowPolicy[publisher.Message](buffer.DropOldest),
//		buffer.WithMetrics[publisher.Message](registry, "publisher"),
//	)
//	if err != nil {
//		return err
//	}
//
//	err = buf.Write(msg)
//	msg, ok := buf.Read()
//
// # Outage Buffering and Flush
//
// Flush drains buffered items in FIFO order through a publish function,
// stopping at the first failure so that the failing item and everything
// behind it survive for the next attempt:
//
//	flushed, err := buf.Flush(func(msg publisher.Message) error {
//		return conn.Publish(ctx, msg.Subject, msg.Data)
//	})
//
// The publish function runs outside the buffer lock: occupied slots are
// swapped out under the lock, sent outside it, and the unsent remainder is
// requeued at the front on failure, ahead of writes that raced the drain.
// Writers are therefore never blocked on publish I/O. Flush calls are
// serialized against each other.
//
// Status exposes a snapshot (size, capacity, age of the oldest entry) for
// health reporting.
//
// # Overflow Policies
//
// Three behaviors when capacity is reached:
//
//   - DropOldest: remove the oldest item to make room (default, and what
//     the outage buffer uses: under sustained backlog the freshest
//     messages win)
//   - DropNewest: reject new items when full
//   - Block: Write waits for space
//
// With Block, WriteWithContext and WriteWithTimeout bound the wait:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	err := buf.WriteWithContext(ctx, item)
//
// A DropCallback observes every evicted item; the publisher uses it to log
// each message lost to overflow.
//
// # Observability
//
// Statistics are always collected with atomic counters and are available
// via Stats() with no configuration; they carry the operation counts the
// tests and status endpoints read (writes, reads, overflows, drops,
// current and peak size). Prometheus metrics are optional via
// WithMetrics(registry, prefix) and export the same counters plus an
// occupancy gauge under the shared pipeline registry. The two are tracked
// independently so the buffer stays observable when metrics are disabled.
//
// # Thread Safety
//
// All operations are safe for concurrent producers and consumers. Internal
// state is guarded by a sync.RWMutex, the Block policy waits on sync.Cond,
// and statistics use lock-free atomics.
package buffer
