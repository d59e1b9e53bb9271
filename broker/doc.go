// Package broker provides the JetStream-backed transport for the pipeline
// with circuit breaker protection and explicit acknowledgment handles.
//
// The broker package wraps the NATS Go client with the reliability features
// the pipeline depends on: a circuit breaker that fails fast after repeated
// connection failures, a single connection loop that serializes every
// mutation of the underlying connection, and per-message delivery handles
// that guarantee at most one acknowledgment ever reaches the server.
//
// # Connection Loop
//
// Publishes and acknowledgment settlements may originate from any worker
// goroutine, but the NATS connection must only be driven from one place.
// The client runs a dedicated loop goroutine fed by a channel of requests;
// submit hands an operation to the loop and waits for its result. When the
// loop has stopped (client closed), submissions fail with ErrConnClosed and
// unacknowledged messages are redelivered by the server after the ack wait.
//
// # Delivery Handles
//
// Consume never acknowledges automatically. Each delivered message carries
// a *Delivery; the worker that processes the message calls Ack or Nak
// exactly once. The handle enforces at-most-once settlement internally, so
// double acknowledgment is structurally impossible even when shutdown races
// message processing:
//
//	err = client.Consume(ctx, "EVENTS", "events.inbound",
//	    func(ctx context.Context, d *broker.Delivery) {
//	        if process(d.Data()) != nil {
//	            d.Nak(ctx) // redeliver
//	            return
//	        }
//	        d.Ack(ctx)
//	    })
//
// # Basic Usage
//
// Creating and connecting:
//
//	client, err := broker.NewClient("nats://localhost:4222",
//	    broker.WithName("signalstream"),
//	    broker.WithPrefetch(10),
//	    broker.WithCircuitBreakerThreshold(5),
//	)
//	if err != nil {
//	    return err
//	}
//
//	ctx := context.Background()
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.EnsureStream(ctx, "EVENTS", []string{"events.>"})
//	err = client.Publish(ctx, "actions.outbound", payload)
//
// # Reconnection
//
// The transport's own reconnection is disabled; the connection monitor owns
// the reconnect policy. Probe performs a server round trip, and Reconnect
// makes exactly one attempt to replace the connection, re-establishing all
// registered consumers on success. Pacing and retry counts live with the
// caller.
//
// # Circuit Breaker
//
// After the configured threshold of consecutive failures the circuit opens
// and Connect/Publish fail fast with ErrCircuitOpen. The backoff doubles on
// each open up to the maximum, then the circuit permits attempts again.
package broker
