// Package errors provides standardized error handling for SignalStream
// pipeline components.
//
// # Overview
//
// The package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input, non-retryable),
// and Fatal (unrecoverable, stop processing). Classification lets
// components make retry and degradation decisions without hardcoded
// error string matching.
//
// The pipeline failure modes map onto classes as follows:
//
//   - Transient: broker connection loss, publish failures, rate limits
//   - Invalid: malformed inbound items, collaborator call failures
//   - Fatal: invalid configuration, resource exhaustion
//
// # Quick Start
//
// Use standard error variables for known conditions:
//
//	if !connected {
//	    return errors.ErrNoConnection
//	}
//
// Wrap errors with component context:
//
//	if err := publisher.Publish(ctx, action); err != nil {
//	    return errors.WrapTransient(err, "Publisher", "Publish", "broker send")
//	}
//
// All wrapping follows the format "component.method: action failed: %w",
// which keeps logs parseable across the pipeline. Classification is
// preserved through wrapping chains and works with errors.Is/As.
//
// # Retry Integration
//
// RetryConfig bridges classification into the retry package:
//
//	cfg := errors.DefaultRetryConfig()
//	if cfg.ShouldRetry(err, attempt) {
//	    time.Sleep(cfg.BackoffDelay(attempt))
//	}
//
// or convert with ToRetryConfig() for use with retry.Do.
//
// Context errors (context.DeadlineExceeded, context.Canceled) are
// classified as Transient so context-based timeouts follow the same
// handling path as network timeouts.
package errors
