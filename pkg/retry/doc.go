// Package retry provides exponential backoff retry logic for transient
// failures. In this pipeline it backs two call sites: the workflow wraps
// every collaborator call (topic filter, fingerprinter, scorer, token
// detectors) in a retried invocation, and the connection monitor runs its
// bounded reconnect cycle through Fixed.
//
// # Core Functions
//
//   - Do: execute a function with retry and backoff
//   - DoWithResult: same, returning both result and error
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (collaborator calls)
//   - Quick(): 10 attempts, 50ms-1s delay (startup probes)
//   - Persistent(): 30 attempts, 200ms-10s delay (critical resources)
//   - Fixed(n, d): n attempts, constant delay d (the monitor's reconnect
//     cycle, where the spacing between attempts is part of the contract)
//
// # Usage
//
// A collaborator call with defaults:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    var callErr error
//	    matches, callErr = filter.Matches(ctx, item.Text)
//	    return callErr
//	})
//
// A reconnect cycle with fixed spacing:
//
//	err := retry.Do(ctx, retry.Fixed(3, 5*time.Second), func() error {
//	    return conn.Reconnect(ctx)
//	})
//
// Retry with a result:
//
//	score, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (int, error) {
//	    return scorer.Score(ctx, records)
//	})
//
// Wrap permanent failures in NonRetryableError to stop the loop early:
//
//	return &retry.NonRetryableError{Err: err}
//
// # Design
//
// The package is intentionally minimal: exponential backoff with optional
// jitter and nothing else. Circuit breaking lives in the broker client,
// metrics at the call sites, and error classification in the errors
// package; the caller decides what is worth retrying.
//
// All operations respect context cancellation, both while the function
// runs and during backoff delays. All functions are safe for concurrent
// use.
package retry
