// ABOUTME: Package progress fans lifecycle events out to browser subscribers
// ABOUTME: Keyed by console session so each operator only sees their own runs

// Package progress is an in-memory pub/sub for lifecycle events. The console
// subscribes one channel per open event stream and pipelines publish into
// the session's key through a lifecycle.Sink.
//
// Delivery is best effort. A subscriber whose buffer is full misses events,
// but the most recent event of every action is retained per key so a page
// that reconnects can render the current phase.
package progress
