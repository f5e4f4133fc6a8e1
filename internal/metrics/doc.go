// Package metrics exposes lifecycle pipeline counters and durations in the
// Prometheus text format.
package metrics
