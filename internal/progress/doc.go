// Package progress tracks the state of the current scan and publishes its
// lifecycle as events. The Tracker owns the phase state machine and the
// min-aggregation of per-region progress; the Hub batches the resulting events
// on a background goroutine and fans them out to pluggable sinks such as
// Prometheus metrics or persistent storage.
package progress
