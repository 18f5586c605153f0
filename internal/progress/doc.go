// Package progress provides the event primitives and emitters the sourcing
// pipeline uses to report per-item progress. A Stream gives one consumer an
// ordered, lossless view; a Hub batches events on a background goroutine and
// fans them out to pluggable sinks such as Prometheus metrics or logs.
package progress
