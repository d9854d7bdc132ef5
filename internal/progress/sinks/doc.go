// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, and live stage state on run records.
package sinks
