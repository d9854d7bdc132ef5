// Package progress provides the run events, the non-blocking Hub that batches
// them, and the Sink and Emitter interfaces. The scheduler emits one event per
// run and stage transition; sinks turn batches into logs, metrics and live run
// records.
package progress
