// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the dataset service.
//
// A global, pluggable backend defaults to a no-op implementation, so every
// Record* call is safe even when no metrics system is configured. Concrete
// systems live in subpackages (prompush, datadog).
package metrics

import "time"

// Series names emitted by this package.
const (
	StepTotal           = "datasets_step_total"
	StepDurationSeconds = "datasets_step_duration_seconds"
	RowsTotal           = "datasets_rows_total"
	BatchesTotal        = "datasets_batches_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing
// backend. Call it once at startup, before any Record* call.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep measures latency and success/failure of one step of a dataset
// operation, e.g. op "ingest", step "parse".
func RecordStep(op, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"op":     op,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow increments a row-level counter for the given operation and kind.
//
// Kinds used by the service:
//   - "parsed"
//   - "stored"
//   - "dropped" (rows removed by process)
func RecordRow(op, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{
		"op":   op,
		"kind": kind,
	})
}

// RecordBatches counts bulk-insert batches flushed to storage.
func RecordBatches(delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BatchesTotal, float64(delta), nil)
}
