// Package metrics is the backend-agnostic metrics facade used by the pipeline.
//
// Pipeline code only calls the package-level helpers; cmd/ wires a concrete
// Backend (datadog, or none) once at startup with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"step": "parse", "status": "ok"}.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by the pipeline.
const (
	RecordsTotal        = "healthetl_records_total"
	StepTotal           = "healthetl_step_total"
	StepDurationSeconds = "healthetl_step_duration_seconds"
	RowsWrittenTotal    = "healthetl_rows_written_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter forwards to the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram forwards to the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush forwards to the installed backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one pipeline step and observes its duration.
// Call as `defer metrics.RecordStep("parse", time.Now(), &err)`.
func RecordStep(step string, start time.Time, errp *error) {
	status := "ok"
	if errp != nil && *errp != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), l)
}
