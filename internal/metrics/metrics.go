// Package metrics is the backend-agnostic metrics facade.
//
// Code records through the package-level functions; a binary installs a
// concrete Backend (e.g. metrics/datadog) with SetBackend at start-up. Until
// then every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends switch on these and ignore anything else.
const (
	// RequestsTotal counts HTTP requests by "route" and "status".
	RequestsTotal = "dfapi_requests_total"

	// RequestDurationSeconds observes HTTP latency by "route" and "status".
	RequestDurationSeconds = "dfapi_request_duration_seconds"

	// StepDurationSeconds observes pipeline steps by "step" and "status".
	StepDurationSeconds = "dfapi_step_duration_seconds"

	// ColumnsTotal counts typed columns by "tag".
	ColumnsTotal = "dfapi_columns_total"

	// CoerceFailuresTotal counts whole-column coercion failures by "tag".
	CoerceFailuresTotal = "dfapi_coerce_failures_total"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b process-wide. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered metrics of the installed backend.
func Flush() error {
	return current().Flush()
}

// ObserveStep records the duration of a step that started at start, with
// status "ok" or "error" depending on err.
func ObserveStep(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), Labels{"step": step, "status": status})
}
