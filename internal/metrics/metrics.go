// Package metrics decouples the profiling engine from any concrete metrics
// vendor. Engine code records counters and histogram samples against the
// process-wide backend; wiring a real backend (or none) is the CLI's job.
package metrics

import "sync"

// Labels are free-form metric dimensions (column, stage, status).
type Labels map[string]string

// Backend is the minimal sink the engine emits into.
type Backend interface {
	// IncCounter adds delta to a monotonically increasing counter.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a distribution metric.
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush submits buffered metrics to the vendor.
	Flush() error

	// Close stops background submission and flushes one final time.
	Close() error
}

// Metric names emitted by the engine. Keeping them in one place makes the
// dashboard contract greppable.
const (
	RunsTotal            = "profiler_runs_total"
	RowsTotal            = "profiler_rows_total"
	BytesTotal           = "profiler_bytes_total"
	ErrorsTotal          = "profiler_errors_total"
	SpillsTotal          = "profiler_spills_total"
	StageDurationSeconds = "profiler_stage_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }
func (nopBackend) Close() error                             { return nil }

// Nop returns a backend that discards everything.
func Nop() Backend { return nopBackend{} }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Call once at startup,
// before the engine starts emitting.
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

// IncCounter records against the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records against the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }
