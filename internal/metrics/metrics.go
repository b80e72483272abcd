// Package metrics decouples the import pipeline from any particular metrics
// vendor. Core code calls the package-level helpers; binaries decide which
// backend (if any) receives the data.
package metrics

import (
	"sync"
	"time"
)

// Backend receives metric observations. Implementations must be safe for
// concurrent use and must tolerate being called after Close (drop on floor).
type Backend interface {
	// IncCounter adds delta to a monotonic counter.
	IncCounter(name string, delta float64, tags []string)

	// ObserveDuration records one duration sample for a stage.
	ObserveDuration(name string, d time.Duration, tags []string)

	// Flush submits buffered data now.
	Flush() error

	// Close flushes one final time and releases resources.
	Close() error
}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Call once at startup.
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

func IncCounter(name string, delta float64, tags ...string) {
	current().IncCounter(name, delta, tags)
}

func ObserveDuration(name string, d time.Duration, tags ...string) {
	current().ObserveDuration(name, d, tags)
}

func Flush() error { return current().Flush() }

func Close() error { return current().Close() }

// nopBackend is the default: metrics disappear silently so core code never
// guards calls.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, []string)            {}
func (nopBackend) ObserveDuration(string, time.Duration, []string) {}
func (nopBackend) Flush() error                                    { return nil }
func (nopBackend) Close() error                                    { return nil }
