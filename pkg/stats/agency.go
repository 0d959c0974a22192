package stats

import (
	"log/slog"
	"sync/atomic"
)

// Agency receives event counts from the transport and lifecycle layers.
// Implementations must be safe for concurrent use.
type Agency interface {
	// Count increments the counter for the given class by one.
	Count(c Class)

	// Add increments the counter for the given class by delta.
	Add(c Class, delta int64)

	// Snapshot returns the current value of every nonzero counter.
	Snapshot() map[Class]int64
}

// CounterAgency is the default Agency: a fixed array of atomic counters.
// The zero value is not usable; call NewCounterAgency.
type CounterAgency struct {
	counters [numClasses]atomic.Int64
}

// NewCounterAgency creates an agency with all counters at zero.
func NewCounterAgency() *CounterAgency {
	return &CounterAgency{}
}

// Count increments the counter for the given class by one.
func (a *CounterAgency) Count(c Class) {
	a.Add(c, 1)
}

// Add increments the counter for the given class by delta.
// Unknown classes are ignored.
func (a *CounterAgency) Add(c Class, delta int64) {
	if c >= numClasses {
		return
	}
	a.counters[c].Add(delta)
}

// Snapshot returns the current value of every nonzero counter.
func (a *CounterAgency) Snapshot() map[Class]int64 {
	snap := make(map[Class]int64)
	for c := Class(0); c < numClasses; c++ {
		if v := a.counters[c].Load(); v != 0 {
			snap[c] = v
		}
	}
	return snap
}

// LogReport emits one info line per nonzero counter. Quiet when every
// counter is zero.
func (a *CounterAgency) LogReport(logger *slog.Logger) {
	if logger == nil {
		return
	}
	for c := Class(0); c < numClasses; c++ {
		if v := a.counters[c].Load(); v != 0 {
			logger.Info("stats", "class", c.String(), "count", v)
		}
	}
}

// Noop discards all counts. Use when metrics are disabled.
// Noop is safe for concurrent use and usable as a zero value.
type Noop struct{}

// Count discards the event.
func (Noop) Count(Class) {}

// Add discards the delta.
func (Noop) Add(Class, int64) {}

// Snapshot always returns an empty map.
func (Noop) Snapshot() map[Class]int64 { return map[Class]int64{} }

// Compile-time interface satisfaction checks.
var (
	_ Agency = (*CounterAgency)(nil)
	_ Agency = Noop{}
)
