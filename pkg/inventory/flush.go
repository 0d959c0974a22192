package inventory

import (
	"errors"
	"sync"
)

// ErrFlushCancelled is the error carried by a flush resolved through Cancel.
var ErrFlushCancelled = errors.New("inventory flush cancelled")

// FlushOutcome classifies how a Flush resolved.
type FlushOutcome uint8

const (
	// FlushPending means the flush has not resolved yet.
	FlushPending FlushOutcome = iota
	// FlushSucceeded means all pending writes reached the store.
	FlushSucceeded
	// FlushFailed means the store reported an error.
	FlushFailed
	// FlushCancelled means Cancel won the race against completion.
	FlushCancelled
)

// String returns the outcome name.
func (o FlushOutcome) String() string {
	switch o {
	case FlushPending:
		return "PENDING"
	case FlushSucceeded:
		return "SUCCEEDED"
	case FlushFailed:
		return "FAILED"
	case FlushCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Flush is the async handle for a flush-and-close operation. It resolves
// exactly once: the first of Complete or Cancel wins, every later call is
// a no-op. Waiters select on Done and then read Outcome and Err.
type Flush struct {
	mu sync.Mutex

	resolveOnce sync.Once
	cancelOnce  sync.Once

	done     chan struct{}
	cancelCh chan struct{}

	outcome FlushOutcome
	err     error
}

// NewFlush returns an unresolved handle.
func NewFlush() *Flush {
	return &Flush{
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

// ResolvedFlush returns a handle that already completed with err
// (nil err means success). Useful for stores with nothing to flush.
func ResolvedFlush(err error) *Flush {
	f := NewFlush()
	f.Complete(err)
	return f
}

// Complete resolves the handle from the store's writer. A nil error marks
// success. No-op if the handle already resolved.
func (f *Flush) Complete(err error) {
	f.resolveOnce.Do(func() {
		f.mu.Lock()
		if err != nil {
			f.outcome = FlushFailed
			f.err = err
		} else {
			f.outcome = FlushSucceeded
		}
		f.mu.Unlock()
		close(f.done)
	})
}

// Cancel resolves the handle as cancelled and signals the store's writer
// to stop early. No-op if the handle already resolved.
func (f *Flush) Cancel() {
	f.cancelOnce.Do(func() {
		close(f.cancelCh)
	})
	f.resolveOnce.Do(func() {
		f.mu.Lock()
		f.outcome = FlushCancelled
		f.err = ErrFlushCancelled
		f.mu.Unlock()
		close(f.done)
	})
}

// Done is closed once the handle resolves.
func (f *Flush) Done() <-chan struct{} {
	return f.done
}

// Cancelled is closed when Cancel is called. Store writers may watch it
// to abandon slow work; they never need to, since a late Complete is
// simply ignored.
func (f *Flush) Cancelled() <-chan struct{} {
	return f.cancelCh
}

// Outcome returns how the handle resolved, or FlushPending.
func (f *Flush) Outcome() FlushOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome
}

// Err returns the resolution error: nil for success, the store error for
// failure, ErrFlushCancelled for cancellation.
func (f *Flush) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
