// Package progress implements the cooperative cancellation token and the
// callback-based progress reporting protocol from spec.md §4.9.
package progress

import (
	"log"
	"sync"
	"sync/atomic"
)

// CancelToken is a shared, cooperative cancellation flag. It is checked at
// chunk boundaries by every processor and between files by the folder
// merger; there is no preemption.
type CancelToken struct {
	flag atomic.Bool
}

// Set marks the token as cancelled. Safe to call from any goroutine,
// including a signal handler's goroutine.
func (c *CancelToken) Set() { c.flag.Store(true) }

// IsSet reports whether the token has been cancelled.
func (c *CancelToken) IsSet() bool { return c.flag.Load() }

// EventKind enumerates the progress event kinds from spec.md §4.9.
type EventKind string

const (
	EventStart EventKind = "start"
	EventChunk EventKind = "chunk"
	EventStage EventKind = "stage"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// Event is a structured progress event delivered to the user-supplied
// callback. ChunkSize is a supplemented field (SPEC_FULL.md §9) carrying
// the adaptive chunk size active when the event was produced.
type Event struct {
	Kind              EventKind
	Component         string
	RowsRead          int64
	RowsWritten       int64
	ApproxFractionDone float64
	ChunkSize         int
	Stage             string
	Message           string
}

// Callback is the user-supplied progress sink.
type Callback func(Event)

// Reporter wraps a user Callback so that a panicking callback is caught,
// logged once, and disabled for the remainder of the job — per spec.md
// §4.9 ("a raising callback is caught, logged, and disabled for the rest
// of the job").
type Reporter struct {
	mu       sync.Mutex
	cb       Callback
	disabled bool
}

// NewReporter wraps cb. A nil cb is accepted and simply produces a
// Reporter that does nothing.
func NewReporter(cb Callback) *Reporter {
	return &Reporter{cb: cb}
}

// Emit delivers an event to the wrapped callback, unless it has been
// disabled by a prior panic or no callback was supplied.
func (r *Reporter) Emit(ev Event) {
	r.mu.Lock()
	disabled := r.disabled || r.cb == nil
	cb := r.cb
	r.mu.Unlock()
	if disabled {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			log.Printf("progress callback panicked, disabling for remainder of job: %v", p)
			r.mu.Lock()
			r.disabled = true
			r.mu.Unlock()
		}
	}()
	cb(ev)
}
