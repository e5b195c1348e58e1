package events

import "sync"

// Recorded pairs an emitted event with its assigned sequence number.
type Recorded struct {
	Sequence int64
	Event    Event
}

// Recorder is an Emitter that retains a bounded history of emitted events for
// RPC consumers. The oldest entries are dropped once the capacity is reached.
type Recorder struct {
	mu      sync.RWMutex
	next    int64
	limit   int
	history []Recorded
}

// NewRecorder constructs a recorder retaining at most limit events. A
// non-positive limit falls back to a small default.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 1024
	}
	return &Recorder{limit: limit, next: 1}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, Recorded{Sequence: r.next, Event: evt})
	r.next++
	if len(r.history) > r.limit {
		r.history = r.history[len(r.history)-r.limit:]
	}
}

// List returns up to limit retained events, newest last. A non-positive limit
// returns the full retained history.
func (r *Recorder) List(limit int) []Recorded {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]Recorded(nil), r.history...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
