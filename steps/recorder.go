package steps

import (
	"sync"
)

// Recorder is an append-only step queue shared between the goroutine
// running a reasoning loop (writer) and the orchestrator draining it (reader).
// One Recorder belongs to exactly one request.
type Recorder struct {
	mu      sync.Mutex
	pending []ReasoningStep
	total   int

	// ready holds at most one wake-up; Record never blocks on it
	ready chan struct{}
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{
		ready: make(chan struct{}, 1),
	}
}

// Record appends a step. Safe to call concurrently with DrainNew.
func (r *Recorder) Record(step ReasoningStep) {
	r.mu.Lock()
	r.pending = append(r.pending, step.Clone())
	r.total++
	r.mu.Unlock()

	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// DrainNew returns every step recorded since the previous drain, in
// emission order, and marks them consumed. Returns nil when nothing is new.
func (r *Recorder) DrainNew() []ReasoningStep {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return nil
	}
	drained := r.pending
	r.pending = nil
	return drained
}

// Ready signals that at least one step may be waiting. A receive
// followed by DrainNew can observe an empty drain; callers must tolerate it.
func (r *Recorder) Ready() <-chan struct{} {
	return r.ready
}

// Len returns the number of undrained steps
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Total returns the number of steps ever recorded
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
