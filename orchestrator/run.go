package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/alexschlessinger/pollyquery/steps"
	"github.com/google/uuid"
)

// State is the lifecycle position of a Run
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Run is the per-request streaming context. Its recorder and token
// channel belong to this request only.
type Run struct {
	id       string
	question string
	state    atomic.Int32
	steps    atomic.Int64
	tokens   atomic.Int64

	recorder *steps.Recorder
	tokenCh  chan string
}

func newRun(question string, tokenBuffer int) *Run {
	return &Run{
		id:       "run_" + uuid.NewString()[:8],
		question: question,
		recorder: steps.NewRecorder(),
		tokenCh:  make(chan string, tokenBuffer),
	}
}

// ID returns the run identifier used in logs
func (r *Run) ID() string { return r.id }

// Question returns the question this run answers
func (r *Run) Question() string { return r.question }

// State returns the current lifecycle state
func (r *Run) State() State { return State(r.state.Load()) }

// Steps returns the number of reasoning_step events emitted
func (r *Run) Steps() int { return int(r.steps.Load()) }

// Tokens returns the number of chat_token events emitted
func (r *Run) Tokens() int { return int(r.tokens.Load()) }

func (r *Run) setState(s State) { r.state.Store(int32(s)) }

// runSink is the capability handed to the reasoner
type runSink struct {
	ctx context.Context
	run *Run
}

func (s runSink) Record(step steps.ReasoningStep) {
	s.run.recorder.Record(step)
}

// Token blocks until the orchestrator takes the fragment or the run is cancelled
func (s runSink) Token(text string) {
	select {
	case s.run.tokenCh <- text:
	case <-s.ctx.Done():
	}
}
