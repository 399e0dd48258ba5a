// Package orchestrator drives one reasoning run per request and turns its
// steps, tokens and outcome into an ordered event stream that always ends
// with exactly one terminal event.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexschlessinger/pollyquery/events"
	"github.com/alexschlessinger/pollyquery/steps"
	"go.uber.org/zap"
)

var (
	// ErrNoAnswer is returned by a reasoner that finished without an answer
	ErrNoAnswer = errors.New("no answer produced")
	// ErrTransport marks a stream aborted because the consumer went away
	ErrTransport = errors.New("transport failure")
)

// NoAnswerMessage is the error content sent when the reasoner produced nothing usable
const NoAnswerMessage = "I apologize, but I cannot answer this question from the available data. " +
	"The database does not appear to contain the information you're looking for."

const (
	defaultTimeout     = 60 * time.Second
	defaultTokenBuffer = 64
)

// Outcome is what a reasoner returns on success
type Outcome struct {
	Answer         string
	Summary        string
	GeneratedQuery *string
	Rows           [][]any
	Columns        []string
}

// Reasoner performs tool-using reasoning for one question, recording steps
// and answer tokens into sink as it goes.
type Reasoner interface {
	Reason(ctx context.Context, question string, sink steps.Sink) (*Outcome, error)
}

// ReasonerFunc adapts a function to Reasoner
type ReasonerFunc func(ctx context.Context, question string, sink steps.Sink) (*Outcome, error)

func (f ReasonerFunc) Reason(ctx context.Context, question string, sink steps.Sink) (*Outcome, error) {
	return f(ctx, question, sink)
}

// Emitter delivers events to the consumer
type Emitter interface {
	Emit(events.Event) error
}

// Config tunes the orchestrator
type Config struct {
	// Timeout bounds a whole run; zero means 60s
	Timeout time.Duration
	// TokenBuffer is the capacity of the token hand-off channel
	TokenBuffer int
}

// Orchestrator is safe for concurrent use; each Stream call owns its Run.
type Orchestrator struct {
	reasoner Reasoner
	cfg      Config
}

// New creates an orchestrator around reasoner
func New(reasoner Reasoner, cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TokenBuffer <= 0 {
		cfg.TokenBuffer = defaultTokenBuffer
	}
	return &Orchestrator{reasoner: reasoner, cfg: cfg}
}

type reasonResult struct {
	outcome *Outcome
	err     error
}

// Stream answers question, emitting events to out until a terminal event
// has been written. The returned error is non-nil only for transport
// failures (wrapping ErrTransport); reasoning failures are reported in-band.
func (o *Orchestrator) Stream(ctx context.Context, question string, out Emitter) (*Run, error) {
	run := newRun(question, o.cfg.TokenBuffer)
	log := zap.S().With("run_id", run.id)

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run.setState(StateRunning)
	log.Infow("run_started", "question", question, "timeout", o.cfg.Timeout)
	started := time.Now()

	// buffered so the goroutine can always exit, even after we stop listening
	done := make(chan reasonResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reasonResult{err: fmt.Errorf("reasoner panic: %v", r)}
			}
		}()
		outcome, err := o.reasoner.Reason(rctx, question, runSink{ctx: rctx, run: run})
		done <- reasonResult{outcome: outcome, err: err}
	}()

	timer := time.NewTimer(o.cfg.Timeout)
	defer timer.Stop()

	s := &streamer{run: run, out: out, log: log}

	for {
		select {
		case <-run.recorder.Ready():
			if err := s.flushSteps(); err != nil {
				return run, s.abort(cancel, err)
			}

		case tok := <-run.tokenCh:
			// steps recorded before this token go first
			if err := s.flushSteps(); err != nil {
				return run, s.abort(cancel, err)
			}
			if err := s.token(tok); err != nil {
				return run, s.abort(cancel, err)
			}

		case res := <-done:
			// a reasoner unblocked by the caller going away is not a result
			if ctx.Err() != nil {
				return run, s.abort(cancel, ctx.Err())
			}
			if err := s.drain(); err != nil {
				return run, s.abort(cancel, err)
			}
			if err := s.finish(res); err != nil {
				return run, s.abort(cancel, err)
			}
			log.Infow("run_finished",
				"state", run.State().String(),
				"steps", run.Steps(),
				"tokens", run.Tokens(),
				"elapsed", time.Since(started))
			return run, nil

		case <-timer.C:
			cancel()
			log.Warnw("run_timeout", "timeout", o.cfg.Timeout)
			if err := s.flushSteps(); err != nil {
				return run, s.abort(cancel, err)
			}
			run.setState(StateFailed)
			if err := s.emit(events.ErrorEvent(timeoutMessage(o.cfg.Timeout))); err != nil {
				return run, s.abort(cancel, err)
			}
			return run, nil

		case <-ctx.Done():
			return run, s.abort(cancel, ctx.Err())
		}
	}
}

func timeoutMessage(d time.Duration) string {
	return "Query timed out after " + strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + " seconds"
}

// streamer is the single writer of one run's event sequence
type streamer struct {
	run *Run
	out Emitter
	log *zap.SugaredLogger
}

func (s *streamer) emit(ev events.Event) error {
	if err := s.out.Emit(ev); err != nil {
		return err
	}
	s.log.Debugw("event_emitted", "event", ev.String())
	return nil
}

func (s *streamer) flushSteps() error {
	for _, step := range s.run.recorder.DrainNew() {
		if err := s.emit(events.StepEvent(step)); err != nil {
			return err
		}
		s.run.steps.Add(1)
	}
	return nil
}

func (s *streamer) token(text string) error {
	if err := s.emit(events.TokenEvent(text)); err != nil {
		return err
	}
	s.run.tokens.Add(1)
	return nil
}

// drain forwards everything the finished reasoner left behind
func (s *streamer) drain() error {
	if err := s.flushSteps(); err != nil {
		return err
	}
	for {
		select {
		case tok := <-s.run.tokenCh:
			if err := s.token(tok); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *streamer) finish(res reasonResult) error {
	switch {
	case errors.Is(res.err, ErrNoAnswer):
		s.log.Infow("run_no_answer", "error", res.err)
		s.run.setState(StateFailed)
		return s.emit(events.ErrorEvent(NoAnswerMessage))

	case res.err != nil:
		return s.fail(res.err)

	case res.outcome == nil || (strings.TrimSpace(res.outcome.Answer) == "" && strings.TrimSpace(res.outcome.Summary) == ""):
		s.log.Infow("run_no_answer", "reason", "empty outcome")
		s.run.setState(StateFailed)
		return s.emit(events.ErrorEvent(NoAnswerMessage))
	}

	if s.run.Tokens() > 0 {
		if err := s.emit(events.CompleteEvent()); err != nil {
			return err
		}
	}

	outcome := res.outcome
	summary := outcome.Summary
	if strings.TrimSpace(summary) == "" {
		summary = outcome.Answer
	}

	err := s.emit(events.ResultEvent(events.FinalResult{
		Summary:        summary,
		Answer:         outcome.Answer,
		GeneratedQuery: outcome.GeneratedQuery,
		Rows:           outcome.Rows,
		Columns:        outcome.Columns,
	}))
	if errors.Is(err, events.ErrEncode) {
		// nothing was written; the run still owes exactly one terminal event
		return s.fail(err)
	}
	if err != nil {
		return err
	}
	s.run.setState(StateSucceeded)
	return nil
}

func (s *streamer) fail(cause error) error {
	s.log.Errorw("run_failed", "error", cause)
	s.run.setState(StateFailed)
	return s.emit(events.ErrorEvent("I encountered an error while processing your query: " + cause.Error()))
}

// abort cancels the reasoner and reports a transport failure. The reasoner
// goroutine is not waited on.
func (s *streamer) abort(cancel context.CancelFunc, cause error) error {
	cancel()
	s.run.setState(StateFailed)
	s.log.Warnw("run_aborted", "error", cause)
	return fmt.Errorf("%w: %w", ErrTransport, cause)
}
