package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alexschlessinger/pollyquery/events"
	"go.uber.org/zap"
)

// ErrIncomplete is returned by Consume when the stream ended without a terminal event
var ErrIncomplete = errors.New("stream ended before a final result")

const readChunk = 4096

// Reconciler folds one response stream into one assistant Message.
// Mutations are monotonic and stop at the first terminal event.
// A Reconciler is not safe for concurrent use.
type Reconciler struct {
	msg      Message
	parser   *events.Parser
	answered bool
	closed   bool
	onChange func(Message)
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithCreatedAt fixes the message timestamp
func WithCreatedAt(t time.Time) Option {
	return func(r *Reconciler) { r.msg.CreatedAt = t }
}

// WithOnChange registers a callback invoked with a copy of the message
// after every mutation
func WithOnChange(fn func(Message)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

// New seeds an empty streaming assistant message. The message depends only
// on id and the events applied; CreatedAt stays zero unless WithCreatedAt is given.
func New(id string, opts ...Option) *Reconciler {
	r := &Reconciler{
		msg: Message{
			ID:          id,
			Role:        RoleAssistant,
			IsStreaming: true,
		},
		parser: events.NewParser(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply folds ev into the message and reports whether anything changed.
// Events after a terminal event are ignored.
func (r *Reconciler) Apply(ev events.Event) bool {
	if r.closed {
		zap.S().Debugw("event_after_terminal_ignored", "message_id", r.msg.ID, "event", ev.String())
		return false
	}

	changed := false
	switch ev.Type {
	case events.TypeReasoningStep:
		if ev.Step == nil {
			return false
		}
		r.msg.ReasoningSteps = append(r.msg.ReasoningSteps, ev.Step.Clone())
		changed = true

	case events.TypeAnswerToken:
		if ev.Text == "" {
			return false
		}
		r.msg.Content += ev.Text
		changed = true

	case events.TypeAnswerComplete:
		changed = !r.answered
		r.answered = true

	case events.TypeFinalResult:
		result := ev.Result
		if result == nil {
			result = &events.FinalResult{}
		}
		switch {
		case result.Summary != "":
			r.msg.Content = result.Summary
		case result.Answer != "":
			r.msg.Content = result.Answer
		}
		if result.GeneratedQuery != nil {
			q := *result.GeneratedQuery
			r.msg.GeneratedQuery = &q
		}
		r.msg.ResultRows = cloneRows(result.Rows)
		if result.Columns != nil {
			r.msg.Columns = append([]string(nil), result.Columns...)
		}
		r.terminate()
		changed = true

	case events.TypeError:
		r.msg.Content = ev.Text
		r.msg.Failed = true
		r.terminate()
		changed = true

	default:
		return false
	}

	if changed && r.onChange != nil {
		r.onChange(r.msg.Clone())
	}
	return changed
}

func (r *Reconciler) terminate() {
	r.msg.IsStreaming = false
	r.closed = true
}

// Feed runs raw stream bytes through the frame parser and applies every
// decoded event. Malformed frames are skipped. Returns the number of
// events that changed the message.
func (r *Reconciler) Feed(chunk []byte) int {
	return r.applyAll(r.parser.Feed(chunk))
}

func (r *Reconciler) applyAll(evs []events.Event) int {
	n := 0
	for _, ev := range evs {
		if r.Apply(ev) {
			n++
		}
	}
	return n
}

// Consume reads the stream until EOF. A stream that ends, fails or is
// cancelled before a terminal event leaves the message failed, never streaming.
func (r *Reconciler) Consume(ctx context.Context, body io.Reader) error {
	buf := make([]byte, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			r.fail("request cancelled")
			return err
		}

		n, err := body.Read(buf)
		if n > 0 {
			r.Feed(buf[:n])
		}
		if err == nil {
			continue
		}

		r.applyAll(r.parser.Flush())
		if errors.Is(err, io.EOF) {
			if !r.closed {
				r.fail(ErrIncomplete.Error())
				return ErrIncomplete
			}
			return nil
		}
		if !r.closed {
			if ctx.Err() != nil {
				r.fail("request cancelled")
				return ctx.Err()
			}
			r.fail(fmt.Sprintf("stream interrupted: %v", err))
		}
		return fmt.Errorf("read stream: %w", err)
	}
}

func (r *Reconciler) fail(message string) {
	r.Apply(events.ErrorEvent(message))
}

// Message returns a deep copy of the current message
func (r *Reconciler) Message() Message {
	return r.msg.Clone()
}

// Done reports whether a terminal event has been applied
func (r *Reconciler) Done() bool { return r.closed }

// Answered reports whether chat_done was received
func (r *Reconciler) Answered() bool { return r.answered }

// Skipped returns the number of malformed frames dropped by Feed
func (r *Reconciler) Skipped() int { return r.parser.Skipped() }
