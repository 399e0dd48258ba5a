package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/alexschlessinger/pollyquery/events"
	"github.com/alexschlessinger/pollyquery/steps"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records emitted events; failAt > 0 makes the n-th emit fail
type collector struct {
	events []events.Event
	failAt int
}

func (c *collector) Emit(ev events.Event) error {
	if c.failAt > 0 && len(c.events)+1 == c.failAt {
		return errors.New("client went away")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) types() []events.Type {
	out := make([]events.Type, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

func (c *collector) terminals() int {
	n := 0
	for _, ev := range c.events {
		if ev.IsTerminal() {
			n++
		}
	}
	return n
}

func strPtr(s string) *string { return &s }

func TestStreamGeneralAnswer(t *testing.T) {
	o := New(ReasonerFunc(func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		sink.Token("Hel")
		sink.Token("lo")
		return &Outcome{Summary: "Hello"}, nil
	}), Config{})

	out := &collector{}
	run, err := o.Stream(context.Background(), "hi", out)
	require.NoError(t, err)

	assert.Equal(t, []events.Type{
		events.TypeAnswerToken,
		events.TypeAnswerToken,
		events.TypeAnswerComplete,
		events.TypeFinalResult,
	}, out.types())
	assert.Equal(t, "Hel", out.events[0].Text)
	assert.Equal(t, "lo", out.events[1].Text)
	assert.Equal(t, "Hello", out.events[3].Result.Summary)
	assert.Nil(t, out.events[3].Result.GeneratedQuery)

	assert.Equal(t, StateSucceeded, run.State())
	assert.Equal(t, 2, run.Tokens())
	assert.Equal(t, 0, run.Steps())
	assert.Regexp(t, `^run_[0-9a-f]{8}$`, run.ID())
}

func TestStreamDataQuery(t *testing.T) {
	query := "SELECT SUM(amount) FROM orders WHERE month='2024-03'"
	o := New(ReasonerFunc(func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		sink.Record(steps.Thought("look up march totals"))
		sink.Record(steps.Action("sql_db_query", query))
		sink.Record(steps.Observation("[(1234.5,)]"))
		return &Outcome{
			Answer:         "1234.5",
			Summary:        "March sales totaled 1234.5",
			GeneratedQuery: &query,
			Rows:           [][]any{{"1234.5"}},
			Columns:        []string{"total"},
		}, nil
	}), Config{})

	out := &collector{}
	run, err := o.Stream(context.Background(), "march sales?", out)
	require.NoError(t, err)

	assert.Equal(t, []events.Type{
		events.TypeReasoningStep,
		events.TypeReasoningStep,
		events.TypeReasoningStep,
		events.TypeFinalResult,
	}, out.types(), "no chat_done without tokens")
	assert.Equal(t, steps.KindThought, out.events[0].Step.Kind)
	assert.Equal(t, steps.KindAction, out.events[1].Step.Kind)
	assert.Equal(t, steps.KindObservation, out.events[2].Step.Kind)

	result := out.events[3].Result
	require.NotNil(t, result.GeneratedQuery)
	assert.Equal(t, query, *result.GeneratedQuery)
	assert.Equal(t, []string{"total"}, result.Columns)
	assert.Equal(t, 3, run.Steps())
}

func TestStreamStepsPrecedeLaterTokens(t *testing.T) {
	o := New(ReasonerFunc(func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		sink.Record(steps.Thought("first"))
		sink.Token("x")
		sink.Record(steps.Thought("second"))
		sink.Token("y")
		return &Outcome{Summary: "xy"}, nil
	}), Config{})

	out := &collector{}
	_, err := o.Stream(context.Background(), "q", out)
	require.NoError(t, err)

	var stepsSeen, tokensSeen []string
	for _, ev := range out.events {
		switch ev.Type {
		case events.TypeReasoningStep:
			stepsSeen = append(stepsSeen, ev.Step.Content)
		case events.TypeAnswerToken:
			tokensSeen = append(tokensSeen, ev.Text)
		}
	}
	assert.Equal(t, []string{"first", "second"}, stepsSeen)
	assert.Equal(t, []string{"x", "y"}, tokensSeen)
	assert.Equal(t, events.TypeReasoningStep, out.events[0].Type, "first step recorded before first token")
	assert.Equal(t, events.TypeFinalResult, out.events[len(out.events)-1].Type)
}

func TestStreamSummaryFallsBackToAnswer(t *testing.T) {
	o := New(ReasonerFunc(func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		return &Outcome{Answer: "42"}, nil
	}), Config{})

	out := &collector{}
	_, err := o.Stream(context.Background(), "q", out)
	require.NoError(t, err)
	require.Len(t, out.events, 1)
	assert.Equal(t, "42", out.events[0].Result.Summary)
	assert.Equal(t, "42", out.events[0].Result.Answer)
}

func TestStreamFailures(t *testing.T) {
	tests := []struct {
		name     string
		reason   ReasonerFunc
		contains string
		steps    int
	}{
		{
			name: "no answer sentinel",
			reason: func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
				return nil, fmt.Errorf("agent gave up: %w", ErrNoAnswer)
			},
			contains: "cannot answer",
		},
		{
			name: "empty outcome",
			reason: func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
				return &Outcome{}, nil
			},
			contains: "cannot answer",
		},
		{
			name: "nil outcome",
			reason: func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
				return nil, nil
			},
			contains: "cannot answer",
		},
		{
			name: "reasoning failure keeps earlier steps",
			reason: func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
				sink.Record(steps.Thought("connecting"))
				sink.Record(steps.Action("sql_db_query", "SELECT 1"))
				return nil, errors.New("database unreachable")
			},
			contains: "database unreachable",
			steps:    2,
		},
		{
			name: "panic",
			reason: func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
				panic("nil map")
			},
			contains: "nil map",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &collector{}
			run, err := New(tt.reason, Config{}).Stream(context.Background(), "q", out)
			require.NoError(t, err)

			require.Len(t, out.events, tt.steps+1)
			last := out.events[len(out.events)-1]
			assert.Equal(t, events.TypeError, last.Type)
			assert.Contains(t, last.Text, tt.contains)
			assert.Equal(t, 1, out.terminals())
			assert.Equal(t, StateFailed, run.State())
		})
	}
}

func TestStreamTimeoutCancelsReasoner(t *testing.T) {
	cancelled := make(chan struct{})
	o := New(ReasonerFunc(func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		sink.Record(steps.Thought("thinking hard"))
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}), Config{Timeout: 50 * time.Millisecond})

	out := &collector{}
	run, err := o.Stream(context.Background(), "q", out)
	require.NoError(t, err)

	require.NotEmpty(t, out.events)
	last := out.events[len(out.events)-1]
	assert.Equal(t, events.TypeError, last.Type)
	assert.Equal(t, "Query timed out after 0.05 seconds", last.Text)
	assert.Equal(t, 1, out.terminals())
	assert.Equal(t, StateFailed, run.State())

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("reasoner context was not cancelled")
	}
}

func TestStreamDoesNotWaitForStuckReasoner(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	o := New(ReasonerFunc(func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		<-release // ignores cancellation
		return &Outcome{Summary: "too late"}, nil
	}), Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	out := &collector{}
	_, err := o.Stream(context.Background(), "q", out)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, out.events, 1)
	assert.Equal(t, events.TypeError, out.events[0].Type)
}

func TestStreamCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	reasonerDone := make(chan struct{})

	o := New(ReasonerFunc(func(rctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		defer close(reasonerDone)
		close(started)
		<-rctx.Done()
		return nil, rctx.Err()
	}), Config{})

	go func() {
		<-started
		cancel()
	}()

	out := &collector{}
	run, err := o.Stream(ctx, "q", out)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.events)
	assert.Equal(t, StateFailed, run.State())

	select {
	case <-reasonerDone:
	case <-time.After(time.Second):
		t.Fatal("reasoner was not cancelled")
	}
}

func TestStreamEmitFailureAborts(t *testing.T) {
	reasonerCtx := make(chan context.Context, 1)
	o := New(ReasonerFunc(func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		reasonerCtx <- ctx
		sink.Token("a")
		sink.Token("b")
		sink.Token("c")
		return &Outcome{Summary: "abc"}, nil
	}), Config{})

	out := &collector{failAt: 2}
	_, err := o.Stream(context.Background(), "q", out)
	require.ErrorIs(t, err, ErrTransport)
	assert.Len(t, out.events, 1)
	assert.Zero(t, out.terminals())

	ctx := <-reasonerCtx
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("reasoner context still live after transport failure")
	}
}

func TestStreamMalformedStepDoesNotTerminate(t *testing.T) {
	o := New(ReasonerFunc(func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		sink.Record(steps.Thought("ok"))
		sink.Record(steps.ReasoningStep{Kind: steps.KindThought})
		sink.Record(steps.Observation("still ok"))
		return &Outcome{Summary: "fine"}, nil
	}), Config{})

	var buf bytes.Buffer
	w := events.NewWriter(&buf)
	_, err := o.Stream(context.Background(), "q", w)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Dropped())

	got := events.NewParser().Feed(buf.Bytes())
	require.Len(t, got, 3)
	assert.Equal(t, "ok", got[0].Step.Content)
	assert.Equal(t, "still ok", got[1].Step.Content)
	assert.Equal(t, events.TypeFinalResult, got[2].Type)
}

func TestStreamUnencodableResultFails(t *testing.T) {
	for name, cell := range map[string]any{
		"nan":     math.NaN(),
		"inf":     math.Inf(-1),
		"channel": make(chan struct{}),
	} {
		t.Run(name, func(t *testing.T) {
			o := New(ReasonerFunc(func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
				sink.Token("x")
				return &Outcome{Answer: "x", Rows: [][]any{{cell}}, Columns: []string{"v"}}, nil
			}), Config{})

			var buf bytes.Buffer
			w := events.NewWriter(&buf)
			run, err := o.Stream(context.Background(), "q", w)
			require.NoError(t, err)
			assert.True(t, w.Closed())
			assert.Equal(t, StateFailed, run.State())

			got := events.NewParser().Feed(buf.Bytes())
			require.Len(t, got, 3)
			assert.Equal(t, events.TypeAnswerToken, got[0].Type)
			assert.Equal(t, events.TypeAnswerComplete, got[1].Type)
			assert.Equal(t, events.TypeError, got[2].Type)
			assert.Contains(t, got[2].Text, "not encodable")
		})
	}
}

func TestExactlyOneTerminalEvent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	properties.Property("every run ends with one terminal event and nothing after it", prop.ForAll(
		func(nSteps, nTokens, ending int) bool {
			o := New(ReasonerFunc(func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
				for i := 0; i < nSteps; i++ {
					sink.Record(steps.Thought(fmt.Sprintf("step %d", i)))
					if i < nTokens {
						sink.Token(fmt.Sprint(i))
					}
				}
				for i := nSteps; i < nTokens; i++ {
					sink.Token(fmt.Sprint(i))
				}
				switch ending {
				case 0:
					return &Outcome{Summary: "ok"}, nil
				case 1:
					return nil, ErrNoAnswer
				default:
					return nil, errors.New("broken")
				}
			}), Config{})

			out := &collector{}
			if _, err := o.Stream(context.Background(), "q", out); err != nil {
				return false
			}
			n := len(out.events)
			if n == 0 || out.terminals() != 1 || !out.events[n-1].IsTerminal() {
				return false
			}
			var s, tk, done int
			for _, ev := range out.events {
				switch ev.Type {
				case events.TypeReasoningStep:
					s++
				case events.TypeAnswerToken:
					tk++
				case events.TypeAnswerComplete:
					done++
				}
			}
			wantDone := 0
			if ending == 0 && nTokens > 0 {
				wantDone = 1
			}
			return s == nSteps && tk == nTokens && done == wantDone
		},
		gen.IntRange(0, 12),
		gen.IntRange(0, 12),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
