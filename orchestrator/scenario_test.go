package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/alexschlessinger/pollyquery/events"
	"github.com/alexschlessinger/pollyquery/reconciler"
	"github.com/alexschlessinger/pollyquery/steps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// corrupting writes a garbage frame right after the n-th event
type corrupting struct {
	w     *events.Writer
	raw   io.Writer
	after int
	seen  int
}

func (c *corrupting) Emit(ev events.Event) error {
	if err := c.w.Emit(ev); err != nil {
		return err
	}
	c.seen++
	if c.seen == c.after {
		_, err := io.WriteString(c.raw, "data: {not valid json}\n\n")
		return err
	}
	return nil
}

// streamThrough runs the orchestrator into a pipe consumed by a reconciler,
// the same path a real client takes.
func streamThrough(t *testing.T, reasoner ReasonerFunc, corruptAfter int) (reconciler.Message, *reconciler.Reconciler) {
	t.Helper()

	pr, pw := io.Pipe()
	rec := reconciler.New("assistant-1")

	consumed := make(chan error, 1)
	go func() {
		consumed <- rec.Consume(context.Background(), pr)
	}()

	var emitter Emitter = events.NewWriter(pw)
	if corruptAfter > 0 {
		emitter = &corrupting{w: events.NewWriter(pw), raw: pw, after: corruptAfter}
	}

	_, err := New(reasoner, Config{}).Stream(context.Background(), "question", emitter)
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, <-consumed)

	return rec.Message(), rec
}

func TestScenarioStepsThenAnswer(t *testing.T) {
	msg, _ := streamThrough(t, func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		sink.Record(steps.Thought("checking schema"))
		sink.Record(steps.Action("sql", "SELECT 1"))
		return &Outcome{Answer: "Result is 1"}, nil
	}, 0)

	assert.False(t, msg.IsStreaming)
	assert.Len(t, msg.ReasoningSteps, 2)
	assert.Equal(t, "Result is 1", msg.Content)
	assert.Nil(t, msg.GeneratedQuery)
	assert.False(t, msg.Failed)
}

func TestScenarioMidStreamFailure(t *testing.T) {
	msg, _ := streamThrough(t, func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		sink.Record(steps.Thought("running query"))
		sink.Record(steps.Action("sql_db_query", "SELECT * FROM big"))
		return nil, errors.New("tool timeout")
	}, 0)

	assert.False(t, msg.IsStreaming)
	assert.True(t, msg.Failed)
	assert.Contains(t, msg.Content, "tool timeout")
	assert.Len(t, msg.ReasoningSteps, 2)
}

func TestScenarioNoAnswer(t *testing.T) {
	msg, _ := streamThrough(t, func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		for i := 0; i < 3; i++ {
			sink.Record(steps.Action("sql_db_list_tables", ""))
			sink.Record(steps.Observation("orders"))
		}
		return nil, ErrNoAnswer
	}, 0)

	assert.False(t, msg.IsStreaming)
	assert.Contains(t, strings.ToLower(msg.Content), "cannot answer")
	assert.Len(t, msg.ReasoningSteps, 6)
}

func TestScenarioCorruptFrameSkipped(t *testing.T) {
	query := "SELECT 1"
	reason := func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		sink.Record(steps.Thought("a"))
		sink.Record(steps.Thought("b"))
		sink.Record(steps.Thought("c"))
		return &Outcome{Summary: "one", GeneratedQuery: &query}, nil
	}

	clean, _ := streamThrough(t, reason, 0)
	dirty, rec := streamThrough(t, reason, 1)

	assert.Equal(t, 1, rec.Skipped())
	assert.Len(t, dirty.ReasoningSteps, 3)
	assert.Equal(t, clean.Content, dirty.Content)
	assert.Equal(t, clean.ReasoningSteps, dirty.ReasoningSteps)
	assert.Equal(t, clean.GeneratedQuery, dirty.GeneratedQuery)
	assert.False(t, dirty.IsStreaming)
}

func TestScenarioTokensThenSummary(t *testing.T) {
	query := "SELECT region, SUM(amount) FROM orders GROUP BY region"
	msg, rec := streamThrough(t, func(ctx context.Context, q string, sink steps.Sink) (*Outcome, error) {
		sink.Record(steps.Action("sql_db_query", query))
		sink.Record(steps.Observation("[('east', 10), ('west', 20)]"))
		for _, tok := range []string{"East ", "sold ", "10."} {
			sink.Token(tok)
		}
		return &Outcome{
			Summary:        "East sold 10.",
			GeneratedQuery: strPtr(query),
			Rows:           [][]any{{"east", "10"}, {"west", "20"}},
			Columns:        []string{"region", "total"},
		}, nil
	}, 0)

	assert.True(t, rec.Answered())
	assert.Equal(t, "East sold 10.", msg.Content)
	assert.Len(t, msg.ResultRows, 2)
	assert.Equal(t, []string{"region", "total"}, msg.Columns)
}
