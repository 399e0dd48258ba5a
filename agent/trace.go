package agent

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/alexschlessinger/pollyquery/llm"
	"github.com/alexschlessinger/pollyquery/messages"
	"github.com/alexschlessinger/pollyquery/steps"
	"go.uber.org/zap"
)

var ansiEscape = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// CleanThought strips ANSI escapes, blank lines and executor chatter
// (lines starting with ">" or "Entering") from model text
func CleanThought(text string) string {
	text = ansiEscape.ReplaceAllString(text, "")

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ">") || strings.HasPrefix(line, "Entering") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// ActionInput is the text shown for a tool call: the sole string argument
// when there is one, "" when there are none, the raw JSON otherwise
func ActionInput(call messages.ChatMessageToolCall) string {
	args, err := llm.ParseToolArgs(call.Arguments)
	if err != nil {
		return strings.TrimSpace(call.Arguments)
	}
	if len(args) == 0 {
		return ""
	}
	if len(args) == 1 {
		for _, v := range args {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return strings.TrimSpace(call.Arguments)
}

// tracer turns agent callbacks into reasoning steps and captures the last
// SELECT the model ran
type tracer struct {
	sink steps.Sink

	mu        sync.Mutex
	text      strings.Builder
	reasoning strings.Builder
	sql       *string
}

func newTracer(sink steps.Sink) *tracer {
	return &tracer{sink: sink}
}

func (t *tracer) callbacks() *llm.AgentCallbacks {
	return &llm.AgentCallbacks{
		OnReasoning: t.onReasoning,
		OnContent:   t.onContent,
		OnToolStart: t.onToolStart,
		OnToolEnd:   t.onToolEnd,
		OnComplete:  t.onComplete,
	}
}

func (t *tracer) onReasoning(chunk string) {
	t.mu.Lock()
	t.reasoning.WriteString(chunk)
	t.mu.Unlock()
}

func (t *tracer) onContent(chunk string) {
	t.mu.Lock()
	t.text.WriteString(chunk)
	t.mu.Unlock()
}

// flushThoughts records buffered thinking and, when the turn continues
// with tool calls, the buffered text. Callers hold mu.
func (t *tracer) flushThoughts(includeText bool) {
	if thought := CleanThought(t.reasoning.String()); thought != "" {
		t.sink.Record(steps.Thought(thought))
	}
	t.reasoning.Reset()

	if includeText {
		if thought := CleanThought(t.text.String()); thought != "" {
			t.sink.Record(steps.Thought(thought))
		}
	}
	t.text.Reset()
}

func (t *tracer) onToolStart(call messages.ChatMessageToolCall) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flushThoughts(true)

	input := ActionInput(call)
	t.sink.Record(steps.Action(call.Name, input))

	if strings.Contains(strings.ToLower(input), "select") {
		q := input
		t.sql = &q
		zap.S().Debugw("sql_captured", "query", input)
	}
}

func (t *tracer) onToolEnd(call messages.ChatMessageToolCall, result string, duration time.Duration, err error) {
	zap.S().Debugw("tool_finished", "tool", call.Name, "duration", duration, "error", err)

	if strings.TrimSpace(result) == "" {
		result = "(no output)"
	}
	t.mu.Lock()
	t.sink.Record(steps.Observation(result))
	t.mu.Unlock()
}

// onComplete keeps final-turn thinking; the final text is the answer, not a thought
func (t *tracer) onComplete(*messages.ChatMessage) {
	t.mu.Lock()
	t.flushThoughts(false)
	t.mu.Unlock()
}

// query returns the captured SQL, nil when none ran
func (t *tracer) query() *string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sql == nil {
		return nil
	}
	q := *t.sql
	return &q
}

// withTimeout bounds ctx when d is positive
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
