package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexschlessinger/pollyquery/messages"
	"github.com/alexschlessinger/pollyquery/policy"
	"github.com/alexschlessinger/pollyquery/tools"
	"github.com/google/jsonschema-go/jsonschema"
)

// scriptedLLM replays one scripted turn per call and records requests
type scriptedLLM struct {
	mu       sync.Mutex
	turns    [][]messages.ChatMessage
	repeat   bool
	requests []CompletionRequest
}

func (s *scriptedLLM) ChatCompletionStream(ctx context.Context, req *CompletionRequest, processor EventStreamProcessor) <-chan *messages.StreamEvent {
	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, *req)
	s.mu.Unlock()

	if s.repeat && len(s.turns) > 0 {
		idx = idx % len(s.turns)
	}

	ch := make(chan messages.ChatMessage, 16)
	if idx < len(s.turns) {
		for _, m := range s.turns[idx] {
			ch <- m
		}
	}
	close(ch)
	return processor.ProcessMessagesToEvents(ch)
}

func textTurn(chunks ...string) []messages.ChatMessage {
	var turn []messages.ChatMessage
	for _, c := range chunks {
		turn = append(turn, messages.ChatMessage{Role: messages.MessageRoleAssistant, Content: c})
	}
	return append(turn, messages.ChatMessage{StopReason: messages.StopReasonEndTurn})
}

func toolTurn(calls ...messages.ChatMessageToolCall) []messages.ChatMessage {
	return []messages.ChatMessage{{ToolCalls: calls, StopReason: messages.StopReasonToolUse}}
}

// queryTool echoes its query argument
type queryTool struct {
	name  string
	delay time.Duration
	err   error
}

func (q *queryTool) GetSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Title:       q.name,
		Description: "Runs a query",
		Type:        "object",
		Properties:  map[string]*jsonschema.Schema{"query": {Type: "string"}},
		Required:    []string{"query"},
	}
}

func (q *queryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if q.delay > 0 {
		select {
		case <-time.After(q.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if q.err != nil {
		return "", q.err
	}
	return "rows for " + args["query"].(string), nil
}

func newRegistry(ts ...tools.Tool) *tools.ToolRegistry {
	if len(ts) == 0 {
		ts = []tools.Tool{&queryTool{name: tools.QueryToolName}}
	}
	return tools.NewToolRegistry(ts)
}

func baseRequest() *CompletionRequest {
	return &CompletionRequest{
		Model:    "test/model",
		Messages: []messages.ChatMessage{messages.System("sys"), messages.User("how many orders?")},
	}
}

func TestAgentAnswersWithoutTools(t *testing.T) {
	client := &scriptedLLM{turns: [][]messages.ChatMessage{textTurn("There are ", "3 orders.")}}
	agent := NewAgent(client, newRegistry(), AgentConfig{})

	var streamed string
	completed := false
	resp, err := agent.Run(context.Background(), baseRequest(), &AgentCallbacks{
		OnContent:  func(s string) { streamed += s },
		OnComplete: func(*messages.ChatMessage) { completed = true },
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Message.Content != "There are 3 orders." || streamed != resp.Message.Content {
		t.Errorf("content %q, streamed %q", resp.Message.Content, streamed)
	}
	if resp.IterationCount != 1 || !completed {
		t.Errorf("Expected one completed iteration, got %d (completed=%v)", resp.IterationCount, completed)
	}
	if len(client.requests[0].Tools) != 1 {
		t.Errorf("Expected registry tools on the request, got %d", len(client.requests[0].Tools))
	}
}

func TestAgentToolRoundTrip(t *testing.T) {
	client := &scriptedLLM{turns: [][]messages.ChatMessage{
		toolTurn(messages.ChatMessageToolCall{ID: "c1", Name: tools.QueryToolName, Arguments: `{"query":"SELECT 1"}`}),
		textTurn("done"),
	}}
	agent := NewAgent(client, newRegistry(), AgentConfig{})

	var started, ended []string
	var results []string
	resp, err := agent.Run(context.Background(), baseRequest(), &AgentCallbacks{
		OnToolStart: func(call messages.ChatMessageToolCall) { started = append(started, call.Name) },
		OnToolEnd: func(call messages.ChatMessageToolCall, result string, _ time.Duration, err error) {
			ended = append(ended, call.Name)
			results = append(results, result)
			if err != nil {
				t.Errorf("Unexpected tool error: %v", err)
			}
		},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(started) != 1 || len(ended) != 1 || results[0] != "rows for SELECT 1" {
		t.Errorf("started=%v ended=%v results=%v", started, ended, results)
	}
	if len(resp.AllMessages) != 3 || resp.IterationCount != 2 {
		t.Fatalf("Expected assistant, tool, assistant; got %d messages over %d iterations", len(resp.AllMessages), resp.IterationCount)
	}

	// the second call sees the tool result
	second := client.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != messages.MessageRoleTool || last.ToolCallID != "c1" || last.ToolName != tools.QueryToolName {
		t.Errorf("Unexpected tool message: %+v", last)
	}
	if len(baseRequest().Messages) != 2 {
		t.Error("request messages must not be mutated")
	}
}

func TestAgentFailures(t *testing.T) {
	boom := errors.New("overloaded")
	loop := toolTurn(messages.ChatMessageToolCall{ID: "c", Name: tools.QueryToolName, Arguments: `{"query":"SELECT 1"}`})

	tests := []struct {
		name   string
		client *scriptedLLM
		want   error
	}{
		{"max iterations", &scriptedLLM{turns: [][]messages.ChatMessage{loop}, repeat: true}, ErrMaxIterations},
		{"provider error", &scriptedLLM{turns: [][]messages.ChatMessage{{
			{StopReason: messages.StopReasonError, Metadata: map[string]any{messages.MetadataKeyError: boom}},
		}}}, boom},
		{"content filter", &scriptedLLM{turns: [][]messages.ChatMessage{{
			{StopReason: messages.StopReasonContentFilter},
		}}}, ErrContentFiltered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reported error
			agent := NewAgent(tt.client, newRegistry(), AgentConfig{MaxIterations: 2})
			_, err := agent.Run(context.Background(), baseRequest(), &AgentCallbacks{
				OnError: func(err error) { reported = err },
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if reported != err {
				t.Errorf("OnError got %v, want %v", reported, err)
			}
		})
	}
}

func TestAgentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agent := NewAgent(&scriptedLLM{}, newRegistry(), AgentConfig{})
	if _, err := agent.Run(ctx, baseRequest(), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestAgentToolsKeepCallOrder(t *testing.T) {
	calls := []messages.ChatMessageToolCall{
		{ID: "a", Name: "slow", Arguments: `{"query":"a"}`},
		{ID: "b", Name: "fast", Arguments: `{"query":"b"}`},
	}
	registry := newRegistry(
		&queryTool{name: "slow", delay: 20 * time.Millisecond},
		&queryTool{name: "fast"},
	)

	for _, parallel := range []int{0, 1} {
		client := &scriptedLLM{turns: [][]messages.ChatMessage{toolTurn(calls...), textTurn("ok")}}
		agent := NewAgent(client, registry, AgentConfig{MaxParallelTools: parallel})
		resp, err := agent.Run(context.Background(), baseRequest(), nil)
		if err != nil {
			t.Fatalf("parallel=%d: %v", parallel, err)
		}
		if resp.AllMessages[1].ToolCallID != "a" || resp.AllMessages[2].ToolCallID != "b" {
			t.Errorf("parallel=%d: results out of order: %+v", parallel, resp.AllMessages[1:3])
		}
	}
}

func TestToolExecutor(t *testing.T) {
	ctx := context.Background()
	guard, err := policy.LoadFile(ctx, "")
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	registry := newRegistry(
		&queryTool{name: tools.QueryToolName},
		&queryTool{name: "broken", err: errors.New("disk on fire")},
		&queryTool{name: "sleepy", delay: time.Second},
	)
	executor := NewToolExecutor(registry).WithGuard(guard).WithTimeout(20 * time.Millisecond)

	tests := []struct {
		name    string
		call    messages.ChatMessageToolCall
		want    string
		wantErr error
	}{
		{"ok", messages.ChatMessageToolCall{Name: tools.QueryToolName, Arguments: `{"query":"SELECT 1"}`}, "rows for SELECT 1", nil},
		{"unknown tool", messages.ChatMessageToolCall{Name: "nope", Arguments: `{}`}, "Error: tool not found", ErrToolNotFound},
		{"bad json", messages.ChatMessageToolCall{Name: tools.QueryToolName, Arguments: `{"query":`}, "Error: invalid arguments", nil},
		{"schema violation", messages.ChatMessageToolCall{Name: tools.QueryToolName, Arguments: `{}`}, "Error:", tools.ErrInvalidArgs},
		{"blocked write", messages.ChatMessageToolCall{Name: tools.QueryToolName, Arguments: `{"query":"DROP TABLE orders"}`}, "Error: tool call blocked by policy: only read-only", ErrToolBlocked},
		{"tool error", messages.ChatMessageToolCall{Name: "broken", Arguments: `{"query":"x"}`}, "Error: disk on fire", nil},
		{"timeout", messages.ChatMessageToolCall{Name: "sleepy", Arguments: `{"query":"x"}`}, "Error: tool execution timed out", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := executor.Execute(ctx, tt.call)
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("Expected result starting with %q, got %q", tt.want, got)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if strings.HasPrefix(tt.want, "Error") && err == nil {
				t.Error("Expected an error alongside the error result")
			}
		})
	}
}

func TestParseToolArgs(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"null", 0},
		{`{"__noargs":"x"}`, 0},
		{`{"query":"SELECT 1","__noargs":""}`, 1},
	}
	for _, tt := range tests {
		args, err := ParseToolArgs(tt.raw)
		if err != nil {
			t.Errorf("ParseToolArgs(%q): %v", tt.raw, err)
			continue
		}
		if args == nil || len(args) != tt.want {
			t.Errorf("ParseToolArgs(%q) = %v, want %d keys", tt.raw, args, tt.want)
		}
	}
	if _, err := ParseToolArgs("[1]"); err == nil {
		t.Error("Expected error for non-object arguments")
	}
}
