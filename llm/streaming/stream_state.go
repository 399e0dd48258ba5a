package streaming

import (
	"strings"
	"sync"

	"github.com/alexschlessinger/pollyquery/messages"
)

// previewLen bounds the answer excerpt attached to completion logs
const previewLen = 200

// StreamStateInterface is what provider adapters may touch while a
// completion streams. It keeps the adapters package free of a dependency
// on StreamingCore.
type StreamStateInterface interface {
	// Setters
	AppendContent(content string)
	AppendReasoning(reasoning string)
	AddToolCall(toolCall messages.ChatMessageToolCall)
	SetTokenUsage(input, output int)
	SetStopReason(reason messages.StopReason)
	SetMetadata(key string, value any)
	UpdateToolCallAtIndex(index int, updater func(*messages.ChatMessageToolCall))
	ResetToolCalls()

	// Getters
	GetMetadata(key string) (any, bool)
	GetToolCalls() []messages.ChatMessageToolCall
	GetInputTokens() int
	GetOutputTokens() int
}

// StreamState accumulates one model turn of the query agent across chunks:
// the visible answer text, the model's private reasoning, the SQL tool calls
// it asked for, and usage. All methods are safe for concurrent use.
type StreamState struct {
	mu sync.Mutex

	content   strings.Builder
	reasoning strings.Builder
	toolCalls []messages.ChatMessageToolCall
	stop      messages.StopReason
	inTokens  int
	outTokens int

	// provider-specific values such as Anthropic thinking blocks or Gemini signatures
	metadata map[string]any
}

// NewStreamState creates an empty state
func NewStreamState() *StreamState {
	return &StreamState{metadata: make(map[string]any)}
}

// AppendContent adds visible answer text
func (s *StreamState) AppendContent(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content.WriteString(content)
}

// AppendReasoning adds thinking text that never reaches the answer
func (s *StreamState) AppendReasoning(reasoning string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasoning.WriteString(reasoning)
}

// AddToolCall records a complete tool call (Anthropic and Gemini deliver them whole)
func (s *StreamState) AddToolCall(toolCall messages.ChatMessageToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls = append(s.toolCalls, toolCall)
}

// SetTokenUsage replaces both token counts
func (s *StreamState) SetTokenUsage(input, output int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTokens = input
	s.outTokens = output
}

// SetStopReason records why the provider ended the turn
func (s *StreamState) SetStopReason(reason messages.StopReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = reason
}

// SetMetadata stores a provider-specific value
func (s *StreamState) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata[key] = value
}

// GetMetadata returns a provider-specific value
func (s *StreamState) GetMetadata(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.metadata[key]
	return val, ok
}

// UpdateToolCallAtIndex grows the call list as needed and applies updater
// to the call at index. OpenAI streams tool calls as indexed fragments; a
// slot not yet seen starts with "{}" arguments so a call to a no-argument
// tool such as sql_db_list_tables still decodes.
func (s *StreamState) UpdateToolCallAtIndex(index int, updater func(*messages.ChatMessageToolCall)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.toolCalls) <= index {
		s.toolCalls = append(s.toolCalls, messages.ChatMessageToolCall{Arguments: "{}"})
	}
	updater(&s.toolCalls[index])
}

// ResetToolCalls clears accumulated calls. Ollama resends the full list on each update.
func (s *StreamState) ResetToolCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls = s.toolCalls[:0]
}

// GetToolCalls returns a copy of the accumulated calls
func (s *StreamState) GetToolCalls() []messages.ChatMessageToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]messages.ChatMessageToolCall, len(s.toolCalls))
	copy(result, s.toolCalls)
	return result
}

// GetInputTokens returns the prompt token count
func (s *StreamState) GetInputTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTokens
}

// GetOutputTokens returns the completion token count
func (s *StreamState) GetOutputTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outTokens
}

// StopReason returns why the provider ended the turn
func (s *StreamState) StopReason() messages.StopReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop
}

// Content returns the visible answer text streamed so far
func (s *StreamState) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content.String()
}

// Reasoning returns the thinking text streamed so far
func (s *StreamState) Reasoning() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reasoning.String()
}

// LogFields snapshots the turn as zap key/value pairs: an answer preview,
// the requested tools and usage. Empty parts are left out.
func (s *StreamState) LogFields() []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	content := s.content.String()
	preview := []rune(content)
	if len(preview) > previewLen {
		preview = append(preview[:previewLen], []rune("...")...)
	}

	fields := []any{
		"content_preview", string(preview),
		"content_length", len(content),
		"stop_reason", s.stop,
	}
	if len(s.toolCalls) > 0 {
		names := make([]string, len(s.toolCalls))
		for i, tc := range s.toolCalls {
			names[i] = tc.Name
		}
		fields = append(fields, "tool_names", names)
	}
	if s.reasoning.Len() > 0 {
		fields = append(fields, "reasoning_length", s.reasoning.Len())
	}
	if s.inTokens > 0 || s.outTokens > 0 {
		fields = append(fields, "input_tokens", s.inTokens, "output_tokens", s.outTokens)
	}
	return fields
}
