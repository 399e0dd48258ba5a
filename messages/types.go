package messages

// StopReason indicates why the model stopped generating
type StopReason string

const (
	// StopReasonEndTurn indicates normal completion
	StopReasonEndTurn StopReason = "end_turn"
	// StopReasonToolUse indicates the model wants to use tools
	StopReasonToolUse StopReason = "tool_use"
	// StopReasonMaxTokens indicates the response was truncated due to token limit
	StopReasonMaxTokens StopReason = "max_tokens"
	// StopReasonContentFilter indicates the response was blocked by safety/policy
	StopReasonContentFilter StopReason = "content_filter"
	// StopReasonError indicates malformed output or other error
	StopReasonError StopReason = "error"
)

// ChatMessage represents a provider-agnostic chat message
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ChatMessageToolCall
	ToolCallID string         // For tool response messages
	ToolName   string         // Name of the tool that produced a tool response
	Reasoning  string         // Provider thinking or <think> block content
	Metadata   map[string]any // Additional metadata for the message
	StopReason StopReason     // Why the model stopped generating (only set on final message)
}

// ChatMessageToolCall represents a tool call within a message
type ChatMessageToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON string of arguments
}

// Standard role constants
const (
	MessageRoleSystem    = "system"
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleTool      = "tool"
)

// Metadata keys
const (
	MetadataKeyInputTokens  = "input_tokens"
	MetadataKeyOutputTokens = "output_tokens"
	MetadataKeyError        = "error" // error value of a failed completion
)

// System returns a system message
func System(content string) ChatMessage {
	return ChatMessage{Role: MessageRoleSystem, Content: content}
}

// User returns a user message
func User(content string) ChatMessage {
	return ChatMessage{Role: MessageRoleUser, Content: content}
}

// HasToolCalls reports whether the model asked for tools
func (m *ChatMessage) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// GetInputTokens returns the input token count from metadata, or 0 if not set
func (m *ChatMessage) GetInputTokens() int {
	return metadataInt(m.Metadata, MetadataKeyInputTokens)
}

// GetOutputTokens returns the output token count from metadata, or 0 if not set
func (m *ChatMessage) GetOutputTokens() int {
	return metadataInt(m.Metadata, MetadataKeyOutputTokens)
}

func metadataInt(md map[string]any, key string) int {
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// SetTokenUsage sets the input and output token counts in metadata
func (m *ChatMessage) SetTokenUsage(input, output int) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[MetadataKeyInputTokens] = input
	m.Metadata[MetadataKeyOutputTokens] = output
}
