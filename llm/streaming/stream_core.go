package streaming

import (
	"context"
	"fmt"

	"github.com/alexschlessinger/pollyquery/messages"
	"go.uber.org/zap"
)

// StreamingCore turns provider chunks into ChatMessages on a channel.
// Provider quirks live in a ProviderAdapter; accumulation lives in StreamState.
type StreamingCore struct {
	state          *StreamState
	adapter        ProviderAdapter
	messageChannel chan messages.ChatMessage
	filter         *ThinkFilter
	ctx            context.Context
}

// ProviderAdapter handles one provider's chunk format
type ProviderAdapter interface {
	// ProcessChunk folds a provider chunk (OpenAI delta, Anthropic event, ...) into state
	ProcessChunk(chunk any, state StreamStateInterface) error

	// EnrichFinalMessage adds provider metadata to the final message
	EnrichFinalMessage(msg *messages.ChatMessage, state StreamStateInterface)
}

// NewStreamingCore creates a streaming coordinator writing to messageChannel
func NewStreamingCore(
	ctx context.Context,
	messageChannel chan messages.ChatMessage,
	adapter ProviderAdapter,
) *StreamingCore {
	return &StreamingCore{
		state:          NewStreamState(),
		adapter:        adapter,
		messageChannel: messageChannel,
		ctx:            ctx,
	}
}

// FilterThinkBlocks routes inline <think> blocks to reasoning instead of content.
// Used for OpenAI-compatible and Ollama models that reason in-band.
func (sc *StreamingCore) FilterThinkBlocks() *StreamingCore {
	sc.filter = &ThinkFilter{}
	return sc
}

// GetState returns the accumulated state
func (sc *StreamingCore) GetState() *StreamState {
	return sc.state
}

// EmitContent sends a content chunk
func (sc *StreamingCore) EmitContent(content string) {
	if sc.filter != nil {
		var reasoning string
		content, reasoning = sc.filter.Split(content)
		sc.EmitReasoning(reasoning)
	}
	sc.emitContent(content)
}

func (sc *StreamingCore) emitContent(content string) {
	if content == "" {
		return
	}
	if sc.send(messages.ChatMessage{Role: messages.MessageRoleAssistant, Content: content}) {
		sc.state.AppendContent(content)
	}
}

// EmitReasoning sends a thinking chunk
func (sc *StreamingCore) EmitReasoning(reasoning string) {
	if reasoning == "" {
		return
	}
	if sc.send(messages.ChatMessage{Role: messages.MessageRoleAssistant, Reasoning: reasoning}) {
		sc.state.AppendReasoning(reasoning)
	}
}

// EmitError ends the stream with a provider error. The processor turns it
// into an error event, so it never reaches the answer text.
func (sc *StreamingCore) EmitError(err error) {
	zap.S().Debugw("streaming_error", "error", err)
	sc.send(messages.ChatMessage{
		Role:       messages.MessageRoleAssistant,
		StopReason: messages.StopReasonError,
		Metadata:   map[string]any{messages.MetadataKeyError: err},
	})
}

// ProcessChunk delegates chunk processing to the adapter
func (sc *StreamingCore) ProcessChunk(chunk any) error {
	if sc.adapter == nil {
		return fmt.Errorf("no adapter configured")
	}
	return sc.adapter.ProcessChunk(chunk, sc.state)
}

// Complete sends the final message carrying tool calls, stop reason and usage.
// Content and reasoning were already streamed and are left empty.
func (sc *StreamingCore) Complete() {
	if sc.filter != nil {
		content, reasoning := sc.filter.Flush()
		sc.EmitReasoning(reasoning)
		sc.emitContent(content)
	}

	msg := messages.ChatMessage{
		Role:       messages.MessageRoleAssistant,
		ToolCalls:  sc.state.GetToolCalls(),
		StopReason: sc.state.StopReason(),
	}
	msg.SetTokenUsage(sc.state.GetInputTokens(), sc.state.GetOutputTokens())

	if sc.adapter != nil {
		sc.adapter.EnrichFinalMessage(&msg, sc.state)
	}

	if sc.send(msg) {
		sc.logCompletion()
	}
}

// SetTokenUsage updates token counts in the state
func (sc *StreamingCore) SetTokenUsage(input, output int) {
	sc.state.SetTokenUsage(input, output)
}

// SetStopReason updates the stop reason in the state
func (sc *StreamingCore) SetStopReason(reason messages.StopReason) {
	sc.state.SetStopReason(reason)
}

func (sc *StreamingCore) send(msg messages.ChatMessage) bool {
	select {
	case <-sc.ctx.Done():
		return false
	case sc.messageChannel <- msg:
		return true
	}
}

func (sc *StreamingCore) logCompletion() {
	zap.S().Debugw("streaming_completed", sc.state.LogFields()...)
}
