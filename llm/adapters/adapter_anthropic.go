package adapters

import (
	"encoding/json"

	"github.com/alexschlessinger/pollyquery/llm/streaming"
	"github.com/alexschlessinger/pollyquery/messages"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// MetadataKeyThinkingBlocks holds signed Anthropic thinking blocks. They must
// be sent back verbatim on the next turn of a tool loop.
const MetadataKeyThinkingBlocks = "anthropic_thinking_blocks"

var (
	blockThinking = string(constant.ValueOf[constant.Thinking]())
	blockToolUse  = string(constant.ValueOf[constant.ToolUse]())
)

// AnthropicAdapter folds Anthropic stream events into the stream state.
// Text and thinking deltas are emitted by the client loop; the adapter
// tracks tool_use blocks, usage and signed thinking blocks.
type AnthropicAdapter struct {
	blockType      string
	toolIndex      int
	thinking       map[string]any
	thinkingBlocks []map[string]any
}

// NewAnthropicAdapter creates a new Anthropic streaming adapter
func NewAnthropicAdapter() *AnthropicAdapter {
	return &AnthropicAdapter{toolIndex: -1}
}

// ProcessChunk handles one anthropic.MessageStreamEventUnion
func (a *AnthropicAdapter) ProcessChunk(chunk any, state streaming.StreamStateInterface) error {
	event, ok := chunk.(anthropic.MessageStreamEventUnion)
	if !ok {
		return nil
	}

	switch event.Type {
	case string(constant.ValueOf[constant.MessageStart]()):
		start := event.AsMessageStart()
		state.SetTokenUsage(int(start.Message.Usage.InputTokens), state.GetOutputTokens())

	case string(constant.ValueOf[constant.ContentBlockStart]()):
		a.blockStart(event, state)

	case string(constant.ValueOf[constant.ContentBlockDelta]()):
		a.blockDelta(event, state)

	case string(constant.ValueOf[constant.ContentBlockStop]()):
		if a.blockType == blockThinking && a.thinking != nil {
			a.thinkingBlocks = append(a.thinkingBlocks, a.thinking)
			a.thinking = nil
		}
		a.blockType = ""
		a.toolIndex = -1

	case string(constant.ValueOf[constant.MessageDelta]()):
		delta := event.AsMessageDelta()
		state.SetStopReason(mapAnthropicStopReason(delta.Delta.StopReason))
		state.SetTokenUsage(state.GetInputTokens(), int(delta.Usage.OutputTokens))
	}

	return nil
}

func (a *AnthropicAdapter) blockStart(event anthropic.MessageStreamEventUnion, state streaming.StreamStateInterface) {
	start := event.AsContentBlockStart()

	// the union is easiest to inspect through its JSON form
	raw, _ := json.Marshal(start.ContentBlock)
	var block map[string]any
	if json.Unmarshal(raw, &block) != nil {
		return
	}
	a.blockType, _ = block["type"].(string)

	switch a.blockType {
	case blockThinking:
		a.thinking = map[string]any{"type": blockThinking, "thinking": ""}
	case blockToolUse:
		id, _ := block["id"].(string)
		name, _ := block["name"].(string)
		state.AddToolCall(messages.ChatMessageToolCall{ID: id, Name: name, Arguments: "{}"})
		a.toolIndex = len(state.GetToolCalls()) - 1
	}
}

func (a *AnthropicAdapter) blockDelta(event anthropic.MessageStreamEventUnion, state streaming.StreamStateInterface) {
	delta := event.AsContentBlockDelta().Delta

	if a.thinking != nil {
		if delta.Thinking != "" {
			text, _ := a.thinking["thinking"].(string)
			a.thinking["thinking"] = text + delta.Thinking
		}
		if delta.Signature != "" {
			a.thinking["signature"] = delta.Signature
		}
	}

	if delta.PartialJSON != "" && a.blockType == blockToolUse && a.toolIndex >= 0 {
		state.UpdateToolCallAtIndex(a.toolIndex, func(tc *messages.ChatMessageToolCall) {
			if tc.Arguments == "{}" {
				tc.Arguments = delta.PartialJSON
			} else {
				tc.Arguments += delta.PartialJSON
			}
		})
	}
}

// EnrichFinalMessage attaches completed thinking blocks
func (a *AnthropicAdapter) EnrichFinalMessage(msg *messages.ChatMessage, state streaming.StreamStateInterface) {
	if len(a.thinkingBlocks) == 0 {
		return
	}
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]any)
	}
	msg.Metadata[MetadataKeyThinkingBlocks] = a.thinkingBlocks
}

func mapAnthropicStopReason(sr anthropic.StopReason) messages.StopReason {
	switch sr {
	case "tool_use":
		return messages.StopReasonToolUse
	case "max_tokens":
		return messages.StopReasonMaxTokens
	case "refusal":
		return messages.StopReasonContentFilter
	default:
		return messages.StopReasonEndTurn
	}
}
