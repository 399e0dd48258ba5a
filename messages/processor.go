package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alexschlessinger/pollyquery/tools"
	"go.uber.org/zap"
)

// ErrProvider wraps errors reported by an LLM provider mid-stream
var ErrProvider = errors.New("provider error")

// StreamProcessor converts a provider's ChatMessage stream into StreamEvents
type StreamProcessor struct{}

// NewStreamProcessor creates a new stream processor
func NewStreamProcessor() *StreamProcessor {
	return &StreamProcessor{}
}

// ProcessMessagesToEvents emits reasoning, content and tool call events as
// chunks arrive, then one complete event carrying the accumulated message.
// A provider error ends the stream with a single error event instead.
func (p *StreamProcessor) ProcessMessagesToEvents(msgChan <-chan ChatMessage) <-chan *StreamEvent {
	eventChan := make(chan *StreamEvent, 10)

	go func() {
		defer close(eventChan)

		var content, reasoning strings.Builder
		var toolCalls []ChatMessageToolCall
		var metadata map[string]any
		var stopReason StopReason

		for msg := range msgChan {
			if err, ok := msg.Metadata[MetadataKeyError].(error); ok {
				eventChan <- ErrorEvent(fmt.Errorf("%w: %w", ErrProvider, err))
				for range msgChan {
				}
				return
			}

			if msg.StopReason != "" {
				stopReason = msg.StopReason
			}

			if msg.Reasoning != "" {
				reasoning.WriteString(msg.Reasoning)
				eventChan <- &StreamEvent{Type: EventTypeReasoning, Content: msg.Reasoning}
			}

			if msg.Content != "" {
				content.WriteString(msg.Content)
				eventChan <- &StreamEvent{Type: EventTypeContent, Content: msg.Content}
			}

			if len(msg.Metadata) > 0 {
				metadata = msg.Metadata
			}

			if len(msg.ToolCalls) > 0 {
				toolCalls = msg.ToolCalls
				for _, call := range msg.ToolCalls {
					var args map[string]any
					if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
						zap.S().Debugw("processor_tool_call_parse_failed", "tool", call.Name, "error", err)
						continue
					}
					eventChan <- &StreamEvent{
						Type:     EventTypeToolCall,
						ToolCall: &tools.ToolCall{ID: call.ID, Name: call.Name, Args: args},
					}
				}
			}
		}

		complete := ChatMessage{
			Role:       MessageRoleAssistant,
			Content:    content.String(),
			Reasoning:  reasoning.String(),
			ToolCalls:  toolCalls,
			Metadata:   metadata,
			StopReason: stopReason,
		}
		zap.S().Debugw("processor_complete",
			"content_len", len(complete.Content),
			"reasoning_len", len(complete.Reasoning),
			"tool_calls", len(complete.ToolCalls),
			"stop_reason", stopReason,
		)
		eventChan <- &StreamEvent{Type: EventTypeComplete, Message: &complete}
	}()

	return eventChan
}
