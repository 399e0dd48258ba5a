package messages

import (
	"context"
	"errors"

	"github.com/alexschlessinger/pollyquery/tools"
)

// ErrNoResponse is returned when a stream closes without a complete event
var ErrNoResponse = errors.New("no response received from LLM")

// EventHandler observes a completion stream as it arrives. Nil fields are skipped.
type EventHandler struct {
	OnReasoning func(content string)
	OnContent   func(content string)
	OnToolCall  func(call *tools.ToolCall)
}

// ProcessEventStream consumes events until the complete event and returns
// the full message. An error event or context cancellation ends it early.
func ProcessEventStream(ctx context.Context, eventChan <-chan *StreamEvent, h *EventHandler) (*ChatMessage, error) {
	if h == nil {
		h = &EventHandler{}
	}
	// the producer must never block on an abandoned channel
	defer func() {
		go func() {
			for range eventChan {
			}
		}()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-eventChan:
			if !ok {
				return nil, ErrNoResponse
			}
			switch event.Type {
			case EventTypeReasoning:
				if h.OnReasoning != nil {
					h.OnReasoning(event.Content)
				}
			case EventTypeContent:
				if h.OnContent != nil {
					h.OnContent(event.Content)
				}
			case EventTypeToolCall:
				if h.OnToolCall != nil {
					h.OnToolCall(event.ToolCall)
				}
			case EventTypeComplete:
				return event.Message, nil
			case EventTypeError:
				return nil, event.Error
			}
		}
	}
}
