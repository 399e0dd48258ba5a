package llm

import (
	"context"
	"time"

	"github.com/alexschlessinger/pollyquery/messages"
	"github.com/alexschlessinger/pollyquery/tools"
)

// LLM is a streaming chat completion provider
type LLM interface {
	ChatCompletionStream(context.Context, *CompletionRequest, EventStreamProcessor) <-chan *messages.StreamEvent
}

// EventStreamProcessor processes message streams into events
type EventStreamProcessor interface {
	ProcessMessagesToEvents(<-chan messages.ChatMessage) <-chan *messages.StreamEvent
}

// CompletionRequest contains all parameters for a completion request
type CompletionRequest struct {
	APIKey         string
	BaseURL        string
	Timeout        time.Duration
	Temperature    float32
	Model          string
	MaxTokens      int
	Messages       []messages.ChatMessage
	Tools          []tools.Tool
	ThinkingEffort ThinkingEffort
}

// withRequestTimeout bounds a single provider call; zero means no bound
func withRequestTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
