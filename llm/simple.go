package llm

import (
	"context"
	"strings"
	"time"

	"github.com/alexschlessinger/pollyquery/messages"
)

// Complete runs a single tool-free completion and returns its text.
// onChunk, when set, receives each content chunk as it streams.
func Complete(ctx context.Context, client LLM, req *CompletionRequest, onChunk func(string)) (string, error) {
	var text strings.Builder
	events := client.ChatCompletionStream(ctx, req, messages.NewStreamProcessor())
	_, err := messages.ProcessEventStream(ctx, events, &messages.EventHandler{
		OnContent: func(chunk string) {
			text.WriteString(chunk)
			if onChunk != nil {
				onChunk(chunk)
			}
		},
	})
	if err != nil {
		return "", err
	}
	return text.String(), nil
}

// CompletionBuilder provides a fluent interface for building completion requests
type CompletionBuilder struct {
	req *CompletionRequest
}

// NewCompletionBuilder creates a new builder with defaults
func NewCompletionBuilder(model string) *CompletionBuilder {
	return &CompletionBuilder{
		req: &CompletionRequest{
			Model:       model,
			Temperature: 1,
			MaxTokens:   2000,
			Timeout:     120 * time.Second,
		},
	}
}

// From copies connection and sampling settings from base. Messages already
// added are kept, as is the builder's model unless it is empty.
func (b *CompletionBuilder) From(base CompletionRequest) *CompletionBuilder {
	model, msgs := b.req.Model, b.req.Messages
	*b.req = base
	b.req.Messages = msgs
	b.req.Tools = nil
	if model != "" {
		b.req.Model = model
	}
	return b
}

// WithSystemPrompt prepends a system message
func (b *CompletionBuilder) WithSystemPrompt(prompt string) *CompletionBuilder {
	b.req.Messages = append([]messages.ChatMessage{messages.System(prompt)}, b.req.Messages...)
	return b
}

// WithUserMessage adds a user message
func (b *CompletionBuilder) WithUserMessage(content string) *CompletionBuilder {
	b.req.Messages = append(b.req.Messages, messages.User(content))
	return b
}

// WithTemperature sets the temperature
func (b *CompletionBuilder) WithTemperature(temp float32) *CompletionBuilder {
	b.req.Temperature = temp
	return b
}

// WithMaxTokens sets the max tokens
func (b *CompletionBuilder) WithMaxTokens(tokens int) *CompletionBuilder {
	b.req.MaxTokens = tokens
	return b
}

// Build returns the built CompletionRequest
func (b *CompletionBuilder) Build() *CompletionRequest {
	return b.req
}
