package adapters

import (
	"github.com/alexschlessinger/pollyquery/llm/streaming"
	"github.com/alexschlessinger/pollyquery/messages"
	ai "github.com/sashabaranov/go-openai"
)

// OpenAIAdapter accumulates OpenAI's index-addressed tool call fragments
type OpenAIAdapter struct{}

// NewOpenAIAdapter creates a new OpenAI streaming adapter
func NewOpenAIAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{}
}

// ProcessChunk handles one *ai.ChatCompletionStreamResponse
func (a *OpenAIAdapter) ProcessChunk(chunk any, state streaming.StreamStateInterface) error {
	response, ok := chunk.(*ai.ChatCompletionStreamResponse)
	if !ok {
		return nil
	}

	// usage arrives on the last chunk when StreamOptions.IncludeUsage is set
	if response.Usage != nil {
		state.SetTokenUsage(response.Usage.PromptTokens, response.Usage.CompletionTokens)
	}

	if len(response.Choices) == 0 {
		return nil
	}
	choice := response.Choices[0]

	if choice.FinishReason != "" {
		state.SetStopReason(mapOpenAIFinishReason(choice.FinishReason))
	}

	for _, tc := range choice.Delta.ToolCalls {
		if tc.Index == nil {
			continue
		}
		state.UpdateToolCallAtIndex(*tc.Index, func(call *messages.ChatMessageToolCall) {
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments == "" {
				return
			}
			if call.Arguments == "{}" {
				call.Arguments = tc.Function.Arguments
			} else {
				call.Arguments += tc.Function.Arguments
			}
		})
	}

	return nil
}

// EnrichFinalMessage is a no-op; usage is set by StreamingCore
func (a *OpenAIAdapter) EnrichFinalMessage(msg *messages.ChatMessage, state streaming.StreamStateInterface) {
}

func mapOpenAIFinishReason(fr ai.FinishReason) messages.StopReason {
	switch fr {
	case ai.FinishReasonToolCalls, ai.FinishReasonFunctionCall:
		return messages.StopReasonToolUse
	case ai.FinishReasonLength:
		return messages.StopReasonMaxTokens
	case ai.FinishReasonContentFilter:
		return messages.StopReasonContentFilter
	default:
		return messages.StopReasonEndTurn
	}
}
