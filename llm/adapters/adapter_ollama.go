package adapters

import (
	"encoding/json"
	"fmt"

	"github.com/alexschlessinger/pollyquery/llm/streaming"
	"github.com/alexschlessinger/pollyquery/messages"
	ollamaapi "github.com/ollama/ollama/api"
)

// OllamaAdapter handles Ollama chunks. Ollama resends the complete tool
// call list on every update and has no detailed stop reasons.
type OllamaAdapter struct{}

// NewOllamaAdapter creates a new Ollama streaming adapter
func NewOllamaAdapter() *OllamaAdapter {
	return &OllamaAdapter{}
}

// ProcessChunk handles one *ollamaapi.ChatResponse
func (a *OllamaAdapter) ProcessChunk(chunk any, state streaming.StreamStateInterface) error {
	resp, ok := chunk.(*ollamaapi.ChatResponse)
	if !ok {
		return nil
	}

	if len(resp.Message.ToolCalls) > 0 {
		state.ResetToolCalls()
		for i, tc := range resp.Message.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			state.AddToolCall(messages.ChatMessageToolCall{
				ID:        fmt.Sprintf("call_%d", i),
				Name:      tc.Function.Name,
				Arguments: string(args),
			})
		}
	}

	if resp.Done {
		state.SetTokenUsage(resp.PromptEvalCount, resp.EvalCount)
		if len(state.GetToolCalls()) > 0 {
			state.SetStopReason(messages.StopReasonToolUse)
		} else if resp.DoneReason == "length" {
			state.SetStopReason(messages.StopReasonMaxTokens)
		} else {
			state.SetStopReason(messages.StopReasonEndTurn)
		}
	}

	return nil
}

// EnrichFinalMessage is a no-op for Ollama
func (a *OllamaAdapter) EnrichFinalMessage(msg *messages.ChatMessage, state streaming.StreamStateInterface) {
}
