package adapters

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/alexschlessinger/pollyquery/llm/streaming"
	"github.com/alexschlessinger/pollyquery/messages"
	"google.golang.org/genai"
)

// MetadataKeyThoughtSignatures maps tool call ids to base64 Gemini thought signatures
const MetadataKeyThoughtSignatures = "gemini_thought_signatures"

// GeminiAdapter handles Gemini chunks. Function calls arrive whole and
// without ids, so ids are synthesized per call.
type GeminiAdapter struct {
	signatures map[string]string
}

// NewGeminiAdapter creates a new Gemini streaming adapter
func NewGeminiAdapter() *GeminiAdapter {
	return &GeminiAdapter{signatures: make(map[string]string)}
}

// ProcessChunk handles one *genai.GenerateContentResponse
func (a *GeminiAdapter) ProcessChunk(chunk any, state streaming.StreamStateInterface) error {
	resp, ok := chunk.(*genai.GenerateContentResponse)
	if !ok {
		return nil
	}

	if resp.UsageMetadata != nil {
		state.SetTokenUsage(
			int(resp.UsageMetadata.PromptTokenCount),
			int(resp.UsageMetadata.CandidatesTokenCount),
		)
	}

	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		if candidate.FinishReason != "" {
			state.SetStopReason(mapGeminiFinishReason(candidate.FinishReason))
		}
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part.FunctionCall != nil {
					a.addFunctionCall(part, state)
				}
			}
		}
	}

	// Gemini finishes tool turns with STOP
	if len(state.GetToolCalls()) > 0 {
		state.SetStopReason(messages.StopReasonToolUse)
	}
	return nil
}

func (a *GeminiAdapter) addFunctionCall(part *genai.Part, state streaming.StreamStateInterface) {
	args, err := json.Marshal(part.FunctionCall.Args)
	if err != nil {
		args = []byte("{}")
	}

	id := fmt.Sprintf("gemini-%d", len(state.GetToolCalls()))
	state.AddToolCall(messages.ChatMessageToolCall{
		ID:        id,
		Name:      part.FunctionCall.Name,
		Arguments: string(args),
	})

	if len(part.ThoughtSignature) > 0 {
		a.signatures[id] = base64.StdEncoding.EncodeToString(part.ThoughtSignature)
	}
}

// EnrichFinalMessage attaches thought signatures by tool call id
func (a *GeminiAdapter) EnrichFinalMessage(msg *messages.ChatMessage, state streaming.StreamStateInterface) {
	if len(a.signatures) == 0 {
		return
	}
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]any)
	}
	msg.Metadata[MetadataKeyThoughtSignatures] = a.signatures
}

func mapGeminiFinishReason(fr genai.FinishReason) messages.StopReason {
	switch fr {
	case genai.FinishReasonMaxTokens:
		return messages.StopReasonMaxTokens
	case genai.FinishReasonSafety, genai.FinishReasonRecitation,
		genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent,
		genai.FinishReasonSPII:
		return messages.StopReasonContentFilter
	case genai.FinishReasonMalformedFunctionCall:
		return messages.StopReasonError
	default:
		return messages.StopReasonEndTurn
	}
}
