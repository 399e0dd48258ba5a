package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alexschlessinger/pollyquery/llm/adapters"
	"github.com/alexschlessinger/pollyquery/llm/streaming"
	"github.com/alexschlessinger/pollyquery/messages"
	mcpjsonschema "github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

var _ LLM = (*GeminiClient)(nil)

type GeminiClient struct {
	apiKey string
}

func NewGeminiClient(apiKey string) *GeminiClient {
	if apiKey == "" {
		zap.S().Debugw("gemini_missing_api_key")
	}
	return &GeminiClient{apiKey: apiKey}
}

// ChatCompletionStream implements the event-based streaming interface
func (g *GeminiClient) ChatCompletionStream(ctx context.Context, req *CompletionRequest, processor EventStreamProcessor) <-chan *messages.StreamEvent {
	messageChannel := make(chan messages.ChatMessage, 10)

	go func() {
		defer close(messageChannel)

		ctx, cancel := withRequestTimeout(ctx, req.Timeout)
		defer cancel()

		streamCore := streaming.NewStreamingCore(ctx, messageChannel, adapters.NewGeminiAdapter())
		if err := g.streamCompletion(ctx, req, streamCore); err != nil {
			streamCore.EmitError(err)
		}
	}()

	return processor.ProcessMessagesToEvents(messageChannel)
}

func (g *GeminiClient) streamCompletion(ctx context.Context, req *CompletionRequest, streamCore *streaming.StreamingCore) error {
	if g.apiKey == "" {
		return errors.New("gemini API key not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create gemini client: %w", err)
	}

	contents, system := MessagesToGeminiContent(req.Messages)

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.ThinkingEffort.IsEnabled() {
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(req.ThinkingEffort.budget(geminiBudgets))),
		}
	}
	if len(req.Tools) > 0 {
		var decls []*genai.FunctionDeclaration
		for _, tool := range req.Tools {
			decls = append(decls, ConvertToolToGemini(tool.GetSchema()))
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	zap.S().Debugw("gemini_streaming_started", "model", req.Model, "tools", len(req.Tools))

	for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
		if err != nil {
			return fmt.Errorf("error during streaming: %w", err)
		}
		if err := streamCore.ProcessChunk(resp); err != nil {
			return err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			if part.Thought {
				streamCore.EmitReasoning(part.Text)
			} else {
				streamCore.EmitContent(part.Text)
			}
		}
	}

	streamCore.Complete()
	return nil
}

func convertSchemaToGemini(schema *mcpjsonschema.Schema) *genai.Schema {
	if schema == nil {
		return nil
	}

	out := &genai.Schema{Description: schema.Description}
	switch schema.Type {
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		out.Items = convertSchemaToGemini(schema.Items)
	case "object":
		out.Type = genai.TypeObject
		if len(schema.Properties) > 0 {
			out.Properties = make(map[string]*genai.Schema, len(schema.Properties))
			for name, prop := range schema.Properties {
				if prop != nil {
					out.Properties[name] = convertSchemaToGemini(prop)
				}
			}
		}
		out.Required = schema.Required
	default:
		out.Type = genai.TypeString
	}

	for _, e := range schema.Enum {
		if s, ok := e.(string); ok {
			out.Enum = append(out.Enum, s)
		}
	}
	return out
}

// ConvertToolToGemini converts a tool schema to a Gemini function declaration
func ConvertToolToGemini(schema *mcpjsonschema.Schema) *genai.FunctionDeclaration {
	if schema == nil {
		schema = &mcpjsonschema.Schema{}
	}

	decl := &genai.FunctionDeclaration{
		Name:        schema.Title,
		Description: schema.Description,
	}
	// Gemini rejects an object schema without properties
	if len(schema.Properties) > 0 {
		decl.Parameters = convertSchemaToGemini(&mcpjsonschema.Schema{
			Type:       "object",
			Properties: schema.Properties,
			Required:   schema.Required,
		})
	}
	return decl
}

// MessagesToGeminiContent converts messages to Gemini contents and returns
// the system instruction separately
func MessagesToGeminiContent(msgs []messages.ChatMessage) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system string
	callNames := make(map[string]string)

	for _, msg := range msgs {
		switch msg.Role {
		case messages.MessageRoleSystem:
			system = msg.Content

		case messages.MessageRoleUser:
			if msg.Content != "" {
				contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
			}

		case messages.MessageRoleAssistant:
			signatures, _ := msg.Metadata[adapters.MetadataKeyThoughtSignatures].(map[string]string)

			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					continue
				}
				part := &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args}}
				if sig, ok := signatures[tc.ID]; ok {
					if raw, err := base64.StdEncoding.DecodeString(sig); err == nil {
						part.ThoughtSignature = raw
					}
				}
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: parts})
			}

		case messages.MessageRoleTool:
			name := msg.ToolName
			if name == "" {
				name = callNames[msg.ToolCallID]
			}

			// the response must be an object
			var output any
			if err := json.Unmarshal([]byte(msg.Content), &output); err != nil {
				output = msg.Content
			}
			response, ok := output.(map[string]any)
			if !ok {
				response = map[string]any{"result": output}
			}

			contents = append(contents, &genai.Content{
				Role: string(genai.RoleUser),
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{Name: name, Response: response},
				}},
			})
		}
	}

	return contents, system
}
