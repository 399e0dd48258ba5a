package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/alexschlessinger/pollyquery/llm/adapters"
	"github.com/alexschlessinger/pollyquery/llm/streaming"
	"github.com/alexschlessinger/pollyquery/messages"
	mcpjsonschema "github.com/google/jsonschema-go/jsonschema"
	ollamaapi "github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// DefaultOllamaURL is used when no base URL is configured
const DefaultOllamaURL = "http://localhost:11434"

var _ LLM = (*OllamaClient)(nil)

type OllamaClient struct {
	client *ollamaapi.Client
}

// authTransport adds Bearer token authentication to HTTP requests
type authTransport struct {
	Token string
	Base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.Token)
	return t.Base.RoundTrip(req)
}

func NewOllamaClient(baseURL string, apiKey string) *OllamaClient {
	u, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		if err != nil {
			zap.S().Warnw("ollama_invalid_url", "url", baseURL, "error", err)
		}
		u, _ = url.Parse(DefaultOllamaURL)
	}

	httpClient := http.DefaultClient
	if apiKey != "" {
		httpClient = &http.Client{
			Transport: &authTransport{Token: apiKey, Base: http.DefaultTransport},
		}
	}

	return &OllamaClient{client: ollamaapi.NewClient(u, httpClient)}
}

// ChatCompletionStream implements the event-based streaming interface
func (o *OllamaClient) ChatCompletionStream(ctx context.Context, req *CompletionRequest, processor EventStreamProcessor) <-chan *messages.StreamEvent {
	messageChannel := make(chan messages.ChatMessage, 10)

	go func() {
		defer close(messageChannel)

		ctx, cancel := withRequestTimeout(ctx, req.Timeout)
		defer cancel()

		streamCore := streaming.NewStreamingCore(ctx, messageChannel, adapters.NewOllamaAdapter()).FilterThinkBlocks()

		chatReq := &ollamaapi.ChatRequest{
			Model:    req.Model,
			Messages: MessagesToOllama(req.Messages),
			Options: map[string]any{
				"temperature": req.Temperature,
				"num_predict": req.MaxTokens,
			},
		}
		if req.ThinkingEffort.IsEnabled() {
			chatReq.Think = &ollamaapi.ThinkValue{Value: true}
		}
		for _, tool := range req.Tools {
			t, err := ConvertToolToOllama(tool.GetSchema())
			if err != nil {
				streamCore.EmitError(err)
				return
			}
			chatReq.Tools = append(chatReq.Tools, t)
		}

		zap.S().Debugw("ollama_chat_started", "model", req.Model, "tools", len(chatReq.Tools))

		err := o.client.Chat(ctx, chatReq, func(resp ollamaapi.ChatResponse) error {
			if err := streamCore.ProcessChunk(&resp); err != nil {
				return err
			}
			streamCore.EmitReasoning(resp.Message.Thinking)
			streamCore.EmitContent(resp.Message.Content)
			return nil
		})
		if err != nil {
			streamCore.EmitError(err)
			return
		}

		streamCore.Complete()
	}()

	return processor.ProcessMessagesToEvents(messageChannel)
}

// ollamaSchema is the JSON shape Ollama expects for function parameters
func ollamaSchema(schema *mcpjsonschema.Schema) map[string]any {
	if schema == nil {
		return map[string]any{"type": "string"}
	}

	out := map[string]any{"type": schema.Type}
	if schema.Type == "" {
		out["type"] = "string"
	}
	if schema.Description != "" {
		out["description"] = schema.Description
	}
	switch schema.Type {
	case "array":
		out["items"] = ollamaSchema(schema.Items)
	case "object":
		props := make(map[string]any, len(schema.Properties))
		for name, p := range schema.Properties {
			if p != nil {
				props[name] = ollamaSchema(p)
			}
		}
		out["properties"] = props
		if len(schema.Required) > 0 {
			out["required"] = schema.Required
		}
	}
	if len(schema.Enum) > 0 {
		out["enum"] = schema.Enum
	}
	return out
}

// ConvertToolToOllama converts a tool schema to an Ollama tool. The tool is
// built through its JSON form so nested parameters keep their structure.
func ConvertToolToOllama(schema *mcpjsonschema.Schema) (ollamaapi.Tool, error) {
	if schema == nil {
		schema = &mcpjsonschema.Schema{}
	}
	params := ollamaSchema(&mcpjsonschema.Schema{
		Type:       "object",
		Properties: schema.Properties,
		Required:   schema.Required,
	})

	raw, err := json.Marshal(map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        schema.Title,
			"description": schema.Description,
			"parameters":  params,
		},
	})
	if err != nil {
		return ollamaapi.Tool{}, err
	}

	var tool ollamaapi.Tool
	if err := json.Unmarshal(raw, &tool); err != nil {
		return ollamaapi.Tool{}, err
	}
	return tool, nil
}

// MessagesToOllama converts messages to Ollama format
func MessagesToOllama(msgs []messages.ChatMessage) []ollamaapi.Message {
	out := make([]ollamaapi.Message, 0, len(msgs))

	for _, msg := range msgs {
		m := ollamaapi.Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == messages.MessageRoleTool {
			m.ToolName = msg.ToolName
		}

		for _, tc := range msg.ToolCalls {
			var call ollamaapi.ToolCall
			call.Function.Name = tc.Name
			if err := json.Unmarshal([]byte(tc.Arguments), &call.Function.Arguments); err != nil {
				zap.S().Debugw("ollama_tool_args_unparseable", "tool", tc.Name, "error", err)
				continue
			}
			m.ToolCalls = append(m.ToolCalls, call)
		}

		out = append(out, m)
	}

	return out
}
