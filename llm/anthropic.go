package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/alexschlessinger/pollyquery/llm/adapters"
	"github.com/alexschlessinger/pollyquery/llm/streaming"
	"github.com/alexschlessinger/pollyquery/messages"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	mcpjsonschema "github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"
)

var _ LLM = (*AnthropicClient)(nil)

type AnthropicClient struct {
	client anthropic.Client
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	if apiKey == "" {
		zap.S().Debugw("anthropic_missing_api_key")
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (a *AnthropicClient) buildRequestParams(req *CompletionRequest) anthropic.MessageNewParams {
	msgs, system := MessagesToAnthropicParams(req.Messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
		Messages:    msgs,
	}
	if req.ThinkingEffort.IsEnabled() {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingEffort.budget(anthropicBudgets)))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, ConvertToolToAnthropic(tool.GetSchema()))
	}
	return params
}

// ChatCompletionStream implements the event-based streaming interface
func (a *AnthropicClient) ChatCompletionStream(ctx context.Context, req *CompletionRequest, processor EventStreamProcessor) <-chan *messages.StreamEvent {
	messageChannel := make(chan messages.ChatMessage, 10)

	go func() {
		defer close(messageChannel)

		ctx, cancel := withRequestTimeout(ctx, req.Timeout)
		defer cancel()

		streamCore := streaming.NewStreamingCore(ctx, messageChannel, adapters.NewAnthropicAdapter())
		zap.S().Debugw("anthropic_streaming_started", "model", req.Model, "tools", len(req.Tools))

		stream := a.client.Messages.NewStreaming(ctx, a.buildRequestParams(req))
		for stream.Next() {
			event := stream.Current()
			if err := streamCore.ProcessChunk(event); err != nil {
				streamCore.EmitError(err)
				return
			}
			if event.Type == string(constant.ValueOf[constant.ContentBlockDelta]()) {
				delta := event.AsContentBlockDelta().Delta
				streamCore.EmitReasoning(delta.Thinking)
				streamCore.EmitContent(delta.Text)
			}
		}
		if err := stream.Err(); err != nil {
			streamCore.EmitError(err)
			return
		}

		streamCore.Complete()
	}()

	return processor.ProcessMessagesToEvents(messageChannel)
}

func convertSchemaToAnthropicMap(schema *mcpjsonschema.Schema) map[string]any {
	if schema == nil {
		return nil
	}

	prop := map[string]any{"type": "string"}
	if schema.Type != "" {
		prop["type"] = schema.Type
	}
	if schema.Description != "" {
		prop["description"] = schema.Description
	}

	switch schema.Type {
	case "array":
		// 2020-12 requires items
		items := map[string]any{"type": "string"}
		if schema.Items != nil {
			items = convertSchemaToAnthropicMap(schema.Items)
		}
		prop["items"] = items
	case "object":
		props := make(map[string]any)
		for name, p := range schema.Properties {
			if p != nil {
				props[name] = convertSchemaToAnthropicMap(p)
			}
		}
		prop["properties"] = props
		if len(schema.Required) > 0 {
			prop["required"] = schema.Required
		}
	}

	if len(schema.Enum) > 0 {
		prop["enum"] = schema.Enum
	}
	return prop
}

// ConvertToolToAnthropic converts a tool schema to an Anthropic tool
func ConvertToolToAnthropic(schema *mcpjsonschema.Schema) anthropic.ToolUnionParam {
	if schema == nil {
		schema = &mcpjsonschema.Schema{}
	}

	properties := make(map[string]any)
	for k, v := range schema.Properties {
		if v != nil {
			properties[k] = convertSchemaToAnthropicMap(v)
		}
	}

	inputSchema := anthropic.ToolInputSchemaParam{
		Type:       "object",
		Properties: properties,
	}
	if len(schema.Required) > 0 {
		inputSchema.Required = schema.Required
	}

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        schema.Title,
			Description: anthropic.String(schema.Description),
			InputSchema: inputSchema,
		},
	}
}

// MessagesToAnthropicParams converts messages to Anthropic message
// parameters and returns the system prompt separately
func MessagesToAnthropicParams(msgs []messages.ChatMessage) ([]anthropic.MessageParam, string) {
	var out []anthropic.MessageParam
	system := ""

	for _, msg := range msgs {
		switch msg.Role {
		case messages.MessageRoleSystem:
			system = msg.Content

		case messages.MessageRoleUser:
			if strings.TrimSpace(msg.Content) != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}

		case messages.MessageRoleAssistant:
			blocks := thinkingBlocks(msg.Metadata)
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				// input is required even for tools without parameters
				var input any = map[string]any{}
				if args := strings.TrimSpace(tc.Arguments); args != "" {
					var parsed any
					if err := json.Unmarshal([]byte(args), &parsed); err == nil {
						input = parsed
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}

		case messages.MessageRoleTool:
			if strings.TrimSpace(msg.ToolCallID) != "" {
				isError := strings.HasPrefix(msg.Content, "Error:")
				out = append(out, anthropic.NewUserMessage(
					anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isError),
				))
			} else if strings.TrimSpace(msg.Content) != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}

	return out, system
}

// thinkingBlocks restores signed thinking blocks captured by the adapter
func thinkingBlocks(metadata map[string]any) []anthropic.ContentBlockParamUnion {
	list, _ := metadata[adapters.MetadataKeyThinkingBlocks].([]map[string]any)

	var blocks []anthropic.ContentBlockParamUnion
	for _, block := range list {
		if kind, _ := block["type"].(string); kind != string(constant.ValueOf[constant.Thinking]()) {
			continue
		}
		thinking, _ := block["thinking"].(string)
		signature, _ := block["signature"].(string)
		if signature != "" && thinking != "" {
			blocks = append(blocks, anthropic.NewThinkingBlock(signature, thinking))
		}
	}
	return blocks
}
