package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/alexschlessinger/pollyquery/llm/adapters"
	"github.com/alexschlessinger/pollyquery/llm/streaming"
	"github.com/alexschlessinger/pollyquery/messages"
	"github.com/alexschlessinger/pollyquery/tools"
	mcpjsonschema "github.com/google/jsonschema-go/jsonschema"
	ai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"
)

// emptyToolResult stands in for a tool that returned nothing, e.g. a query
// matching no rows. OpenAI rejects tool messages without content.
const emptyToolResult = "(empty result)"

var _ LLM = (*OpenAIClient)(nil)

// OpenAIClient talks to OpenAI or any OpenAI-compatible endpoint
type OpenAIClient struct {
	ClientConfig ai.ClientConfig
	Client       *ai.Client
}

// NewOpenAIClient creates a client; an empty baseURL means api.openai.com
func NewOpenAIClient(apiKey string, baseURL string) *OpenAIClient {
	cfg := ai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		ClientConfig: cfg,
		Client:       ai.NewClientWithConfig(cfg),
	}
}

// ChatCompletionStream implements the event-based streaming interface
func (o *OpenAIClient) ChatCompletionStream(ctx context.Context, req *CompletionRequest, processor EventStreamProcessor) <-chan *messages.StreamEvent {
	messageChannel := make(chan messages.ChatMessage, 10)

	go func() {
		defer close(messageChannel)

		// compatible servers (vLLM, DeepSeek) reason inside <think> tags
		streamCore := streaming.NewStreamingCore(ctx, messageChannel, adapters.NewOpenAIAdapter()).FilterThinkBlocks()
		if err := o.streamCompletion(ctx, req, streamCore); err != nil {
			streamCore.EmitError(err)
		}
	}()

	return processor.ProcessMessagesToEvents(messageChannel)
}

// newOpenAIRequest maps a completion request onto the chat completions API.
// Reasoning models only accept the default temperature, so a request with
// thinking enabled leaves it unset.
func newOpenAIRequest(req *CompletionRequest) ai.ChatCompletionRequest {
	ccr := ai.ChatCompletionRequest{
		MaxCompletionTokens: req.MaxTokens,
		Model:               req.Model,
		Messages:            MessagesToOpenAI(req.Messages),
		Stream:              true,
		StreamOptions:       &ai.StreamOptions{IncludeUsage: true},
	}
	if req.ThinkingEffort.IsEnabled() {
		ccr.ReasoningEffort = string(req.ThinkingEffort)
	} else {
		ccr.Temperature = req.Temperature
	}
	if len(req.Tools) > 0 {
		ccr.Tools = make([]ai.Tool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			ccr.Tools = append(ccr.Tools, ConvertToolToOpenAI(tool.GetSchema()))
		}
	}
	return ccr
}

func (o *OpenAIClient) streamCompletion(ctx context.Context, req *CompletionRequest, streamCore *streaming.StreamingCore) error {
	ctx, cancel := withRequestTimeout(ctx, req.Timeout)
	defer cancel()

	ccr := newOpenAIRequest(req)
	zap.S().Debugw("openai_completion_started", "model", ccr.Model, "tools", len(ccr.Tools), "reasoning_effort", ccr.ReasoningEffort)

	stream, err := o.Client.CreateChatCompletionStream(ctx, ccr)
	if err != nil {
		return fmt.Errorf("failed to create chat completion stream: %w", err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("error during streaming: %w", err)
		}

		// tool call fragments and usage go to the adapter, text is streamed here
		if err := streamCore.ProcessChunk(&response); err != nil {
			return err
		}
		if len(response.Choices) > 0 {
			delta := response.Choices[0].Delta
			streamCore.EmitReasoning(delta.ReasoningContent)
			streamCore.EmitContent(delta.Content)
		}
	}

	streamCore.Complete()
	return nil
}

// openAIDefinition converts a tool argument schema to a go-openai Definition.
// Enum values that are not strings are rendered with fmt.
func openAIDefinition(schema *mcpjsonschema.Schema) jsonschema.Definition {
	if schema == nil {
		return jsonschema.Definition{}
	}

	def := jsonschema.Definition{
		Type:        jsonschema.DataType(schema.Type),
		Description: schema.Description,
	}

	switch schema.Type {
	case "array":
		if schema.Items != nil {
			items := openAIDefinition(schema.Items)
			def.Items = &items
		}
	case "object":
		if len(schema.Properties) > 0 {
			def.Properties = make(map[string]jsonschema.Definition, len(schema.Properties))
			for name, prop := range schema.Properties {
				if prop != nil {
					def.Properties[name] = openAIDefinition(prop)
				}
			}
		}
		def.Required = schema.Required
	}

	for _, e := range schema.Enum {
		if s, ok := e.(string); ok {
			def.Enum = append(def.Enum, s)
		} else if e != nil {
			def.Enum = append(def.Enum, fmt.Sprint(e))
		}
	}

	return def
}

// ConvertToolToOpenAI converts a tool schema to an OpenAI function tool.
// The schema title is the function name.
func ConvertToolToOpenAI(schema *mcpjsonschema.Schema) ai.Tool {
	if schema == nil {
		schema = &mcpjsonschema.Schema{}
	}

	params := openAIDefinition(&mcpjsonschema.Schema{
		Type:       "object",
		Properties: schema.Properties,
		Required:   schema.Required,
	})
	params.AdditionalProperties = false

	// go-openai drops an empty properties map, which OpenAI rejects;
	// sql_db_list_tables takes no arguments
	if len(params.Properties) == 0 {
		params.Properties = map[string]jsonschema.Definition{
			tools.NoArgsPlaceholder: {
				Type:        jsonschema.String,
				Description: "No arguments expected; value ignored.",
			},
		}
	}

	return ai.Tool{
		Type: ai.ToolTypeFunction,
		Function: &ai.FunctionDefinition{
			Name:        schema.Title,
			Description: schema.Description,
			Parameters:  params,
		},
	}
}

// MessagesToOpenAI converts a slice of agnostic messages to OpenAI format
func MessagesToOpenAI(msgs []messages.ChatMessage) []ai.ChatCompletionMessage {
	result := make([]ai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		result[i] = messageToOpenAI(msg)
	}
	return result
}

// messageToOpenAI converts one message. Tool results carry the tool name and
// never go out empty.
func messageToOpenAI(msg messages.ChatMessage) ai.ChatCompletionMessage {
	m := ai.ChatCompletionMessage{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
	}
	if msg.Role == messages.MessageRoleTool {
		m.Name = msg.ToolName
		if m.Content == "" {
			m.Content = emptyToolResult
		}
	}

	for _, tc := range msg.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, ai.ToolCall{
			ID:   tc.ID,
			Type: ai.ToolTypeFunction,
			Function: ai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return m
}
