package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alexschlessinger/pollyquery/messages"
)

// Providers MultiPass can route to
var Providers = []string{"openai", "anthropic", "gemini", "ollama"}

// MultiPass routes requests to different LLM providers based on model prefix
type MultiPass struct {
	apiKeys map[string]string
}

// APIKeyEnvVar returns the environment variable holding a provider's key
func APIKeyEnvVar(provider string) string {
	return fmt.Sprintf("POLLYQUERY_%sKEY", strings.ToUpper(provider))
}

// APIKeysFromEnv reads every provider key from the environment
func APIKeysFromEnv() map[string]string {
	keys := make(map[string]string, len(Providers))
	for _, p := range Providers {
		keys[p] = os.Getenv(APIKeyEnvVar(p))
	}
	return keys
}

// NewMultiPass creates a new multi-provider router
func NewMultiPass(apiKeys map[string]string) *MultiPass {
	return &MultiPass{apiKeys: apiKeys}
}

// ChatCompletionStream routes "provider/model" to the matching client.
// Routing failures are reported as a single error event.
func (m *MultiPass) ChatCompletionStream(ctx context.Context, req *CompletionRequest, processor EventStreamProcessor) <-chan *messages.StreamEvent {
	provider, model, ok := strings.Cut(req.Model, "/")
	if !ok {
		return errorStream(fmt.Errorf("model must include provider prefix (e.g., 'openai/gpt-4.1', 'anthropic/claude-sonnet-4-20250514'), got %q", req.Model))
	}
	provider = strings.ToLower(provider)

	// the request may be reused across iterations; don't rewrite the caller's copy
	routed := *req
	routed.Model = model

	if routed.APIKey == "" {
		if key := m.apiKeys[provider]; key != "" {
			routed.APIKey = key
		} else if provider != "ollama" {
			return errorStream(fmt.Errorf("missing API key for provider '%s'; set the %s environment variable", provider, APIKeyEnvVar(provider)))
		}
	}

	var client LLM
	switch provider {
	case "openai":
		client = NewOpenAIClient(routed.APIKey, routed.BaseURL)
	case "anthropic":
		client = NewAnthropicClient(routed.APIKey)
	case "gemini":
		client = NewGeminiClient(routed.APIKey)
	case "ollama":
		client = NewOllamaClient(routed.BaseURL, routed.APIKey)
	default:
		return errorStream(fmt.Errorf("unknown provider '%s'; valid providers: %s", provider, strings.Join(Providers, ", ")))
	}

	return client.ChatCompletionStream(ctx, &routed, processor)
}

func errorStream(err error) <-chan *messages.StreamEvent {
	ch := make(chan *messages.StreamEvent, 1)
	ch <- messages.ErrorEvent(err)
	close(ch)
	return ch
}
