package agent

import (
	"context"
	"strings"

	"github.com/alexschlessinger/pollyquery/llm"
	"go.uber.org/zap"
)

// Route is the path a question takes
type Route string

const (
	RouteData    Route = "data"
	RouteGeneral Route = "general"
)

// Router classifies questions with a one-word LLM call
type Router struct {
	client llm.LLM
	base   llm.CompletionRequest
}

// NewRouter creates a router that calls client with base's model and settings
func NewRouter(client llm.LLM, base llm.CompletionRequest) *Router {
	return &Router{client: client, base: base}
}

// Classify returns the route for question. Anything but a clean "data"
// or "general" answer, including a failed call, routes to general.
func (r *Router) Classify(ctx context.Context, question string) Route {
	req := llm.NewCompletionBuilder("").
		From(r.base).
		WithSystemPrompt(routerPrompt).
		WithUserMessage(strings.TrimSpace(question)).
		WithTemperature(0).
		WithMaxTokens(10).
		Build()

	out, err := llm.Complete(ctx, r.client, req, nil)
	if err != nil {
		zap.S().Errorw("route_failed", "error", err)
		return RouteGeneral
	}

	switch Route(strings.ToLower(strings.Trim(strings.TrimSpace(out), ".'\"`"))) {
	case RouteData:
		return RouteData
	case RouteGeneral:
		return RouteGeneral
	default:
		zap.S().Warnw("route_unexpected", "classification", out)
		return RouteGeneral
	}
}
