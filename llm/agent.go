package llm

import (
	"context"
	"errors"
	"time"

	"github.com/alexschlessinger/pollyquery/messages"
	"github.com/alexschlessinger/pollyquery/tools"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrMaxIterations is returned when the model keeps calling tools past the limit
	ErrMaxIterations = errors.New("max iterations exceeded")
	// ErrContentFiltered is returned when the provider blocked the response
	ErrContentFiltered = errors.New("response blocked by content filter")
	// ErrMalformedOutput is returned when the model produced unusable output
	ErrMalformedOutput = errors.New("model produced malformed output")
)

// Agent runs the tool loop without owning conversation state
type Agent struct {
	client   LLM
	tools    *tools.ToolRegistry
	executor *ToolExecutor
	config   AgentConfig
}

// AgentConfig configures agent behavior
type AgentConfig struct {
	MaxIterations    int           // Maximum LLM calls before giving up (default: 10)
	ToolTimeout      time.Duration // Per-tool execution timeout (0 = no timeout)
	MaxParallelTools int           // Maximum parallel tool executions (0 = unlimited)
	Guard            ToolGuard     // Optional policy check before each tool call
}

// AgentCallbacks provides hooks for observing agent execution. They may be
// called from several goroutines when tools run in parallel.
type AgentCallbacks struct {
	// OnReasoning is called when provider thinking is streamed
	OnReasoning func(content string)

	// OnContent is called when regular content is streamed
	OnContent func(content string)

	// BeforeToolExecute may return a derived context for the tool
	BeforeToolExecute func(ctx context.Context, call messages.ChatMessageToolCall, args map[string]any) context.Context

	// OnToolStart is called before each tool executes (after BeforeToolExecute)
	OnToolStart func(call messages.ChatMessageToolCall)

	// OnToolEnd is called after each tool executes
	OnToolEnd func(call messages.ChatMessageToolCall, result string, duration time.Duration, err error)

	// OnComplete is called when the final response is ready (no more tool calls)
	OnComplete func(response *messages.ChatMessage)

	// OnError is called when the run fails
	OnError func(err error)
}

// AgentResponse contains the results after Run completes
type AgentResponse struct {
	Message        *messages.ChatMessage  // Final assistant message (no tool calls)
	AllMessages    []messages.ChatMessage // All messages generated (assistant + tool results)
	IterationCount int                    // Number of LLM calls made
}

// NewAgent creates a stateless agent over client and registry
func NewAgent(client LLM, registry *tools.ToolRegistry, config AgentConfig) *Agent {
	if config.MaxIterations <= 0 {
		config.MaxIterations = 10
	}
	return &Agent{
		client:   client,
		tools:    registry,
		executor: NewToolExecutor(registry).WithTimeout(config.ToolTimeout).WithGuard(config.Guard),
		config:   config,
	}
}

// Run loops until the model answers without tool calls or MaxIterations
// is reached. req.Messages is not modified; everything generated is
// returned in AgentResponse.AllMessages.
func (a *Agent) Run(ctx context.Context, req *CompletionRequest, cb *AgentCallbacks) (*AgentResponse, error) {
	if cb == nil {
		cb = &AgentCallbacks{}
	}

	msgs := make([]messages.ChatMessage, len(req.Messages))
	copy(msgs, req.Messages)

	var generated []messages.ChatMessage
	done := func(response *messages.ChatMessage, iteration int) (*AgentResponse, error) {
		if cb.OnComplete != nil {
			cb.OnComplete(response)
		}
		return &AgentResponse{
			Message:        response,
			AllMessages:    generated,
			IterationCount: iteration + 1,
		}, nil
	}

	for iteration := 0; iteration < a.config.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		iterReq := *req
		iterReq.Messages = msgs
		if a.tools != nil {
			iterReq.Tools = a.tools.All()
		}

		events := a.client.ChatCompletionStream(ctx, &iterReq, messages.NewStreamProcessor())
		response, err := messages.ProcessEventStream(ctx, events, &messages.EventHandler{
			OnReasoning: cb.OnReasoning,
			OnContent:   cb.OnContent,
		})
		if err != nil {
			return nil, a.fail(cb, err)
		}

		msgs = append(msgs, *response)
		generated = append(generated, *response)

		switch response.StopReason {
		case messages.StopReasonEndTurn:
			return done(response, iteration)

		case messages.StopReasonMaxTokens:
			zap.S().Warnw("agent_response_truncated", "iteration", iteration)
			return done(response, iteration)

		case messages.StopReasonContentFilter:
			return nil, a.fail(cb, ErrContentFiltered)

		case messages.StopReasonError:
			return nil, a.fail(cb, ErrMalformedOutput)

		case messages.StopReasonToolUse:

		default:
			if !response.HasToolCalls() {
				return done(response, iteration)
			}
		}

		if !response.HasToolCalls() {
			// tool_use without calls; nothing to run
			return done(response, iteration)
		}

		results, err := a.executeTools(ctx, response.ToolCalls, cb)
		if err != nil {
			return nil, a.fail(cb, err)
		}
		msgs = append(msgs, results...)
		generated = append(generated, results...)
	}

	// the partial history is returned so callers can keep it
	return &AgentResponse{
		Message:        &msgs[len(msgs)-1],
		AllMessages:    generated,
		IterationCount: a.config.MaxIterations,
	}, a.fail(cb, ErrMaxIterations)
}

func (a *Agent) fail(cb *AgentCallbacks, err error) error {
	if cb.OnError != nil {
		cb.OnError(err)
	}
	return err
}

// executeTool runs one call through the executor and reports it
func (a *Agent) executeTool(ctx context.Context, tc messages.ChatMessageToolCall, cb *AgentCallbacks) messages.ChatMessage {
	if cb.BeforeToolExecute != nil {
		args, _ := ParseToolArgs(tc.Arguments)
		ctx = cb.BeforeToolExecute(ctx, tc, args)
	}
	if cb.OnToolStart != nil {
		cb.OnToolStart(tc)
	}

	start := time.Now()
	result, err := a.executor.Execute(ctx, tc)
	if cb.OnToolEnd != nil {
		cb.OnToolEnd(tc, result, time.Since(start), err)
	}

	return ToolResult(tc, result)
}

// executeTools runs calls concurrently up to MaxParallelTools and returns
// results in call order. A limit of one runs them strictly in order.
// Cancelling ctx stops calls still waiting for a slot.
func (a *Agent) executeTools(ctx context.Context, calls []messages.ChatMessageToolCall, cb *AgentCallbacks) ([]messages.ChatMessage, error) {
	results := make([]messages.ChatMessage, len(calls))

	limit := a.effectiveParallelism(len(calls))
	if limit == 1 {
		for i, tc := range calls {
			if err := ctx.Err(); err != nil {
				return results[:i], err
			}
			results[i] = a.executeTool(ctx, tc, cb)
		}
		return results, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, limit)

	for i, tc := range calls {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			results[i] = a.executeTool(ctx, tc, cb)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (a *Agent) effectiveParallelism(n int) int {
	if a.config.MaxParallelTools <= 0 || a.config.MaxParallelTools > n {
		return n
	}
	return a.config.MaxParallelTools
}
