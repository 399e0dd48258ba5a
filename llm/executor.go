package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexschlessinger/pollyquery/messages"
	"github.com/alexschlessinger/pollyquery/policy"
	"github.com/alexschlessinger/pollyquery/tools"
	"go.uber.org/zap"
)

var (
	// ErrToolNotFound is returned for calls naming an unregistered tool
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolBlocked is returned when the guard refuses a call
	ErrToolBlocked = errors.New("tool call blocked by policy")
)

// ToolGuard decides whether a tool call may run. *policy.Engine implements it.
type ToolGuard interface {
	Evaluate(ctx context.Context, toolName string, args map[string]any) (policy.Decision, error)
}

// ToolExecutor runs model tool calls against a registry: it parses and
// validates arguments, consults the guard, and bounds execution time.
type ToolExecutor struct {
	Registry *tools.ToolRegistry
	Guard    ToolGuard
	Timeout  time.Duration
}

// NewToolExecutor creates a new executor with the given registry
func NewToolExecutor(registry *tools.ToolRegistry) *ToolExecutor {
	return &ToolExecutor{Registry: registry}
}

// WithGuard sets the policy guard and returns the executor for chaining
func (e *ToolExecutor) WithGuard(guard ToolGuard) *ToolExecutor {
	e.Guard = guard
	return e
}

// WithTimeout sets the per-call timeout and returns the executor for chaining
func (e *ToolExecutor) WithTimeout(timeout time.Duration) *ToolExecutor {
	e.Timeout = timeout
	return e
}

// ParseToolArgs decodes a call's JSON arguments. Empty input is an empty
// object and the no-args placeholder is dropped.
func ParseToolArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	delete(args, tools.NoArgsPlaceholder)
	return args, nil
}

// Execute runs one tool call. The returned string is always usable as the
// tool message content; failures come back as "Error: ..." with err set.
func (e *ToolExecutor) Execute(ctx context.Context, tc messages.ChatMessageToolCall) (string, error) {
	result, err := e.execute(ctx, tc)
	if err != nil {
		zap.S().Debugw("tool_call_failed", "tool", tc.Name, "error", err)
		return "Error: " + err.Error(), err
	}
	return result, nil
}

func (e *ToolExecutor) execute(ctx context.Context, tc messages.ChatMessageToolCall) (string, error) {
	args, err := ParseToolArgs(tc.Arguments)
	if err != nil {
		return "", err
	}

	if e.Registry == nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, tc.Name)
	}
	tool, ok := e.Registry.Get(tc.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, tc.Name)
	}

	if err := e.Registry.Validate(tc.Name, args); err != nil {
		return "", err
	}

	if e.Guard != nil {
		decision, err := e.Guard.Evaluate(ctx, tc.Name, args)
		if err != nil {
			return "", fmt.Errorf("policy evaluation failed: %w", err)
		}
		if !decision.Allowed() {
			zap.S().Infow("tool_call_blocked", "tool", tc.Name, "decision", decision.Action, "reason", decision.Reason)
			reason := decision.Reason
			if reason == "" {
				reason = decision.Action
			}
			return "", fmt.Errorf("%w: %s", ErrToolBlocked, reason)
		}
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		if e.Timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("tool execution timed out after %v", e.Timeout)
		}
		return "", err
	}
	return result, nil
}

// ToolResult wraps tool output as a tool message answering tc
func ToolResult(tc messages.ChatMessageToolCall, content string) messages.ChatMessage {
	return messages.ChatMessage{
		Role:       messages.MessageRoleTool,
		Content:    content,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
	}
}
