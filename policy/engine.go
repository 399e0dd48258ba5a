// Package policy gates tool calls with an OPA Rego policy.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decision values a policy may return
const (
	Allow           = "allow"
	Block           = "block"
	RequireApproval = "require_approval"
)

// Decision is the outcome of evaluating one tool call
type Decision struct {
	Action string
	Reason string
}

// Allowed reports whether the call may run. Calls that need approval are
// refused because nobody is around to approve them mid-stream.
func (d Decision) Allowed() bool {
	return d.Action == Allow
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadFile creates an engine from a .rego file; an empty path loads DefaultPolicy
func LoadFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(data))
}

// Evaluate checks one tool call. The policy may produce either a bare
// decision string or an object {"decision": ..., "reason": ...}.
func (e *Engine) Evaluate(ctx context.Context, toolName string, args map[string]any) (Decision, error) {
	if args == nil {
		args = map[string]any{}
	}
	input := map[string]any{
		"tool_name": toolName,
		"args":      args,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// the policy is expected to define a default
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Action: Allow, Reason: "no decision"}, nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		return Decision{Action: v}, nil
	case map[string]any:
		d := Decision{Action: Allow}
		if s, ok := v["decision"].(string); ok {
			d.Action = s
		}
		if s, ok := v["reason"].(string); ok {
			d.Reason = s
		}
		return d, nil
	default:
		return Decision{}, fmt.Errorf("policy returned %T, want string or object", v)
	}
}

// DefaultPolicy only lets read statements through the query tool.
const DefaultPolicy = `
package tool_policy

default decision = {"decision": "allow"}

write_statement {
	regex.match("(?i)\\b(insert|update|delete|drop|alter|create|replace|attach|detach|pragma|vacuum|reindex)\\b", input.args.query)
}

decision = {"decision": "block", "reason": "only read-only queries are allowed"} {
	input.tool_name == "sql_db_query"
	write_statement
}
`
