package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// NoArgsPlaceholder is injected into the schema of argument-less tools for
// providers that reject empty parameter objects. Executors strip it.
const NoArgsPlaceholder = "__noargs"

// Tool is the generic interface for all tools
type Tool interface {
	GetSchema() *jsonschema.Schema
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolCall represents a request to execute a tool
type ToolCall struct {
	ID   string         // Provider-specific ID (if any)
	Name string         // Tool name
	Args map[string]any // Parsed arguments
}

// Name returns a tool's name, which is its schema title
func Name(t Tool) string {
	if s := t.GetSchema(); s != nil {
		return s.Title
	}
	return ""
}

// decodeArgs maps loosely typed call arguments onto a typed struct
func decodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
