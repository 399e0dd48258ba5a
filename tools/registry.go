package tools

import (
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// ToolRegistry manages available tools
type ToolRegistry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	validators map[string]*gojsonschema.Schema
}

// NewToolRegistry creates a new tool registry from a list of tools
func NewToolRegistry(tools []Tool) *ToolRegistry {
	registry := &ToolRegistry{
		tools:      make(map[string]Tool),
		validators: make(map[string]*gojsonschema.Schema),
	}

	for _, tool := range tools {
		registry.Register(tool)
	}

	return registry
}

// Register adds a tool to the registry, replacing any tool with the same name
func (r *ToolRegistry) Register(tool Tool) {
	name := Name(tool)

	validator, err := CompileSchema(tool.GetSchema())
	if err != nil {
		// the tool still runs, its arguments just go unchecked
		zap.S().Warnw("tool_schema_uncompilable", "tool", name, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	zap.S().Debugw("tool_registered", "tool", name)
	r.tools[name] = tool
	if validator != nil {
		r.validators[name] = validator
	} else {
		delete(r.validators, name)
	}
}

// Get retrieves a tool by name
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// Validate checks args against the named tool's schema
func (r *ToolRegistry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	validator := r.validators[name]
	r.mu.RUnlock()
	return ValidateArgs(validator, args)
}

// Remove removes a tool by name from the registry
func (r *ToolRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; ok {
		delete(r.tools, name)
		delete(r.validators, name)
		zap.S().Debugw("tool_removed", "tool", name)
	}
}

// Names returns the registered tool names, sorted
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all tools in name order
func (r *ToolRegistry) All() []Tool {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		if tool, ok := r.tools[name]; ok {
			tools = append(tools, tool)
		}
	}
	return tools
}

// GetSchemas returns all tool schemas in name order
func (r *ToolRegistry) GetSchemas() []*jsonschema.Schema {
	all := r.All()
	schemas := make([]*jsonschema.Schema, 0, len(all))
	for _, tool := range all {
		schemas = append(schemas, tool.GetSchema())
	}
	return schemas
}
