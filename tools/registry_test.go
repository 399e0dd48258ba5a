package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
)

type testTool struct {
	name string
}

func (t *testTool) GetSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Title:       t.name,
		Description: "Test tool",
		Type:        "object",
		Properties: map[string]*jsonschema.Schema{
			"query": {Type: "string"},
		},
		Required: []string{"query"},
	}
}

func (t *testTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return "test result", nil
}

func TestNewToolRegistry(t *testing.T) {
	tools := []Tool{
		&testTool{name: "tool1"},
		&testTool{name: "tool2"},
	}

	registry := NewToolRegistry(tools)

	if registry == nil {
		t.Fatal("Expected registry to be created")
	}

	if len(registry.tools) != 2 {
		t.Errorf("Expected 2 tools, got %d", len(registry.tools))
	}
}

func TestRegistryGet(t *testing.T) {
	registry := NewToolRegistry([]Tool{})
	tool := &testTool{name: "test-tool"}
	registry.Register(tool)

	retrieved, exists := registry.Get("test-tool")
	if !exists {
		t.Error("Expected tool to exist")
	}

	if retrieved != tool {
		t.Error("Expected to get the same tool instance")
	}

	_, exists = registry.Get("non-existent")
	if exists {
		t.Error("Expected non-existent tool to not exist")
	}
}

func TestRegistryRemove(t *testing.T) {
	registry := NewToolRegistry([]Tool{})
	registry.Register(&testTool{name: "removable"})

	registry.Remove("removable")

	if _, exists := registry.Get("removable"); exists {
		t.Error("Expected tool to not exist after removal")
	}
	if err := registry.Validate("removable", nil); err != nil {
		t.Errorf("Expected no validator after removal, got %v", err)
	}
}

func TestRegistryOrdering(t *testing.T) {
	registry := NewToolRegistry([]Tool{
		&testTool{name: "sql_db_query"},
		&testTool{name: "sql_db_list_tables"},
		&testTool{name: "sql_db_schema"},
	})

	want := []string{"sql_db_list_tables", "sql_db_query", "sql_db_schema"}
	names := registry.Names()
	schemas := registry.GetSchemas()
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want[i])
		}
		if schemas[i].Title != want[i] {
			t.Errorf("GetSchemas()[%d] = %s, want %s", i, schemas[i].Title, want[i])
		}
	}
}

func TestRegistryValidate(t *testing.T) {
	registry := NewToolRegistry([]Tool{&testTool{name: "q"}})

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"query": "SELECT 1"}, false},
		{"missing required", map[string]any{}, true},
		{"nil args", nil, true},
		{"wrong type", map[string]any{"query": 7}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Validate("q", tt.args)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgs) {
					t.Errorf("Expected ErrInvalidArgs, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}
