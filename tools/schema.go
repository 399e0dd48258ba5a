package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	invopop "github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidArgs is returned when call arguments do not match the tool schema
var ErrInvalidArgs = errors.New("invalid tool arguments")

// ReflectSchema builds a tool schema from an argument struct. Fields without
// omitempty are required; descriptions come from jsonschema_description tags.
func ReflectSchema(name, description string, args any) *jsonschema.Schema {
	r := &invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	reflected := r.Reflect(args)

	schema := &jsonschema.Schema{Type: "object"}
	if data, err := json.Marshal(reflected); err == nil {
		var s jsonschema.Schema
		if err := json.Unmarshal(data, &s); err == nil {
			schema = &s
		}
	}

	// draft URIs confuse validators that only speak older drafts
	schema.Schema = ""
	schema.ID = ""
	schema.Title = name
	schema.Description = description
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema
}

// CompileSchema prepares a validator for a tool schema
func CompileSchema(schema *jsonschema.Schema) (*gojsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	clean := *schema
	clean.Schema = ""
	clean.ID = ""

	data, err := json.Marshal(&clean)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	validator, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return validator, nil
}

// ValidateArgs checks args against a compiled schema
func ValidateArgs(validator *gojsonschema.Schema, args map[string]any) error {
	if validator == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := validator.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidArgs, strings.Join(problems, "; "))
}
