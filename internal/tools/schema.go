package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compiledSchema wraps a compiled JSON Schema; a nil inner schema means
// the tool declared no constraints and everything validates.
type compiledSchema struct {
	schema *jsonschema.Schema
}

// compileSchema compiles a tool's input schema. A nil or empty schema is
// treated as "accept anything".
func compileSchema(toolName string, raw map[string]any) (*compiledSchema, error) {
	if len(raw) == 0 {
		return &compiledSchema{}, nil
	}

	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, toolName, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	url := "tool://" + toolName + "/input.json"
	if err := compiler.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, toolName, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, toolName, err)
	}
	return &compiledSchema{schema: schema}, nil
}

func (c *compiledSchema) validate(args map[string]any) error {
	if c.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip through JSON so numeric types match what the schema
	// library expects.
	doc, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return err
	}
	return c.schema.Validate(v)
}
