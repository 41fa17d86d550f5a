package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "parameters.json"

// compileSchema checks that a parameter schema is a valid JSON Schema
// describing an object, and compiles it for argument validation.
func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, fmt.Errorf("parameters schema is required")
	}
	if t, ok := schema["type"]; ok && t != "object" {
		return nil, fmt.Errorf("parameters type must be \"object\", got %v", t)
	}

	doc, err := jsonValue(schema)
	if err != nil {
		return nil, fmt.Errorf("parameters: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("parameters: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("parameters: %s", flatten(err))
	}
	return compiled, nil
}

// checkArgs validates arguments against a compiled parameter schema. Keys
// not declared in properties pass through unless the schema forbids them.
func checkArgs(schema *jsonschema.Schema, args map[string]any) error {
	inst, err := jsonValue(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArguments, flatten(err))
	}
	return nil
}

// jsonValue round-trips v through JSON so the validator sees the same
// numbers and shapes a client would have sent.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}

// flatten folds a multi-line validator report onto one line for traces.
func flatten(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.Join(lines, " ")
}
