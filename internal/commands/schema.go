package commands

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// stepsSchema validates the steps array accepted by QUICK_WORKFLOW before
// any step reaches the builder, so a malformed submission rejects the whole
// command instead of half-building a workflow.
const stepsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["name", "handler"],
    "properties": {
      "name":         {"type": "string", "minLength": 1},
      "handler":      {"type": "string", "minLength": 1},
      "params":       {"type": "object"},
      "dependencies": {"type": "array", "items": {"type": "string"}},
      "timeout":      {"type": "integer", "minimum": 1},
      "retry_count":  {"type": "integer", "minimum": 1},
      "retry_delay":  {"type": "integer", "minimum": 0},
      "condition":    {"type": "string"}
    },
    "additionalProperties": false
  }
}`

// stepDef is one entry of a QUICK_WORKFLOW steps array. Dependencies refer
// to other entries by name. RetryDelay is a pointer so a submitted zero
// (retry with no sleep) survives to the builder instead of reading as
// absent.
type stepDef struct {
	Name         string         `json:"name"`
	Handler      string         `json:"handler"`
	Params       map[string]any `json:"params,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Timeout      int            `json:"timeout,omitempty"`
	RetryCount   int            `json:"retry_count,omitempty"`
	RetryDelay   *int           `json:"retry_delay,omitempty"`
	Condition    string         `json:"condition,omitempty"`
}

type stepsValidator struct {
	compiled *jsonschema.Schema
}

func newStepsValidator() (*stepsValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(stepsSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("steps.json", doc); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile("steps.json")
	if err != nil {
		return nil, err
	}
	return &stepsValidator{compiled: compiled}, nil
}

// parse validates raw JSON against the steps schema and decodes it.
func (v *stepsValidator) parse(raw string) ([]stepDef, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid steps JSON: %v", err)
	}
	if err := v.compiled.Validate(doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "steps do not match schema: %v", err)
	}
	var steps []stepDef
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid steps JSON: %v", err)
	}
	return steps, nil
}
