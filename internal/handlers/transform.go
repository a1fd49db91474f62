package handlers

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// TransformHandler implements the "transform" handler: applies a jq
// expression to inline data or a context key and stores the result under an
// output key when requested.
type TransformHandler struct{}

// NewTransformHandler creates a transform handler.
func NewTransformHandler() *TransformHandler {
	return &TransformHandler{}
}

func (h *TransformHandler) Name() string { return "transform" }

func (h *TransformHandler) Schema() HandlerSchema {
	return HandlerSchema{Description: "Apply a jq expression to data or a context value"}
}

func (h *TransformHandler) Execute(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
	queryStr := stringParam(step.Params, "query", "")
	if queryStr == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform requires a query")
	}

	query, err := gojq.Parse(queryStr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "transform: parse query: %s", err.Error()).WithCause(err)
	}

	input := step.Params["data"]
	if inputKey := stringParam(step.Params, "input_key", ""); inputKey != "" {
		input, _ = exec.GetContext(inputKey)
	}

	// Normalize to plain JSON types; gojq rejects arbitrary Go values.
	normalized, err := normalizeJSON(input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "transform: input not serializable: %s", err.Error()).WithCause(err)
	}

	var results []any
	iter := query.RunWithContext(ctx, normalized)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "transform: %s", err.Error()).WithCause(err)
		}
		results = append(results, v)
	}

	var out any
	switch len(results) {
	case 0:
		out = nil
	case 1:
		out = results[0]
	default:
		out = results
	}

	if outputKey := stringParam(step.Params, "output_key", ""); outputKey != "" {
		exec.SetContext(outputKey, out)
	}
	return schema.Ok(out), nil
}

func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
