package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformInlineData(t *testing.T) {
	h := NewTransformHandler()

	res, err := h.Execute(context.Background(), stepWith("transform", map[string]any{
		"query": ".items | length",
		"data":  map[string]any{"items": []any{"a", "b", "c"}},
	}), testExec(nil))
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Data)
}

func TestTransformFromContextKey(t *testing.T) {
	h := NewTransformHandler()
	exec := testExec(map[string]any{"input": []any{1, 2, 3}})

	res, err := h.Execute(context.Background(), stepWith("transform", map[string]any{
		"query":      "map(. * 2)",
		"input_key":  "input",
		"output_key": "doubled",
	}), exec)
	require.NoError(t, err)
	assert.True(t, res.Success)

	out, ok := exec.GetContext("doubled")
	require.True(t, ok)
	assert.Equal(t, []any{2, 4, 6}, normalizeInts(t, out))
}

func normalizeInts(t *testing.T, v any) []any {
	t.Helper()
	arr, ok := v.([]any)
	require.True(t, ok)
	out := make([]any, len(arr))
	for i, e := range arr {
		switch n := e.(type) {
		case int:
			out[i] = n
		case float64:
			out[i] = int(n)
		default:
			out[i] = e
		}
	}
	return out
}

func TestTransformMultipleOutputs(t *testing.T) {
	h := NewTransformHandler()

	res, err := h.Execute(context.Background(), stepWith("transform", map[string]any{
		"query": ".[]",
		"data":  []any{"x", "y"},
	}), testExec(nil))
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, res.Data)
}

func TestTransformRequiresQuery(t *testing.T) {
	h := NewTransformHandler()
	_, err := h.Execute(context.Background(), stepWith("transform", map[string]any{"data": 1}), testExec(nil))
	assert.Error(t, err)
}

func TestTransformBadQuery(t *testing.T) {
	h := NewTransformHandler()
	_, err := h.Execute(context.Background(), stepWith("transform", map[string]any{
		"query": ".[ oops",
		"data":  1,
	}), testExec(nil))
	assert.Error(t, err)
}
