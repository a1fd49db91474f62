package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateComparisons(t *testing.T) {
	eval := NewEvaluator()
	ctx := map[string]any{
		"count":  5,
		"name":   "alice",
		"done":   true,
		"ratio":  0.5,
		"status": "active",
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`context.count == 5`, true},
		{`context.count != 5`, false},
		{`context.count > 3`, true},
		{`context.count >= 5`, true},
		{`context.count < 3`, false},
		{`context.count <= 4`, false},
		{`context.name == "alice"`, true},
		{`context.done == true`, true},
		{`context.ratio < 1`, true},
		{`context.status == "active" and context.count > 1`, true},
		{`context.status == "inactive" or context.done`, true},
		{`not context.done`, false},
		{`!(context.count == 5)`, false},
		{`context.done && context.count == 5`, true},
		{`(context.count > 10) || (context.name == "alice")`, true},
		{`context.missing == null`, true},
		{`context.missing != null`, false},
	}

	for _, tc := range cases {
		got, err := eval.Evaluate(tc.expr, ctx)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvaluateRejectsOutsideGrammar(t *testing.T) {
	eval := NewEvaluator()
	ctx := map[string]any{"x": 1}

	rejected := []string{
		``,
		`1 + 1 == 2`,
		`len(context.x) > 0`,
		`foo == 1`,
		`context.x.y == 1`,
		`context["x"] == 1`,
		`context.x ** 2 == 1`,
		`[1, 2, 3]`,
	}

	for _, expr := range rejected {
		_, err := eval.Evaluate(expr, ctx)
		assert.Error(t, err, expr)
	}
}

func TestEvaluateNonBooleanResult(t *testing.T) {
	eval := NewEvaluator()
	_, err := eval.Evaluate(`context.x`, map[string]any{"x": 42})
	assert.Error(t, err)
}

func TestEvaluateNilContext(t *testing.T) {
	eval := NewEvaluator()
	got, err := eval.Evaluate(`context.anything == null`, nil)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(`context.run == true`))
	assert.Error(t, Validate(`exec("rm -rf /")`))
	assert.Error(t, Validate(`)(`))
}

func TestCompileCacheReuse(t *testing.T) {
	eval := NewEvaluator()
	for i := 0; i < 3; i++ {
		got, err := eval.Evaluate(`context.n > 2`, map[string]any{"n": i})
		require.NoError(t, err)
		assert.Equal(t, i > 2, got)
	}
}
