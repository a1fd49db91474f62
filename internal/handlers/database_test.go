package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/internal/store"
)

func TestDatabaseOperationLifecycle(t *testing.T) {
	h := NewDatabaseOperationHandler(store.NewMemoryStore())
	ctx := context.Background()

	res, err := h.Execute(ctx, stepWith("database_operation", map[string]any{
		"operation":  "insert",
		"collection": "tasks",
		"data":       map[string]any{"title": "ship it", "done": false},
	}), testExec(nil))
	require.NoError(t, err)
	id, ok := res.Data.(string)
	require.True(t, ok)
	assert.NotEmpty(t, id)

	res, err = h.Execute(ctx, stepWith("database_operation", map[string]any{
		"operation":  "find",
		"collection": "tasks",
		"query":      map[string]any{"done": false},
	}), testExec(nil))
	require.NoError(t, err)
	docs := res.Data.([]map[string]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "ship it", docs[0]["title"])

	res, err = h.Execute(ctx, stepWith("database_operation", map[string]any{
		"operation":  "update",
		"collection": "tasks",
		"query":      map[string]any{"title": "ship it"},
		"data":       map[string]any{"done": true},
	}), testExec(nil))
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Data)

	res, err = h.Execute(ctx, stepWith("database_operation", map[string]any{
		"operation":  "delete",
		"collection": "tasks",
		"query":      map[string]any{"done": true},
	}), testExec(nil))
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Data)
}

func TestDatabaseOperationValidation(t *testing.T) {
	h := NewDatabaseOperationHandler(store.NewMemoryStore())
	ctx := context.Background()

	_, err := h.Execute(ctx, stepWith("database_operation", map[string]any{
		"operation": "find",
	}), testExec(nil))
	assert.Error(t, err, "missing collection")

	_, err = h.Execute(ctx, stepWith("database_operation", map[string]any{
		"operation": "insert", "collection": "c",
	}), testExec(nil))
	assert.Error(t, err, "missing data")

	_, err = h.Execute(ctx, stepWith("database_operation", map[string]any{
		"operation": "merge", "collection": "c",
	}), testExec(nil))
	assert.Error(t, err, "unknown operation")
}

func TestDatabaseOperationNoStore(t *testing.T) {
	h := NewDatabaseOperationHandler(nil)
	_, err := h.Execute(context.Background(), stepWith("database_operation", map[string]any{
		"operation": "find", "collection": "c",
	}), testExec(nil))
	assert.Error(t, err)
}
