package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileOperationLifecycle(t *testing.T) {
	root := t.TempDir()
	h := NewFileOperationHandler(FSConfig{Root: root})
	ctx := context.Background()

	res, err := h.Execute(ctx, stepWith("file_operation", map[string]any{
		"operation": "write", "file_path": "notes/report.txt", "content": "hello",
	}), testExec(nil))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Data)

	res, err = h.Execute(ctx, stepWith("file_operation", map[string]any{
		"operation": "append", "file_path": "notes/report.txt", "content": " world",
	}), testExec(nil))
	require.NoError(t, err)
	assert.Equal(t, 6, res.Data)

	res, err = h.Execute(ctx, stepWith("file_operation", map[string]any{
		"operation": "read", "file_path": "notes/report.txt",
	}), testExec(nil))
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Data)

	_, err = h.Execute(ctx, stepWith("file_operation", map[string]any{
		"operation": "delete", "file_path": "notes/report.txt",
	}), testExec(nil))
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(root, "notes", "report.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileOperationRootEscape(t *testing.T) {
	h := NewFileOperationHandler(FSConfig{Root: t.TempDir()})

	_, err := h.Execute(context.Background(), stepWith("file_operation", map[string]any{
		"operation": "read", "file_path": "../../etc/passwd",
	}), testExec(nil))
	assert.Error(t, err)
}

func TestFileOperationUnknownOp(t *testing.T) {
	h := NewFileOperationHandler(FSConfig{Root: t.TempDir()})
	_, err := h.Execute(context.Background(), stepWith("file_operation", map[string]any{
		"operation": "truncate", "file_path": "x",
	}), testExec(nil))
	assert.Error(t, err)
}

func TestFileOperationRequiresPath(t *testing.T) {
	h := NewFileOperationHandler(FSConfig{})
	_, err := h.Execute(context.Background(), stepWith("file_operation", map[string]any{
		"operation": "read",
	}), testExec(nil))
	assert.Error(t, err)
}
