package handlers

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// FSConfig configures the file_operation handler. When Root is non-empty,
// all paths must resolve inside it.
type FSConfig struct {
	Root string
}

// FileOperationHandler implements the "file_operation" handler:
// read, write, append and delete on local files.
type FileOperationHandler struct {
	config FSConfig
}

// NewFileOperationHandler creates a file_operation handler.
func NewFileOperationHandler(cfg FSConfig) *FileOperationHandler {
	return &FileOperationHandler{config: cfg}
}

func (h *FileOperationHandler) Name() string { return "file_operation" }

func (h *FileOperationHandler) Schema() HandlerSchema {
	return HandlerSchema{Description: "Read, write, append or delete a local file"}
}

func (h *FileOperationHandler) Execute(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
	operation := stringParam(step.Params, "operation", "")
	path := stringParam(step.Params, "file_path", "")
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "file_operation requires a file_path")
	}

	resolved, err := h.resolve(path)
	if err != nil {
		return nil, err
	}

	switch operation {
	case "read":
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "read %s: %s", path, err.Error()).WithCause(err)
		}
		return schema.Ok(string(data)), nil

	case "write":
		content := stringParam(step.Params, "content", "")
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "write %s: %s", path, err.Error()).WithCause(err)
		}
		if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "write %s: %s", path, err.Error()).WithCause(err)
		}
		return schema.Ok(len(content)), nil

	case "append":
		content := stringParam(step.Params, "content", "")
		f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "append %s: %s", path, err.Error()).WithCause(err)
		}
		defer f.Close()
		n, err := f.WriteString(content)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "append %s: %s", path, err.Error()).WithCause(err)
		}
		return schema.Ok(n), nil

	case "delete":
		if err := os.Remove(resolved); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "delete %s: %s", path, err.Error()).WithCause(err)
		}
		return schema.Ok(true), nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "file_operation: unknown operation %q", operation)
	}
}

// resolve applies the Root restriction when configured.
func (h *FileOperationHandler) resolve(path string) (string, error) {
	if h.config.Root == "" {
		return path, nil
	}
	resolved := filepath.Join(h.config.Root, path)
	cleaned := filepath.Clean(resolved)
	root := filepath.Clean(h.config.Root)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(os.PathSeparator)) {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "file_operation: path %q escapes root", path)
	}
	return cleaned, nil
}
