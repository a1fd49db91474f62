package handlers

import (
	"context"
	"encoding/json"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// Handler implements the work of one step kind. Handlers may mutate the
// execution context and perform external I/O. They report failure either by
// returning a StepResult with Success=false or by returning an error; the
// runner treats both identically.
type Handler interface {
	Name() string
	Schema() HandlerSchema
	Execute(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error)
}

// HandlerSchema describes a handler's contract for listing and validation.
type HandlerSchema struct {
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Notifier publishes messages to the chat frontend that triggered a
// workflow. Implementations live outside the engine.
type Notifier interface {
	// Send delivers text to a chat and returns the provider message id.
	Send(ctx context.Context, chatID, text string) (string, error)
}

// DocumentStore is the thin bridge the database_operation handler needs.
// Satisfied by the store implementations.
type DocumentStore interface {
	FindDocuments(ctx context.Context, collection string, query map[string]any) ([]map[string]any, error)
	InsertDocument(ctx context.Context, collection string, doc map[string]any) (string, error)
	UpdateDocuments(ctx context.Context, collection string, query, data map[string]any) (int64, error)
	DeleteDocuments(ctx context.Context, collection string, query map[string]any) (int64, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	name        string
	description string
	fn          func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error)
}

// NewHandlerFunc wraps fn as a named Handler.
func NewHandlerFunc(name, description string, fn func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error)) *HandlerFunc {
	return &HandlerFunc{name: name, description: description, fn: fn}
}

func (h *HandlerFunc) Name() string { return h.name }

func (h *HandlerFunc) Schema() HandlerSchema {
	return HandlerSchema{Description: h.description}
}

func (h *HandlerFunc) Execute(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
	return h.fn(ctx, step, exec)
}
