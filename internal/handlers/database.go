package handlers

import (
	"context"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// DatabaseOperationHandler implements the "database_operation" handler, a
// thin bridge to the external document store.
type DatabaseOperationHandler struct {
	store DocumentStore
}

// NewDatabaseOperationHandler creates a database_operation handler.
func NewDatabaseOperationHandler(s DocumentStore) *DatabaseOperationHandler {
	return &DatabaseOperationHandler{store: s}
}

func (h *DatabaseOperationHandler) Name() string { return "database_operation" }

func (h *DatabaseOperationHandler) Schema() HandlerSchema {
	return HandlerSchema{Description: "Find, insert, update or delete documents in a collection"}
}

func (h *DatabaseOperationHandler) Execute(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
	if h.store == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no document store configured")
	}

	operation := stringParam(step.Params, "operation", "")
	collection := stringParam(step.Params, "collection", "")
	if collection == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "database_operation requires a collection")
	}
	query := mapParam(step.Params, "query")
	data := mapParam(step.Params, "data")

	switch operation {
	case "find":
		docs, err := h.store.FindDocuments(ctx, collection, query)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "find in %s: %s", collection, err.Error()).WithCause(err)
		}
		return schema.Ok(docs), nil

	case "insert":
		if data == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "database_operation insert requires data")
		}
		id, err := h.store.InsertDocument(ctx, collection, data)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "insert into %s: %s", collection, err.Error()).WithCause(err)
		}
		return schema.Ok(id), nil

	case "update":
		if data == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "database_operation update requires data")
		}
		n, err := h.store.UpdateDocuments(ctx, collection, query, data)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "update %s: %s", collection, err.Error()).WithCause(err)
		}
		return schema.Ok(n), nil

	case "delete":
		n, err := h.store.DeleteDocuments(ctx, collection, query)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "delete from %s: %s", collection, err.Error()).WithCause(err)
		}
		return schema.Ok(n), nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "database_operation: unknown operation %q", operation)
	}
}
