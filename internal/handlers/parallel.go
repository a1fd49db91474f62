package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// ParallelGroupHandler implements the "parallel_group" handler: runs the
// listed sub-tasks concurrently and succeeds iff all of them succeed.
type ParallelGroupHandler struct {
	registry *Registry
}

// NewParallelGroupHandler creates a parallel_group handler that resolves
// sub-task handlers through the registry.
func NewParallelGroupHandler(reg *Registry) *ParallelGroupHandler {
	return &ParallelGroupHandler{registry: reg}
}

func (h *ParallelGroupHandler) Name() string { return "parallel_group" }

func (h *ParallelGroupHandler) Schema() HandlerSchema {
	return HandlerSchema{Description: "Run a list of sub-tasks concurrently; success iff all succeed"}
}

func (h *ParallelGroupHandler) Execute(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
	rawTasks, ok := step.Params["tasks"].([]any)
	if !ok || len(rawTasks) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "parallel_group requires a non-empty tasks list")
	}

	type taskSpec struct {
		name    string
		handler Handler
		params  map[string]any
	}

	specs := make([]taskSpec, 0, len(rawTasks))
	for i, raw := range rawTasks {
		task, ok := raw.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "parallel_group: task %d is not an object", i)
		}
		handlerName := stringParam(task, "handler", "")
		handler, err := h.registry.Lookup(handlerName)
		if err != nil {
			return nil, err
		}
		name := stringParam(task, "name", fmt.Sprintf("task_%d", i))
		specs = append(specs, taskSpec{name: name, handler: handler, params: mapParam(task, "params")})
	}

	results := make([]*schema.StepResult, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec taskSpec) {
			defer wg.Done()
			subStep := &schema.WorkflowStep{
				ID:      step.ID + "/" + spec.name,
				Name:    spec.name,
				Handler: spec.handler.Name(),
				Params:  spec.params,
			}
			res, err := spec.handler.Execute(ctx, subStep, exec)
			if err != nil {
				res = schema.Fail(err)
			}
			if res == nil {
				res = schema.Ok(nil)
			}
			results[i] = res
		}(i, spec)
	}
	wg.Wait()

	data := make(map[string]any, len(specs))
	allOK := true
	var firstErr string
	for i, spec := range specs {
		data[spec.name] = results[i]
		if !results[i].Success {
			allOK = false
			if firstErr == "" {
				firstErr = fmt.Sprintf("task %s: %s", spec.name, results[i].Error)
			}
		}
	}

	if !allOK {
		return &schema.StepResult{Success: false, Data: data, Error: firstErr}, nil
	}
	return schema.Ok(data), nil
}
