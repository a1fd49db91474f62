package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// WorkflowSpec is the input to CreateWorkflow. Zero values fall back to the
// schema defaults; AutoRetry is nil-defaulted to true.
type WorkflowSpec struct {
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	GlobalTimeout    int            `json:"global_timeout,omitempty"`
	MaxParallelSteps int            `json:"max_parallel_steps,omitempty"`
	AutoRetry        *bool          `json:"auto_retry,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// StepSpec is the input to AddStep. Zero timeout/retry_count fall back to
// the schema defaults; RetryDelay is nil-defaulted so an explicit zero
// (retry with no sleep) stays representable.
type StepSpec struct {
	Name         string         `json:"name"`
	Handler      string         `json:"handler"`
	Params       map[string]any `json:"params,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Timeout      int            `json:"timeout,omitempty"`
	RetryCount   int            `json:"retry_count,omitempty"`
	RetryDelay   *int           `json:"retry_delay,omitempty"`
	Condition    string         `json:"condition,omitempty"`
}

// CreateWorkflow builds an empty definition and registers it.
func (e *Engine) CreateWorkflow(spec WorkflowSpec) (string, error) {
	if spec.Name == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "workflow name is empty")
	}
	if spec.GlobalTimeout == 0 {
		spec.GlobalTimeout = schema.DefaultGlobalTimeout
	}
	if spec.GlobalTimeout < 0 {
		return "", schema.NewError(schema.ErrCodeValidation, "global_timeout must be positive")
	}
	if spec.MaxParallelSteps == 0 {
		spec.MaxParallelSteps = schema.DefaultMaxParallelSteps
	}
	if spec.MaxParallelSteps < 1 {
		return "", schema.NewError(schema.ErrCodeValidation, "max_parallel_steps must be >= 1")
	}
	autoRetry := true
	if spec.AutoRetry != nil {
		autoRetry = *spec.AutoRetry
	}

	def := &schema.WorkflowDefinition{
		ID:               uuid.NewString(),
		Name:             spec.Name,
		Description:      spec.Description,
		GlobalTimeout:    spec.GlobalTimeout,
		MaxParallelSteps: spec.MaxParallelSteps,
		AutoRetry:        autoRetry,
		Metadata:         spec.Metadata,
		CreatedAt:        time.Now().UTC(),
	}

	e.mu.Lock()
	e.workflows[def.ID] = def
	e.mu.Unlock()

	return def.ID, nil
}

// AddStep appends a step to a definition. Each dependency must reference a
// previously added step, which keeps the graph acyclic by construction.
// Fails once the definition is referenced by an execution.
func (e *Engine) AddStep(workflowID string, spec StepSpec) (string, error) {
	if spec.Handler == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "step handler is empty")
	}
	if spec.Timeout == 0 {
		spec.Timeout = schema.DefaultStepTimeout
	}
	if spec.Timeout < 0 {
		return "", schema.NewError(schema.ErrCodeValidation, "step timeout must be positive")
	}
	if spec.RetryCount == 0 {
		spec.RetryCount = schema.DefaultRetryCount
	}
	if spec.RetryCount < 1 {
		return "", schema.NewError(schema.ErrCodeValidation, "retry_count must be >= 1")
	}
	retryDelay := schema.DefaultRetryDelay
	if spec.RetryDelay != nil {
		retryDelay = *spec.RetryDelay
	}
	if retryDelay < 0 {
		return "", schema.NewError(schema.ErrCodeValidation, "retry_delay must be >= 0")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.workflows[workflowID]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "workflow not found: %s", workflowID)
	}
	if e.sealed[workflowID] {
		return "", schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s is referenced by an execution and is immutable", workflowID)
	}

	for _, dep := range spec.Dependencies {
		if def.Step(dep) == nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation,
				"dependency %q does not exist in workflow %s", dep, workflowID)
		}
	}

	step := &schema.WorkflowStep{
		ID:           uuid.NewString(),
		Name:         spec.Name,
		Handler:      spec.Handler,
		Params:       spec.Params,
		Dependencies: spec.Dependencies,
		Timeout:      spec.Timeout,
		RetryCount:   spec.RetryCount,
		RetryDelay:   retryDelay,
		Condition:    spec.Condition,
		Status:       schema.StepStatusPending,
	}
	if step.Name == "" {
		step.Name = step.Handler
	}
	if step.Params == nil {
		step.Params = make(map[string]any)
	}

	def.Steps = append(def.Steps, step)
	return step.ID, nil
}
