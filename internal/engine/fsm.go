package engine

import (
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// ValidWorkflowTransitions defines the allowed state transitions for executions.
var ValidWorkflowTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusCreated:   {schema.WorkflowStatusRunning, schema.WorkflowStatusCancelled},
	schema.WorkflowStatusRunning:   {schema.WorkflowStatusPaused, schema.WorkflowStatusCompleted, schema.WorkflowStatusFailed, schema.WorkflowStatusCancelled},
	schema.WorkflowStatusPaused:    {schema.WorkflowStatusRunning, schema.WorkflowStatusCancelled, schema.WorkflowStatusFailed},
	schema.WorkflowStatusCompleted: {},
	schema.WorkflowStatusFailed:    {},
	schema.WorkflowStatusCancelled: {},
}

// ValidStepTransitions defines the allowed state transitions for steps.
// failed → retrying → running is only taken while attempts < retry_count.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning, schema.StepStatusSkipped, schema.StepStatusCancelled},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusCancelled, schema.StepStatusRetrying},
	schema.StepStatusRetrying:  {schema.StepStatusRunning, schema.StepStatusPending, schema.StepStatusFailed, schema.StepStatusCancelled},
	schema.StepStatusCompleted: {},
	schema.StepStatusFailed:    {schema.StepStatusRetrying},
	schema.StepStatusCancelled: {},
	schema.StepStatusSkipped:   {},
}

// ValidWorkflowTransition reports whether from → to is allowed for executions.
func ValidWorkflowTransition(from, to schema.WorkflowStatus) bool {
	for _, a := range ValidWorkflowTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// ValidStepTransition reports whether from → to is allowed for steps.
func ValidStepTransition(from, to schema.StepStatus) bool {
	for _, a := range ValidStepTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// TransitionWorkflow validates and applies an execution status transition.
func TransitionWorkflow(exec *schema.WorkflowExecution, to schema.WorkflowStatus) error {
	if !ValidWorkflowTransition(exec.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", exec.Status, to).
			WithDetails(map[string]any{"execution_id": exec.ID})
	}
	exec.Status = to
	return nil
}

// TransitionStep validates and applies a step status transition.
func TransitionStep(step *schema.WorkflowStep, to schema.StepStatus) error {
	if !ValidStepTransition(step.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", step.Status, to).
			WithStep(step.ID)
	}
	step.Status = to
	return nil
}

// TerminalStep reports whether a step status is final. Skipped counts as
// satisfied for dependency and progress purposes.
func TerminalStep(s schema.StepStatus) bool {
	switch s {
	case schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusCancelled, schema.StepStatusSkipped:
		return true
	}
	return false
}

// SatisfiedStep reports whether a step counts as done for downstream
// dependency checks and progress.
func SatisfiedStep(s schema.StepStatus) bool {
	return s == schema.StepStatusCompleted || s == schema.StepStatusSkipped
}
