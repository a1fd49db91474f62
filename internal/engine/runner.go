package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stepflow-dev/stepflow/internal/logging"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// stepOutcome is what a step runner reports back to the scheduler loop.
type stepOutcome struct {
	stepID string
	result *schema.StepResult
}

type handlerReturn struct {
	result *schema.StepResult
	err    error
}

// runStep executes one step end-to-end, including the retry loop, and
// reports the final result on the outcomes channel.
func (e *Engine) runStep(ctx context.Context, exec *schema.WorkflowExecution, step *schema.WorkflowStep, outcomes chan<- stepOutcome) {
	ctx = logging.WithStepID(ctx, step.ID)
	result := e.executeWithRetry(ctx, exec, step)
	outcomes <- stepOutcome{stepID: step.ID, result: result}
}

// executeWithRetry runs attempts until success, exhaustion, or cancellation.
// Retries happen iff the definition's auto_retry flag is set and attempts
// remain; each attempt is bounded by the step timeout.
func (e *Engine) executeWithRetry(ctx context.Context, exec *schema.WorkflowExecution, step *schema.WorkflowStep) *schema.StepResult {
	handler, err := e.registry.Lookup(step.Handler)
	if err != nil {
		// Unknown handler burns the attempt but is not retryable.
		exec.Mutate(func() { step.Attempts++ })
		return &schema.StepResult{Success: false, Error: fmt.Sprintf("handler %s not found", step.Handler)}
	}

	autoRetry := exec.Definition.AutoRetry

	for {
		exec.Mutate(func() { step.Attempts++ })
		result := e.runAttempt(ctx, exec, step, handler)

		if result.Success || ctx.Err() != nil {
			return result
		}

		if !autoRetry || step.Attempts >= step.RetryCount {
			return result
		}

		e.logger.WarnContext(ctx, "step attempt failed, retrying",
			slog.Int("attempt", step.Attempts),
			slog.Int("retry_count", step.RetryCount),
			slog.String("error", result.Error))

		e.markStepRetrying(exec, step)
		if err := WaitForRetryDelay(ctx, step.RetryDelay); err != nil {
			return result
		}
		e.markStepRunning(exec, step)
	}
}

// runAttempt invokes the handler once under the step deadline, recovering
// panics and normalizing the return into a StepResult.
func (e *Engine) runAttempt(ctx context.Context, exec *schema.WorkflowExecution, step *schema.WorkflowStep, handler stepHandler) *schema.StepResult {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(step.Timeout)*time.Second)
	defer cancel()

	started := time.Now()
	resCh := make(chan handlerReturn, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- handlerReturn{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, err := handler.Execute(attemptCtx, step, exec)
		resCh <- handlerReturn{result: res, err: err}
	}()

	var result *schema.StepResult
	select {
	case r := <-resCh:
		switch {
		case r.err != nil:
			if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
				result = timeoutResult(step)
			} else {
				result = schema.Fail(r.err)
			}
		case r.result != nil:
			result = r.result
		default:
			result = schema.Ok(nil)
		}
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			result = &schema.StepResult{Success: false, Error: "execution cancelled"}
		} else {
			result = timeoutResult(step)
		}
	}

	result.ExecutionTime = time.Since(started).Seconds()
	return result
}

func timeoutResult(step *schema.WorkflowStep) *schema.StepResult {
	return &schema.StepResult{
		Success: false,
		Error:   fmt.Sprintf("Step timeout after %d seconds", step.Timeout),
	}
}

// stepHandler is the slice of the handler contract the runner needs.
type stepHandler interface {
	Execute(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error)
}

func (e *Engine) markStepRetrying(exec *schema.WorkflowExecution, step *schema.WorkflowStep) {
	exec.Mutate(func() { _ = TransitionStep(step, schema.StepStatusRetrying) })
	e.snapshotter.Snapshot(context.Background(), exec)
}

func (e *Engine) markStepRunning(exec *schema.WorkflowExecution, step *schema.WorkflowStep) {
	exec.Mutate(func() { _ = TransitionStep(step, schema.StepStatusRunning) })
	e.snapshotter.Snapshot(context.Background(), exec)
}
