package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// runLoop is the per-execution scheduler. It dispatches ready steps up to
// the parallelism bound, incorporates outcomes one at a time, and owns the
// execution's terminal transition. Exactly one runLoop exists per live
// execution.
func (e *Engine) runLoop(ctx context.Context, run *executionRun, exec *schema.WorkflowExecution) {
	outcomes := make(chan stepOutcome, len(exec.Steps)+1)
	running := make(map[string]*schema.WorkflowStep)
	var failure *schema.WorkflowStep

	for {
		if ctx.Err() == nil && !run.pause.Load() {
			e.dispatchReady(ctx, exec, running, outcomes)
		}

		if len(running) == 0 {
			switch {
			case ctx.Err() != nil || failure != nil:
				e.finishInterrupted(ctx, exec, failure)
				return
			case run.pause.Load() && !e.allStepsTerminal(exec):
				e.finishPaused(exec)
				return
			default:
				e.finishCompleted(exec)
				return
			}
		}

		select {
		case out := <-outcomes:
			step := running[out.stepID]
			delete(running, out.stepID)
			switch {
			case out.result.Success:
				e.completeStep(ctx, exec, step, out.result)
			case ctx.Err() != nil:
				e.cancelStep(exec, step, out.result)
			default:
				e.failStep(ctx, exec, step, out.result)
				if failure == nil {
					failure = step
					run.cancel()
				}
			}
		case <-ctx.Done():
			// Drain in-flight steps; attempt contexts are children of ctx
			// so they return promptly.
			for len(running) > 0 {
				out := <-outcomes
				step := running[out.stepID]
				delete(running, out.stepID)
				e.cancelStep(exec, step, out.result)
			}
		}
	}
}

// dispatchReady starts every pending step whose dependencies are satisfied,
// bounded by max_parallel_steps. Steps whose condition evaluates false (or
// errors) are skipped in place, which may unlock further steps, so the scan
// repeats until a fixpoint.
func (e *Engine) dispatchReady(ctx context.Context, exec *schema.WorkflowExecution, running map[string]*schema.WorkflowStep, outcomes chan<- stepOutcome) {
	max := exec.Definition.MaxParallelSteps
	for {
		progressed := false
		for _, step := range exec.Steps {
			if len(running) >= max {
				return
			}
			ready := false
			exec.Read(func() {
				ready = step.Status == schema.StepStatusPending && depsSatisfiedLocked(exec, step)
			})
			if !ready {
				continue
			}

			if step.Condition != "" {
				ok, err := e.eval.Evaluate(step.Condition, exec.ContextSnapshot())
				if err != nil {
					e.logger.WarnContext(ctx, "condition evaluation failed, skipping step",
						slog.String("step_id", step.ID),
						slog.String("condition", step.Condition),
						slog.String("error", err.Error()))
					ok = false
				}
				if !ok {
					e.skipStep(ctx, exec, step)
					progressed = true
					continue
				}
			}

			now := time.Now().UTC()
			exec.Mutate(func() {
				_ = TransitionStep(step, schema.StepStatusRunning)
				step.StartedAt = &now
				exec.CurrentStep = step.ID
			})
			e.snapshotter.Snapshot(ctx, exec)
			e.logger.InfoContext(ctx, "step dispatched",
				slog.String("step_id", step.ID),
				slog.String("handler", step.Handler))

			running[step.ID] = step
			go e.runStep(ctx, exec, step, outcomes)
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

// depsSatisfiedLocked reports whether every dependency of the step is
// completed or skipped. Caller holds the execution lock: runner goroutines
// flip their step between running and retrying while the scan runs.
func depsSatisfiedLocked(exec *schema.WorkflowExecution, step *schema.WorkflowStep) bool {
	for _, dep := range step.Dependencies {
		d := exec.Step(dep)
		if d == nil || !SatisfiedStep(d.Status) {
			return false
		}
	}
	return true
}

func (e *Engine) skipStep(ctx context.Context, exec *schema.WorkflowExecution, step *schema.WorkflowStep) {
	now := time.Now().UTC()
	exec.Mutate(func() {
		_ = TransitionStep(step, schema.StepStatusSkipped)
		step.CompletedAt = &now
		exec.Progress = e.progressLocked(exec)
	})
	e.snapshotter.Snapshot(ctx, exec)
	e.logger.InfoContext(ctx, "step skipped, condition not met",
		slog.String("step_id", step.ID),
		slog.String("condition", step.Condition))
}

func (e *Engine) completeStep(ctx context.Context, exec *schema.WorkflowExecution, step *schema.WorkflowStep, result *schema.StepResult) {
	now := time.Now().UTC()
	exec.Mutate(func() {
		_ = TransitionStep(step, schema.StepStatusCompleted)
		step.Result = result
		step.CompletedAt = &now
		exec.Progress = e.progressLocked(exec)
	})
	e.snapshotter.Snapshot(ctx, exec)
	e.logger.InfoContext(ctx, "step completed",
		slog.String("step_id", step.ID),
		slog.Float64("execution_time", result.ExecutionTime))
}

func (e *Engine) failStep(ctx context.Context, exec *schema.WorkflowExecution, step *schema.WorkflowStep, result *schema.StepResult) {
	now := time.Now().UTC()
	exec.Mutate(func() {
		_ = TransitionStep(step, schema.StepStatusFailed)
		step.Result = result
		step.CompletedAt = &now
	})
	e.snapshotter.Snapshot(ctx, exec)
	e.logger.ErrorContext(ctx, "step failed",
		slog.String("step_id", step.ID),
		slog.Int("attempts", step.Attempts),
		slog.String("error", result.Error))
}

func (e *Engine) cancelStep(exec *schema.WorkflowExecution, step *schema.WorkflowStep, result *schema.StepResult) {
	now := time.Now().UTC()
	exec.Mutate(func() {
		_ = TransitionStep(step, schema.StepStatusCancelled)
		step.Result = result
		step.CompletedAt = &now
	})
}

// finishCompleted closes out an execution whose steps all reached a
// satisfied state. An execution with no steps completes immediately with
// full progress.
func (e *Engine) finishCompleted(exec *schema.WorkflowExecution) {
	now := time.Now().UTC()
	exec.Mutate(func() {
		_ = TransitionWorkflow(exec, schema.WorkflowStatusCompleted)
		exec.CompletedAt = &now
		exec.CurrentStep = ""
		exec.Progress = e.progressLocked(exec)
	})
	e.snapshotter.Snapshot(context.Background(), exec)
	e.logger.Info("execution completed",
		slog.String("execution_id", exec.ID),
		slog.Float64("progress", exec.Progress))
}

// finishInterrupted closes out an execution after a step failure, a global
// timeout, or a cancel request. Remaining pending steps are cancelled.
func (e *Engine) finishInterrupted(ctx context.Context, exec *schema.WorkflowExecution, failure *schema.WorkflowStep) {
	status := schema.WorkflowStatusCancelled
	reason := "cancelled"
	switch {
	case failure != nil:
		status = schema.WorkflowStatusFailed
		reason = "step failed: " + failure.ID
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = schema.WorkflowStatusFailed
		reason = "global timeout exceeded"
	}

	now := time.Now().UTC()
	exec.Mutate(func() {
		_ = TransitionWorkflow(exec, status)
		exec.CompletedAt = &now
		exec.CurrentStep = ""
		for _, s := range exec.Steps {
			if !TerminalStep(s.Status) {
				s.Status = schema.StepStatusCancelled
			}
		}
		exec.Progress = e.progressLocked(exec)
	})
	e.snapshotter.Snapshot(context.Background(), exec)
	e.logger.Warn("execution finished early",
		slog.String("execution_id", exec.ID),
		slog.String("status", string(status)),
		slog.String("reason", reason))
}

// finishPaused parks the execution after in-flight steps drained.
func (e *Engine) finishPaused(exec *schema.WorkflowExecution) {
	exec.Mutate(func() {
		_ = TransitionWorkflow(exec, schema.WorkflowStatusPaused)
		exec.CurrentStep = ""
	})
	e.snapshotter.Snapshot(context.Background(), exec)
	e.logger.Info("execution paused", slog.String("execution_id", exec.ID))
}

func (e *Engine) allStepsTerminal(exec *schema.WorkflowExecution) bool {
	for _, s := range exec.Steps {
		if !TerminalStep(s.Status) {
			return false
		}
	}
	return true
}

// progressLocked computes satisfied/total as a percentage. Caller holds the
// execution lock via Mutate.
func (e *Engine) progressLocked(exec *schema.WorkflowExecution) float64 {
	if len(exec.Steps) == 0 {
		return 100
	}
	satisfied := 0
	for _, s := range exec.Steps {
		if SatisfiedStep(s.Status) {
			satisfied++
		}
	}
	return float64(satisfied) / float64(len(exec.Steps)) * 100
}
