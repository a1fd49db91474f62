package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stepflow-dev/stepflow/internal/conditions"
	"github.com/stepflow-dev/stepflow/internal/handlers"
	"github.com/stepflow-dev/stepflow/internal/logging"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// Engine owns workflow definitions and drives executions. One scheduler
// goroutine runs per live execution; the engine's own lock only guards the
// registries, never step state.
type Engine struct {
	registry    *handlers.Registry
	snapshotter *Snapshotter
	eval        *conditions.Evaluator
	logger      *slog.Logger

	mu         sync.RWMutex
	workflows  map[string]*schema.WorkflowDefinition
	executions map[string]*schema.WorkflowExecution
	runs       map[string]*executionRun
	sealed     map[string]bool
}

// executionRun tracks the live scheduler goroutine of one execution.
type executionRun struct {
	cancel context.CancelFunc
	done   chan struct{}
	pause  atomic.Bool
}

// EngineConfig wires the engine's collaborators. Store may be nil to
// disable snapshot persistence.
type EngineConfig struct {
	Registry  *handlers.Registry
	Store     SnapshotStore
	Evaluator *conditions.Evaluator
	Logger    *slog.Logger
}

// NewEngine builds an engine with empty workflow and execution registries.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Registry == nil {
		cfg.Registry = handlers.NewRegistry()
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = conditions.NewEvaluator()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		registry:    cfg.Registry,
		snapshotter: NewSnapshotter(cfg.Store, cfg.Logger),
		eval:        cfg.Evaluator,
		logger:      cfg.Logger,
		workflows:   make(map[string]*schema.WorkflowDefinition),
		executions:  make(map[string]*schema.WorkflowExecution),
		runs:        make(map[string]*executionRun),
		sealed:      make(map[string]bool),
	}
}

// Registry exposes the handler registry for wiring built-ins.
func (e *Engine) Registry() *handlers.Registry { return e.registry }

// ExecuteOptions carries the chat-origin metadata of an execution.
type ExecuteOptions struct {
	UserID    string
	ChatID    string
	MessageID string
}

// ExecuteWorkflow starts a new execution of a definition with the given
// initial context and returns its id. The definition is sealed against
// further AddStep calls from this point on.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, initial map[string]any, opts *ExecuteOptions) (string, error) {
	e.mu.Lock()
	def, ok := e.workflows[workflowID]
	if !ok {
		e.mu.Unlock()
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "workflow not found: %s", workflowID)
	}
	e.sealed[workflowID] = true

	exec := schema.NewExecution(uuid.NewString(), def, initial)
	if opts != nil {
		exec.UserID = opts.UserID
		exec.ChatID = opts.ChatID
		exec.MessageID = opts.MessageID
	}
	now := time.Now().UTC()
	exec.StartedAt = &now
	_ = TransitionWorkflow(exec, schema.WorkflowStatusRunning)
	e.executions[exec.ID] = exec

	e.launchLocked(exec, def.GlobalTimeout)
	e.mu.Unlock()

	e.logger.InfoContext(logging.WithExecutionID(ctx, exec.ID), "execution started",
		slog.String("workflow_id", workflowID),
		slog.Int("steps", len(exec.Steps)))
	return exec.ID, nil
}

// launchLocked registers a run and starts its scheduler goroutine.
// Caller holds e.mu.
func (e *Engine) launchLocked(exec *schema.WorkflowExecution, timeoutSeconds int) {
	base := logging.WithExecutionID(context.Background(), exec.ID)
	base = logging.WithWorkflowID(base, exec.WorkflowID)
	runCtx, cancel := context.WithTimeout(base, time.Duration(timeoutSeconds)*time.Second)

	run := &executionRun{cancel: cancel, done: make(chan struct{})}
	e.runs[exec.ID] = run

	go func() {
		defer cancel()
		e.runLoop(runCtx, run, exec)
		e.mu.Lock()
		delete(e.runs, exec.ID)
		e.mu.Unlock()
		close(run.done)
	}()
}

// PauseExecution asks a running execution to stop dispatching new steps.
// In-flight steps run to completion before the status flips to paused.
func (e *Engine) PauseExecution(executionID string) error {
	e.mu.RLock()
	exec, ok := e.executions[executionID]
	run := e.runs[executionID]
	e.mu.RUnlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", executionID)
	}
	if exec.Status != schema.WorkflowStatusRunning || run == nil {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot pause execution in status %s", exec.Status)
	}
	run.pause.Store(true)
	return nil
}

// ResumeExecution restarts the scheduler of a paused execution. The global
// timeout continues from the original start: only the remaining budget is
// granted to the resumed run.
func (e *Engine) ResumeExecution(executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.executions[executionID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", executionID)
	}
	if exec.Status != schema.WorkflowStatusPaused {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot resume execution in status %s", exec.Status)
	}

	remaining := exec.Definition.GlobalTimeout
	if exec.StartedAt != nil {
		elapsed := int(time.Since(*exec.StartedAt).Seconds())
		remaining -= elapsed
	}
	if remaining <= 0 {
		e.finishTimedOut(exec)
		return nil
	}

	exec.Mutate(func() { _ = TransitionWorkflow(exec, schema.WorkflowStatusRunning) })
	e.launchLocked(exec, remaining)
	return nil
}

// CancelExecution cancels a running or paused execution. For running
// executions cancellation is asynchronous: in-flight steps are interrupted
// and the status flips once the scheduler drains. Paused executions are
// cancelled immediately.
func (e *Engine) CancelExecution(executionID string) error {
	e.mu.Lock()
	exec, ok := e.executions[executionID]
	run := e.runs[executionID]
	e.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", executionID)
	}

	if run != nil {
		run.cancel()
		return nil
	}

	if exec.Status != schema.WorkflowStatusPaused {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot cancel execution in status %s", exec.Status)
	}
	now := time.Now().UTC()
	exec.Mutate(func() {
		_ = TransitionWorkflow(exec, schema.WorkflowStatusCancelled)
		exec.CompletedAt = &now
		for _, s := range exec.Steps {
			if !TerminalStep(s.Status) && s.Status != schema.StepStatusRunning {
				s.Status = schema.StepStatusCancelled
			}
		}
	})
	e.snapshotter.Snapshot(context.Background(), exec)
	return nil
}

// finishTimedOut marks a paused execution failed because its global budget
// ran out before resume. Caller holds e.mu.
func (e *Engine) finishTimedOut(exec *schema.WorkflowExecution) {
	now := time.Now().UTC()
	exec.Mutate(func() {
		_ = TransitionWorkflow(exec, schema.WorkflowStatusFailed)
		exec.CompletedAt = &now
		for _, s := range exec.Steps {
			if !TerminalStep(s.Status) {
				s.Status = schema.StepStatusCancelled
			}
		}
	})
	e.snapshotter.Snapshot(context.Background(), exec)
	e.logger.Warn("execution exceeded global timeout while paused",
		slog.String("execution_id", exec.ID))
}

// GetWorkflow returns a definition by id.
func (e *Engine) GetWorkflow(workflowID string) (*schema.WorkflowDefinition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.workflows[workflowID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow not found: %s", workflowID)
	}
	return def, nil
}

// GetExecution returns an execution by id.
func (e *Engine) GetExecution(executionID string) (*schema.WorkflowExecution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[executionID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", executionID)
	}
	return exec, nil
}

// ListWorkflows returns all definitions ordered by creation time.
func (e *Engine) ListWorkflows() []*schema.WorkflowDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*schema.WorkflowDefinition, 0, len(e.workflows))
	for _, def := range e.workflows {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListExecutions returns executions, optionally filtered by status. An
// unknown status value is a validation error rather than an empty result.
func (e *Engine) ListExecutions(status string) ([]*schema.WorkflowExecution, error) {
	if status != "" {
		switch schema.WorkflowStatus(status) {
		case schema.WorkflowStatusCreated, schema.WorkflowStatusRunning, schema.WorkflowStatusPaused,
			schema.WorkflowStatusCompleted, schema.WorkflowStatusFailed, schema.WorkflowStatusCancelled:
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown execution status: %s", status)
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*schema.WorkflowExecution, 0, len(e.executions))
	for _, exec := range e.executions {
		if status != "" && string(exec.Status) != status {
			continue
		}
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].StartedAt, out[j].StartedAt
		if ti == nil || tj == nil {
			return out[i].ID < out[j].ID
		}
		return ti.Before(*tj)
	})
	return out, nil
}

// WaitExecution blocks until the execution's scheduler goroutine exits or
// the context is cancelled. Returns immediately when no run is live.
func (e *Engine) WaitExecution(ctx context.Context, executionID string) error {
	e.mu.RLock()
	run := e.runs[executionID]
	e.mu.RUnlock()
	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
