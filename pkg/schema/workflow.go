package schema

import (
	"sync"
	"time"
)

// StepStatus enumerates the lifecycle states of a single step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusCancelled StepStatus = "cancelled"
	StepStatusRetrying  StepStatus = "retrying"
	// StepStatusSkipped marks a dependency-satisfied step whose condition
	// evaluated false at dispatch. Counts as satisfied for downstream steps.
	StepStatusSkipped StepStatus = "skipped"
)

// WorkflowStatus enumerates the lifecycle states of an execution.
type WorkflowStatus string

const (
	WorkflowStatusCreated   WorkflowStatus = "created"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// Defaults applied by the builder when a step omits a field.
const (
	DefaultStepTimeout      = 300 // seconds
	DefaultRetryCount       = 3
	DefaultRetryDelay       = 5    // seconds
	DefaultGlobalTimeout    = 3600 // seconds
	DefaultMaxParallelSteps = 3
)

// StepResult is the envelope returned by handlers. Data is opaque to the
// engine but must be JSON-serializable for snapshotting.
type StepResult struct {
	Success       bool           `json:"success"`
	Data          any            `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime float64        `json:"execution_time"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Ok wraps a bare value as a successful result.
func Ok(data any) *StepResult {
	return &StepResult{Success: true, Data: data}
}

// Fail builds a failed result with a formatted error string.
func Fail(err error) *StepResult {
	if err == nil {
		return &StepResult{Success: false, Error: "unknown error"}
	}
	return &StepResult{Success: false, Error: err.Error()}
}

// WorkflowStep is a step definition plus its per-execution mutable state.
// The definition fields are immutable once the owning definition is built;
// executions operate on clones.
type WorkflowStep struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Handler      string         `json:"handler"`
	Params       map[string]any `json:"params,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Timeout      int            `json:"timeout"`     // seconds
	RetryCount   int            `json:"retry_count"` // max attempts including the first
	RetryDelay   int            `json:"retry_delay"` // seconds between attempts
	Condition    string         `json:"condition,omitempty"`

	// Mutable per-execution state.
	Status      StepStatus  `json:"status"`
	Result      *StepResult `json:"result,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Attempts    int         `json:"attempts"`
}

// Clone returns a deep-enough copy of the step for a fresh execution:
// definition fields are shared-by-value, mutable state is reset.
func (s *WorkflowStep) Clone() *WorkflowStep {
	params := make(map[string]any, len(s.Params))
	for k, v := range s.Params {
		params[k] = v
	}
	deps := make([]string, len(s.Dependencies))
	copy(deps, s.Dependencies)
	return &WorkflowStep{
		ID:           s.ID,
		Name:         s.Name,
		Handler:      s.Handler,
		Params:       params,
		Dependencies: deps,
		Timeout:      s.Timeout,
		RetryCount:   s.RetryCount,
		RetryDelay:   s.RetryDelay,
		Condition:    s.Condition,
		Status:       StepStatusPending,
	}
}

// WorkflowDefinition is an immutable workflow template. Once an execution
// references it, it must not be mutated.
type WorkflowDefinition struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Steps            []*WorkflowStep `json:"steps"`
	GlobalTimeout    int             `json:"global_timeout"` // seconds, caps execution wall time
	MaxParallelSteps int             `json:"max_parallel_steps"`
	AutoRetry        bool            `json:"auto_retry"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Step returns the step with the given id, or nil.
func (d *WorkflowDefinition) Step(id string) *WorkflowStep {
	for _, s := range d.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// WorkflowExecution is a live or finished run of a definition against a
// context. Context access is serialized through the execution's mutex; the
// engine guarantees that a step's context writes are visible to steps
// dispatched after it completes.
type WorkflowExecution struct {
	ID          string              `json:"id"`
	WorkflowID  string              `json:"workflow_id"`
	Definition  *WorkflowDefinition `json:"-"`
	Status      WorkflowStatus      `json:"status"`
	CurrentStep string              `json:"current_step,omitempty"`
	Steps       []*WorkflowStep     `json:"steps"`
	Context     map[string]any      `json:"context"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	UserID      string              `json:"user_id,omitempty"`
	ChatID      string              `json:"chat_id,omitempty"`
	MessageID   string              `json:"message_id,omitempty"`
	Progress    float64             `json:"progress"`

	mu sync.RWMutex
}

// NewExecution creates an execution bound to a definition, cloning its steps.
func NewExecution(id string, def *WorkflowDefinition, context map[string]any) *WorkflowExecution {
	steps := make([]*WorkflowStep, len(def.Steps))
	for i, s := range def.Steps {
		steps[i] = s.Clone()
	}
	if context == nil {
		context = make(map[string]any)
	}
	return &WorkflowExecution{
		ID:         id,
		WorkflowID: def.ID,
		Definition: def,
		Status:     WorkflowStatusCreated,
		Steps:      steps,
		Context:    context,
	}
}

// Step returns the execution's step with the given id, or nil.
func (e *WorkflowExecution) Step(id string) *WorkflowStep {
	for _, s := range e.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// SetContext stores a value under key. Last writer wins.
func (e *WorkflowExecution) SetContext(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Context[key] = value
}

// GetContext reads a value by key.
func (e *WorkflowExecution) GetContext(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.Context[key]
	return v, ok
}

// Mutate runs fn while holding the execution lock. All writes to step
// state outside the scheduler goroutine go through here so snapshots never
// observe torn updates.
func (e *WorkflowExecution) Mutate(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// Read runs fn while holding the execution lock for reading. Step status
// reads that may race a runner's retry transitions go through here.
func (e *WorkflowExecution) Read(fn func()) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn()
}

// ContextSnapshot returns a shallow copy of the context map, safe to read
// without holding the execution lock.
func (e *WorkflowExecution) ContextSnapshot() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		out[k] = v
	}
	return out
}

// Terminal reports whether the execution reached a terminal status.
func (e *WorkflowExecution) Terminal() bool {
	switch e.Status {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	}
	return false
}
