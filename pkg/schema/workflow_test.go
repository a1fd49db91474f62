package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:   "wf-1",
		Name: "test",
		Steps: []*WorkflowStep{
			{ID: "s1", Name: "first", Handler: "log", Timeout: 300, RetryCount: 3, RetryDelay: 5, Status: StepStatusPending},
			{ID: "s2", Name: "second", Handler: "delay", Dependencies: []string{"s1"}, Timeout: 300, RetryCount: 3, RetryDelay: 5, Status: StepStatusPending},
		},
		GlobalTimeout:    3600,
		MaxParallelSteps: 3,
		AutoRetry:        true,
		CreatedAt:        time.Now().UTC(),
	}
}

func TestCloneResetsMutableState(t *testing.T) {
	orig := &WorkflowStep{
		ID:       "s1",
		Handler:  "log",
		Params:   map[string]any{"message": "hi"},
		Status:   StepStatusCompleted,
		Attempts: 2,
	}
	clone := orig.Clone()

	assert.Equal(t, StepStatusPending, clone.Status)
	assert.Zero(t, clone.Attempts)
	assert.Nil(t, clone.Result)

	// Params are copied, not aliased.
	clone.Params["message"] = "changed"
	assert.Equal(t, "hi", orig.Params["message"])
}

func TestNewExecutionClonesSteps(t *testing.T) {
	def := testDefinition()
	exec := NewExecution("ex-1", def, nil)

	require.Len(t, exec.Steps, 2)
	assert.NotSame(t, def.Steps[0], exec.Steps[0])
	assert.NotNil(t, exec.Context)
	assert.Equal(t, WorkflowStatusCreated, exec.Status)
}

func TestContextSetGet(t *testing.T) {
	exec := NewExecution("ex-1", testDefinition(), nil)

	exec.SetContext("k", 42)
	v, ok := exec.GetContext("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = exec.GetContext("missing")
	assert.False(t, ok)
}

func TestContextSnapshotDetached(t *testing.T) {
	exec := NewExecution("ex-1", testDefinition(), map[string]any{"a": 1})
	snap := exec.ContextSnapshot()
	snap["a"] = 2

	v, _ := exec.GetContext("a")
	assert.Equal(t, 1, v)
}

func TestSnapshotRoundTrip(t *testing.T) {
	exec := NewExecution("ex-1", testDefinition(), map[string]any{"key": "value"})
	now := time.Now().UTC()
	exec.StartedAt = &now
	exec.Status = WorkflowStatusRunning
	exec.Steps[0].Status = StepStatusCompleted
	exec.Steps[0].Attempts = 1
	exec.Steps[0].Result = &StepResult{Success: true, Data: "done", ExecutionTime: 0.5}

	snap := exec.Snapshot()

	first, err := json.Marshal(snap)
	require.NoError(t, err)

	decoded := &ExecutionSnapshot{}
	require.NoError(t, json.Unmarshal(first, decoded))

	second, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	assert.Equal(t, "ex-1", decoded.ID)
	assert.Equal(t, string(WorkflowStatusRunning), decoded.Status)
	require.Len(t, decoded.Steps, 2)
	assert.Equal(t, 1, decoded.Steps[0].Attempts)
}

func TestTerminal(t *testing.T) {
	exec := NewExecution("ex-1", testDefinition(), nil)
	assert.False(t, exec.Terminal())

	for _, status := range []WorkflowStatus{WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled} {
		exec.Status = status
		assert.True(t, exec.Terminal(), string(status))
	}

	exec.Status = WorkflowStatusPaused
	assert.False(t, exec.Terminal())
}
