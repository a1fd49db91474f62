package handlers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

func TestParallelGroupRunsConcurrently(t *testing.T) {
	reg := NewRegistry()
	var inFlight, peak int64
	require.NoError(t, reg.Register(NewHandlerFunc("slow", "",
		func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
			n := atomic.AddInt64(&inFlight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return schema.Ok(step.Name), nil
		})))

	h := NewParallelGroupHandler(reg)
	res, err := h.Execute(context.Background(), stepWith("parallel_group", map[string]any{
		"tasks": []any{
			map[string]any{"name": "t1", "handler": "slow"},
			map[string]any{"name": "t2", "handler": "slow"},
			map[string]any{"name": "t3", "handler": "slow"},
		},
	}), testExec(nil))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&peak), int64(2), "sub-tasks should overlap")

	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.Len(t, data, 3)
}

func TestParallelGroupFailurePropagates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(noopHandler("ok")))
	require.NoError(t, reg.Register(NewHandlerFunc("bad", "",
		func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
			return nil, schema.NewError(schema.ErrCodeExecution, "kaboom")
		})))

	h := NewParallelGroupHandler(reg)
	res, err := h.Execute(context.Background(), stepWith("parallel_group", map[string]any{
		"tasks": []any{
			map[string]any{"name": "good", "handler": "ok"},
			map[string]any{"name": "broken", "handler": "bad"},
		},
	}), testExec(nil))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "broken")
}

func TestParallelGroupUnknownHandler(t *testing.T) {
	h := NewParallelGroupHandler(NewRegistry())
	_, err := h.Execute(context.Background(), stepWith("parallel_group", map[string]any{
		"tasks": []any{map[string]any{"name": "x", "handler": "ghost"}},
	}), testExec(nil))
	assert.Error(t, err)
}

func TestParallelGroupRequiresTasks(t *testing.T) {
	h := NewParallelGroupHandler(NewRegistry())
	_, err := h.Execute(context.Background(), stepWith("parallel_group", map[string]any{}), testExec(nil))
	assert.Error(t, err)
}
