package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

func noopHandler(name string) Handler {
	return NewHandlerFunc(name, "noop",
		func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
			return schema.Ok(nil), nil
		})
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(noopHandler("alpha")))

	h, err := reg.Lookup("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", h.Name())

	assert.True(t, reg.Has("alpha"))
	assert.Equal(t, 1, reg.Count())
}

func TestRegistryLookupNotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup("ghost")
	require.Error(t, err)

	var se *schema.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, schema.ErrCodeNotFound, se.Code)
}

func TestRegistryReRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(noopHandler("h")))

	replacement := NewHandlerFunc("h", "replacement",
		func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
			return schema.Ok("v2"), nil
		})
	require.NoError(t, reg.Register(replacement))

	assert.Equal(t, 1, reg.Count())
	h, err := reg.Lookup("h")
	require.NoError(t, err)
	res, err := h.Execute(context.Background(), &schema.WorkflowStep{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", res.Data)
}

func TestRegistryRejectsInvalid(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(noopHandler("")))
}

func TestRegistryListSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Register(noopHandler(name)))
	}
	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "mid", infos[1].Name)
	assert.Equal(t, "zeta", infos[2].Name)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(noopHandler("shared")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Lookup("shared")
			_ = reg.Register(noopHandler("shared"))
		}()
	}
	wg.Wait()
	assert.True(t, reg.Has("shared"))
}
