package schedule

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/internal/engine"
	"github.com/stepflow-dev/stepflow/internal/store"
)

type runnerCall struct {
	workflowID string
	initial    map[string]any
	chatID     string
	userID     string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []runnerCall
	err   error
}

func (f *fakeRunner) ExecuteWorkflow(ctx context.Context, workflowID string, initial map[string]any, opts *engine.ExecuteOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	call := runnerCall{workflowID: workflowID, initial: initial}
	if opts != nil {
		call.chatID = opts.ChatID
		call.userID = opts.UserID
	}
	f.calls = append(f.calls, call)
	return fmt.Sprintf("exec-%d", len(f.calls)), nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testScheduler(t *testing.T) (*Scheduler, *store.MemoryStore, *fakeRunner) {
	t.Helper()
	st := store.NewMemoryStore()
	runner := &fakeRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(st, runner, logger), st, runner
}

func TestOneShotJobFiresOnce(t *testing.T) {
	sched, st, runner := testScheduler(t)
	ctx := context.Background()

	jobID, err := sched.ScheduleOnce(ctx, "wf1", 0,
		map[string]any{"seed": "v"}, "chat-1", "user-1")
	require.NoError(t, err)

	sched.Tick(ctx)
	require.Equal(t, 1, runner.count())
	assert.Equal(t, "wf1", runner.calls[0].workflowID)
	assert.Equal(t, "chat-1", runner.calls[0].chatID)
	assert.Equal(t, "user-1", runner.calls[0].userID)
	assert.Equal(t, "v", runner.calls[0].initial["seed"])

	job, err := st.GetScheduledJob(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, job.Enabled, "one-shot disables itself after firing")
	assert.Equal(t, "exec-1", job.LastExecutionID)
	require.NotNil(t, job.LastRunAt)

	sched.Tick(ctx)
	assert.Equal(t, 1, runner.count(), "no second run")
}

func TestOneShotJobNotDueYet(t *testing.T) {
	sched, _, runner := testScheduler(t)
	ctx := context.Background()

	_, err := sched.ScheduleOnce(ctx, "wf1", time.Hour, nil, "", "")
	require.NoError(t, err)

	sched.Tick(ctx)
	assert.Equal(t, 0, runner.count())
}

func TestCronJobFiresWhenBoundaryPassed(t *testing.T) {
	sched, st, runner := testScheduler(t)
	ctx := context.Background()

	// Created two days ago, so at least one daily boundary has passed.
	job := &store.ScheduledJob{
		ID:         "cron-1",
		WorkflowID: "wf-daily",
		CronExpr:   "0 0 * * *",
		Enabled:    true,
		CreatedAt:  time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, st.CreateScheduledJob(ctx, job))

	sched.Tick(ctx)
	require.Equal(t, 1, runner.count())
	assert.Equal(t, "wf-daily", runner.calls[0].workflowID)

	got, err := st.GetScheduledJob(ctx, "cron-1")
	require.NoError(t, err)
	assert.True(t, got.Enabled, "cron jobs stay enabled")
	require.NotNil(t, got.LastRunAt)

	// Next boundary is in the future now.
	sched.Tick(ctx)
	assert.Equal(t, 1, runner.count())
}

func TestScheduleCronValidatesExpression(t *testing.T) {
	sched, _, _ := testScheduler(t)

	_, err := sched.ScheduleCron(context.Background(), "wf1", "not a cron", nil, "", "")
	assert.Error(t, err)

	_, err = sched.ScheduleCron(context.Background(), "wf1", "*/5 * * * *", nil, "", "")
	assert.NoError(t, err)
}

func TestFailedRunStaysDue(t *testing.T) {
	sched, st, runner := testScheduler(t)
	ctx := context.Background()
	runner.err = fmt.Errorf("engine unavailable")

	jobID, err := sched.ScheduleOnce(ctx, "wf1", 0, nil, "", "")
	require.NoError(t, err)

	sched.Tick(ctx)
	job, err := st.GetScheduledJob(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, job.Enabled)
	assert.Nil(t, job.LastRunAt, "bookkeeping untouched on failure")

	runner.err = nil
	sched.Tick(ctx)
	assert.Equal(t, 1, runner.count(), "retried on the next tick")
}

func TestStartStop(t *testing.T) {
	sched, _, runner := testScheduler(t)
	ctx := context.Background()

	_, err := sched.ScheduleOnce(ctx, "wf1", 0, nil, "", "")
	require.NoError(t, err)

	require.NoError(t, sched.Start(ctx))
	assert.Error(t, sched.Start(ctx), "double start rejected")

	assert.Eventually(t, func() bool { return runner.count() == 1 },
		2*time.Second, 10*time.Millisecond, "initial tick runs the due job")

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop(), "stop is idempotent")
}
