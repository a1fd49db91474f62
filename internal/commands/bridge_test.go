package commands

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-dev/stepflow/internal/engine"
	"github.com/stepflow-dev/stepflow/internal/handlers"
	"github.com/stepflow-dev/stepflow/internal/schedule"
	"github.com/stepflow-dev/stepflow/internal/store"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeNotifier) Send(ctx context.Context, chatID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return "msg-1", nil
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type bridgeFixture struct {
	bridge   *Bridge
	engine   *engine.Engine
	sched    *schedule.Scheduler
	store    *store.MemoryStore
	notifier *fakeNotifier
	origin   Origin
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	notifier := &fakeNotifier{}

	reg := handlers.NewRegistry()
	require.NoError(t, handlers.RegisterBuiltins(reg, handlers.BuiltinConfig{
		Logger:   logger,
		Notifier: notifier,
		Store:    st,
	}))

	eng := engine.NewEngine(engine.EngineConfig{Registry: reg, Store: st, Logger: logger})
	sched := schedule.NewScheduler(st, eng, logger)
	bridge, err := NewBridge(eng, sched, logger)
	require.NoError(t, err)

	return &bridgeFixture{
		bridge:   bridge,
		engine:   eng,
		sched:    sched,
		store:    st,
		notifier: notifier,
		origin:   Origin{UserID: "u1", ChatID: "c1", MessageID: "m1"},
	}
}

func (f *bridgeFixture) handle(t *testing.T, message string) string {
	t.Helper()
	return f.bridge.Handle(context.Background(), f.origin, message)
}

// lastToken extracts the trailing id from replies like "✅ Workflow created: <id>".
func lastToken(t *testing.T, reply string) string {
	t.Helper()
	fields := strings.Fields(reply)
	require.NotEmpty(t, fields)
	return fields[len(fields)-1]
}

func (f *bridgeFixture) waitExec(t *testing.T, execID string) *schema.WorkflowExecution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.engine.WaitExecution(ctx, execID))
	exec, err := f.engine.GetExecution(execID)
	require.NoError(t, err)
	return exec
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("MULTISTEP:STATUS:abc"))
	assert.True(t, IsCommand("  MULTISTEP:LIST_WORKFLOWS"))
	assert.False(t, IsCommand("hello there"))
	assert.False(t, IsCommand("multistep:STATUS:abc"))
}

func TestUnknownCommand(t *testing.T) {
	f := newBridgeFixture(t)
	reply := f.handle(t, "MULTISTEP:EXPLODE:now")
	assert.True(t, strings.HasPrefix(reply, "❌"))
	assert.Contains(t, reply, "unknown command")
}

func TestWorkflowLifecycleCommands(t *testing.T) {
	f := newBridgeFixture(t)

	reply := f.handle(t, "MULTISTEP:CREATE_WORKFLOW:pipeline:demo pipeline:600:2")
	require.Contains(t, reply, "✅ Workflow created:")
	wf := lastToken(t, reply)

	def, err := f.engine.GetWorkflow(wf)
	require.NoError(t, err)
	assert.Equal(t, "pipeline", def.Name)
	assert.Equal(t, 600, def.GlobalTimeout)
	assert.Equal(t, 2, def.MaxParallelSteps)

	reply = f.handle(t, "MULTISTEP:ADD_STEP:"+wf+`:seed:set_context:{"key":"url","value":"http://example.com:8080/x"}::`)
	require.Contains(t, reply, "✅ Step added:")
	first := lastToken(t, reply)

	reply = f.handle(t, "MULTISTEP:ADD_STEP:"+wf+`:report:log:{"message":"done"}:`+first+`:60`)
	require.Contains(t, reply, "✅ Step added:")

	def, err = f.engine.GetWorkflow(wf)
	require.NoError(t, err)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, "http://example.com:8080/x", def.Steps[0].Params["value"],
		"colons inside params JSON survive the tuple split")
	assert.Equal(t, []string{first}, def.Steps[1].Dependencies)
	assert.Equal(t, 60, def.Steps[1].Timeout)

	reply = f.handle(t, "MULTISTEP:EXECUTE:"+wf+`:{"env":"prod"}`)
	require.Contains(t, reply, "🚀 Execution started:")
	execID := lastToken(t, reply)

	exec := f.waitExec(t, execID)
	assert.Equal(t, schema.WorkflowStatusCompleted, exec.Status)
	env, _ := exec.GetContext("env")
	assert.Equal(t, "prod", env)

	status := f.handle(t, "MULTISTEP:STATUS:"+execID)
	assert.Contains(t, status, "Status: completed")
	assert.Contains(t, status, "✅ seed")
	assert.Contains(t, status, "✅ report")

	progress := f.handle(t, "MULTISTEP:PROGRESS:"+execID)
	assert.Contains(t, progress, "100%")
	assert.Contains(t, progress, "2/2 steps")
}

func TestAddStepUsageErrors(t *testing.T) {
	f := newBridgeFixture(t)

	reply := f.handle(t, "MULTISTEP:ADD_STEP:wf:name")
	assert.True(t, strings.HasPrefix(reply, "❌"))

	reply = f.handle(t, "MULTISTEP:ADD_STEP:wf:name:log:{not json}::")
	assert.Contains(t, reply, "invalid params JSON")
}

func TestStatusUnknownExecution(t *testing.T) {
	f := newBridgeFixture(t)
	reply := f.handle(t, "MULTISTEP:STATUS:missing")
	assert.True(t, strings.HasPrefix(reply, "❌"))
	assert.Contains(t, reply, "not found")
}

func TestQuickWorkflow(t *testing.T) {
	f := newBridgeFixture(t)

	reply := f.handle(t, `MULTISTEP:QUICK_WORKFLOW:fastpath:[`+
		`{"name":"a","handler":"set_context","params":{"key":"x","value":1}},`+
		`{"name":"b","handler":"log","params":{"message":"x set"},"dependencies":["a"]}]`)
	require.Contains(t, reply, "🚀 Workflow")
	execID := lastToken(t, reply)

	exec := f.waitExec(t, execID)
	assert.Equal(t, schema.WorkflowStatusCompleted, exec.Status)
	require.Len(t, exec.Steps, 2)
	assert.Equal(t, "a", exec.Steps[0].Name)
	assert.Equal(t, "b", exec.Steps[1].Name)
	x, _ := exec.GetContext("x")
	assert.EqualValues(t, 1, x)
}

func TestQuickWorkflowSchemaRejection(t *testing.T) {
	f := newBridgeFixture(t)

	reply := f.handle(t, `MULTISTEP:QUICK_WORKFLOW:broken:[{"name":"a"}]`)
	assert.Contains(t, reply, "steps do not match schema")

	reply = f.handle(t, `MULTISTEP:QUICK_WORKFLOW:broken:[]`)
	assert.Contains(t, reply, "steps do not match schema")

	reply = f.handle(t, `MULTISTEP:QUICK_WORKFLOW:broken:[{"name":"a","handler":"log","bogus":true}]`)
	assert.Contains(t, reply, "steps do not match schema")
}

func TestQuickWorkflowUnknownDependency(t *testing.T) {
	f := newBridgeFixture(t)
	reply := f.handle(t, `MULTISTEP:QUICK_WORKFLOW:broken:[{"name":"a","handler":"log","dependencies":["ghost"]}]`)
	assert.True(t, strings.HasPrefix(reply, "❌"))
	assert.Contains(t, reply, "unknown step")
}

func TestBatchProcess(t *testing.T) {
	f := newBridgeFixture(t)

	reply := f.handle(t, "MULTISTEP:BATCH_PROCESS:log:[1,2,3,4,5]:2")
	require.Contains(t, reply, "5 items in 3 batches")

	// Reply shape: 🚀 Batch started: <exec_id> (5 items in 3 batches)
	fields := strings.Fields(reply)
	require.GreaterOrEqual(t, len(fields), 4)
	execID := fields[3]

	exec := f.waitExec(t, execID)
	assert.Equal(t, schema.WorkflowStatusCompleted, exec.Status)
	require.Len(t, exec.Steps, 3)
	assert.Equal(t, "batch_1", exec.Steps[0].Name)
	items, ok := exec.Steps[0].Params["items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 2)
	lastItems := exec.Steps[2].Params["items"].([]any)
	assert.Len(t, lastItems, 1, "trailing partial batch")
}

func TestBatchProcessValidation(t *testing.T) {
	f := newBridgeFixture(t)
	assert.Contains(t, f.handle(t, "MULTISTEP:BATCH_PROCESS:log"), "❌")
	assert.Contains(t, f.handle(t, "MULTISTEP:BATCH_PROCESS:log:[1]:zero"), "invalid batch_size")
	assert.Contains(t, f.handle(t, "MULTISTEP:BATCH_PROCESS:log:{bad}:2"), "invalid items JSON")
}

func TestScheduledWorkflowCommand(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	wf, err := f.engine.CreateWorkflow(engine.WorkflowSpec{Name: "nightly"})
	require.NoError(t, err)

	reply := f.handle(t, "MULTISTEP:SCHEDULED_WORKFLOW:"+wf+`:0:{"mode":"dry"}`)
	require.Contains(t, reply, "⏰ Scheduled in 0s:")
	jobID := lastToken(t, reply)

	job, err := f.store.GetScheduledJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, wf, job.WorkflowID)
	assert.Equal(t, "c1", job.ChatID)

	f.sched.Tick(ctx)
	execs, err := f.engine.ListExecutions("")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	mode, _ := execs[0].GetContext("mode")
	assert.Equal(t, "dry", mode)
}

func TestScheduledWorkflowUnknownWorkflow(t *testing.T) {
	f := newBridgeFixture(t)
	reply := f.handle(t, "MULTISTEP:SCHEDULED_WORKFLOW:missing:10:")
	assert.True(t, strings.HasPrefix(reply, "❌"))
	assert.Contains(t, reply, "not found")
}

func TestRecurringWorkflowCommand(t *testing.T) {
	f := newBridgeFixture(t)

	wf, err := f.engine.CreateWorkflow(engine.WorkflowSpec{Name: "hourly"})
	require.NoError(t, err)

	reply := f.handle(t, "MULTISTEP:RECURRING_WORKFLOW:"+wf+":*/5 * * * *")
	require.Contains(t, reply, "🔁 Recurring job created:")
	jobID := lastToken(t, reply)

	job, err := f.store.GetScheduledJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", job.CronExpr)

	reply = f.handle(t, "MULTISTEP:RECURRING_WORKFLOW:"+wf+":every tuesday")
	assert.True(t, strings.HasPrefix(reply, "❌"))
}

func TestTemplateMessageSequence(t *testing.T) {
	f := newBridgeFixture(t)

	reply := f.handle(t, `MULTISTEP:TEMPLATE_WORKFLOW:message_sequence:`+
		`{"messages":["hi {context.name}","bye"],"chat_id":"c9","delay":0,"name":"sam"}`)
	require.Contains(t, reply, "🚀 Template message_sequence started:")
	execID := lastToken(t, reply)

	exec := f.waitExec(t, execID)
	assert.Equal(t, schema.WorkflowStatusCompleted, exec.Status)
	assert.Equal(t, []string{"hi sam", "bye"}, f.notifier.messages())
}

func TestTemplateDataProcessing(t *testing.T) {
	f := newBridgeFixture(t)

	reply := f.handle(t, `MULTISTEP:TEMPLATE_WORKFLOW:data_processing:`+
		`{"data":{"items":[1,2,3]},"query":".items | length","output_key":"count"}`)
	require.Contains(t, reply, "🚀 Template data_processing started:")
	execID := lastToken(t, reply)

	exec := f.waitExec(t, execID)
	assert.Equal(t, schema.WorkflowStatusCompleted, exec.Status)
	count, ok := exec.GetContext("count")
	require.True(t, ok)
	assert.EqualValues(t, 3, count)
}

func TestTemplateNotificationFlow(t *testing.T) {
	f := newBridgeFixture(t)

	reply := f.handle(t, `MULTISTEP:TEMPLATE_WORKFLOW:notification_flow:`+
		`{"message":"deploy finished","type":"success"}`)
	require.Contains(t, reply, "🚀 Template notification_flow started:")
	execID := lastToken(t, reply)

	exec := f.waitExec(t, execID)
	assert.Equal(t, schema.WorkflowStatusCompleted, exec.Status)
	for _, s := range exec.Steps {
		assert.Equal(t, schema.StepStatusCompleted, s.Status, s.Name)
	}
}

func TestTemplateUnknown(t *testing.T) {
	f := newBridgeFixture(t)
	reply := f.handle(t, `MULTISTEP:TEMPLATE_WORKFLOW:mystery:{}`)
	assert.True(t, strings.HasPrefix(reply, "❌"))
	assert.Contains(t, reply, "unknown template")
}

func TestListCommands(t *testing.T) {
	f := newBridgeFixture(t)

	assert.Equal(t, "No workflows defined", f.handle(t, "MULTISTEP:LIST_WORKFLOWS"))
	assert.Equal(t, "No executions", f.handle(t, "MULTISTEP:LIST_EXECUTIONS"))

	wf, err := f.engine.CreateWorkflow(engine.WorkflowSpec{Name: "visible"})
	require.NoError(t, err)

	reply := f.handle(t, "MULTISTEP:LIST_WORKFLOWS")
	assert.Contains(t, reply, wf)
	assert.Contains(t, reply, "visible")
}
