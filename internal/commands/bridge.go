// Package commands implements the MULTISTEP shortcode grammar that drives
// the engine from chat messages. Each command is a colon-delimited tuple;
// operands that carry JSON are recovered by splitting fixed field counts
// from each end so colons inside the JSON survive.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/stepflow-dev/stepflow/internal/engine"
	"github.com/stepflow-dev/stepflow/internal/schedule"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// Prefix marks a chat message as a workflow command.
const Prefix = "MULTISTEP:"

// Origin identifies the chat message that carried a command.
type Origin struct {
	UserID    string
	ChatID    string
	MessageID string
}

// Bridge dispatches MULTISTEP commands to the engine and scheduler.
type Bridge struct {
	engine    *engine.Engine
	scheduler *schedule.Scheduler
	logger    *slog.Logger
	steps     *stepsValidator
}

// NewBridge builds a dispatcher. The scheduler may be nil; scheduling
// commands then report an error reply.
func NewBridge(eng *engine.Engine, sched *schedule.Scheduler, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v, err := newStepsValidator()
	if err != nil {
		return nil, fmt.Errorf("compile steps schema: %w", err)
	}
	return &Bridge{engine: eng, scheduler: sched, logger: logger, steps: v}, nil
}

// IsCommand reports whether a message is a MULTISTEP command.
func IsCommand(message string) bool {
	return strings.HasPrefix(strings.TrimSpace(message), Prefix)
}

// Handle parses and executes one command, returning the chat reply.
// Command errors come back as (reply, nil) so the bridge can always answer
// the chat; only programming errors surface as error.
func (b *Bridge) Handle(ctx context.Context, origin Origin, message string) string {
	message = strings.TrimSpace(message)
	if !strings.HasPrefix(message, Prefix) {
		return errorReply(schema.NewError(schema.ErrCodeValidation, "not a MULTISTEP command"))
	}
	rest := strings.TrimPrefix(message, Prefix)

	op := rest
	args := ""
	if i := strings.Index(rest, ":"); i >= 0 {
		op, args = rest[:i], rest[i+1:]
	}

	b.logger.Info("command received",
		slog.String("op", op),
		slog.String("chat_id", origin.ChatID))

	reply, err := b.dispatch(ctx, origin, op, args)
	if err != nil {
		b.logger.Warn("command failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
		return errorReply(err)
	}
	return reply
}

func (b *Bridge) dispatch(ctx context.Context, origin Origin, op, args string) (string, error) {
	switch op {
	case "CREATE_WORKFLOW":
		return b.createWorkflow(args)
	case "ADD_STEP":
		return b.addStep(args)
	case "EXECUTE":
		return b.execute(ctx, origin, args)
	case "STATUS":
		return b.status(args)
	case "PROGRESS":
		return b.progress(args)
	case "CANCEL":
		return b.cancel(args)
	case "PAUSE":
		return b.pause(args)
	case "RESUME":
		return b.resume(args)
	case "LIST_WORKFLOWS":
		return b.listWorkflows()
	case "LIST_EXECUTIONS":
		return b.listExecutions(args)
	case "QUICK_WORKFLOW":
		return b.quickWorkflow(ctx, origin, args)
	case "BATCH_PROCESS":
		return b.batchProcess(ctx, origin, args)
	case "SCHEDULED_WORKFLOW":
		return b.scheduledWorkflow(ctx, origin, args)
	case "RECURRING_WORKFLOW":
		return b.recurringWorkflow(ctx, origin, args)
	case "TEMPLATE_WORKFLOW":
		return b.templateWorkflow(ctx, origin, args)
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown command: %s", op)
	}
}

// createWorkflow handles name:description:timeout:max_parallel.
func (b *Bridge) createWorkflow(args string) (string, error) {
	parts := strings.SplitN(args, ":", 4)
	if len(parts) < 1 || parts[0] == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "usage: CREATE_WORKFLOW:name:description:timeout:max_parallel")
	}
	spec := engine.WorkflowSpec{Name: parts[0]}
	if len(parts) > 1 {
		spec.Description = parts[1]
	}
	var err error
	if len(parts) > 2 && parts[2] != "" {
		if spec.GlobalTimeout, err = strconv.Atoi(parts[2]); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid timeout: %s", parts[2])
		}
	}
	if len(parts) > 3 && parts[3] != "" {
		if spec.MaxParallelSteps, err = strconv.Atoi(parts[3]); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid max_parallel: %s", parts[3])
		}
	}

	id, err := b.engine.CreateWorkflow(spec)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Workflow created: %s", id), nil
}

// addStep handles workflow_id:step_name:handler:params_json:deps_csv:timeout.
// params_json may contain colons, so the three leading and two trailing
// fields are peeled off and the remainder is the JSON.
func (b *Bridge) addStep(args string) (string, error) {
	head := strings.SplitN(args, ":", 4)
	if len(head) < 4 {
		return "", schema.NewError(schema.ErrCodeValidation,
			"usage: ADD_STEP:workflow_id:step_name:handler:params_json:deps_csv:timeout")
	}
	workflowID, stepName, handler, rest := head[0], head[1], head[2], head[3]

	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return "", schema.NewError(schema.ErrCodeValidation,
			"usage: ADD_STEP:workflow_id:step_name:handler:params_json:deps_csv:timeout")
	}
	rest, timeoutStr := rest[:i], rest[i+1:]
	i = strings.LastIndex(rest, ":")
	if i < 0 {
		return "", schema.NewError(schema.ErrCodeValidation,
			"usage: ADD_STEP:workflow_id:step_name:handler:params_json:deps_csv:timeout")
	}
	paramsJSON, depsCSV := rest[:i], rest[i+1:]

	spec := engine.StepSpec{Name: stepName, Handler: handler}
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &spec.Params); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid params JSON: %v", err)
		}
	}
	if depsCSV != "" {
		for _, dep := range strings.Split(depsCSV, ",") {
			if dep = strings.TrimSpace(dep); dep != "" {
				spec.Dependencies = append(spec.Dependencies, dep)
			}
		}
	}
	if timeoutStr != "" {
		t, err := strconv.Atoi(timeoutStr)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid timeout: %s", timeoutStr)
		}
		spec.Timeout = t
	}

	id, err := b.engine.AddStep(workflowID, spec)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Step added: %s", id), nil
}

// execute handles workflow_id:context_json.
func (b *Bridge) execute(ctx context.Context, origin Origin, args string) (string, error) {
	parts := strings.SplitN(args, ":", 2)
	if parts[0] == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "usage: EXECUTE:workflow_id:context_json")
	}
	initial, err := parseContextJSON(parts, 1)
	if err != nil {
		return "", err
	}
	execID, err := b.engine.ExecuteWorkflow(ctx, parts[0], initial, origin.options())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🚀 Execution started: %s", execID), nil
}

func (b *Bridge) status(executionID string) (string, error) {
	exec, err := b.engine.GetExecution(strings.TrimSpace(executionID))
	if err != nil {
		return "", err
	}
	snap := exec.Snapshot()

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 Execution %s\n", snap.ID)
	fmt.Fprintf(&sb, "Status: %s | Progress: %.0f%%\n", snap.Status, snap.Progress)
	for _, s := range snap.Steps {
		fmt.Fprintf(&sb, "  %s %s (%s)", statusIcon(s.Status), s.Name, s.Status)
		if s.Attempts > 1 {
			fmt.Fprintf(&sb, " [attempts: %d]", s.Attempts)
		}
		if s.Result != nil && s.Result.Error != "" {
			fmt.Fprintf(&sb, " — %s", s.Result.Error)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b *Bridge) progress(executionID string) (string, error) {
	exec, err := b.engine.GetExecution(strings.TrimSpace(executionID))
	if err != nil {
		return "", err
	}
	snap := exec.Snapshot()
	done := 0
	for _, s := range snap.Steps {
		if s.Status == string(schema.StepStatusCompleted) || s.Status == string(schema.StepStatusSkipped) {
			done++
		}
	}
	return fmt.Sprintf("📊 %s: %.0f%% (%d/%d steps, status %s)",
		snap.ID, snap.Progress, done, len(snap.Steps), snap.Status), nil
}

func (b *Bridge) cancel(executionID string) (string, error) {
	if err := b.engine.CancelExecution(strings.TrimSpace(executionID)); err != nil {
		return "", err
	}
	return "🛑 Cancellation requested", nil
}

func (b *Bridge) pause(executionID string) (string, error) {
	if err := b.engine.PauseExecution(strings.TrimSpace(executionID)); err != nil {
		return "", err
	}
	return "⏸️ Pause requested", nil
}

func (b *Bridge) resume(executionID string) (string, error) {
	if err := b.engine.ResumeExecution(strings.TrimSpace(executionID)); err != nil {
		return "", err
	}
	return "▶️ Execution resumed", nil
}

func (b *Bridge) listWorkflows() (string, error) {
	defs := b.engine.ListWorkflows()
	if len(defs) == 0 {
		return "No workflows defined", nil
	}
	var sb strings.Builder
	sb.WriteString("📚 Workflows:\n")
	for _, def := range defs {
		fmt.Fprintf(&sb, "  %s — %s (%d steps)\n", def.ID, def.Name, len(def.Steps))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b *Bridge) listExecutions(status string) (string, error) {
	execs, err := b.engine.ListExecutions(strings.TrimSpace(status))
	if err != nil {
		return "", err
	}
	if len(execs) == 0 {
		return "No executions", nil
	}
	var sb strings.Builder
	sb.WriteString("🗂 Executions:\n")
	for _, exec := range execs {
		snap := exec.Snapshot()
		fmt.Fprintf(&sb, "  %s — %s (%.0f%%)\n", snap.ID, snap.Status, snap.Progress)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// quickWorkflow handles name:steps_json — create, add steps, execute in one
// command. Step dependencies reference other steps by name.
func (b *Bridge) quickWorkflow(ctx context.Context, origin Origin, args string) (string, error) {
	parts := strings.SplitN(args, ":", 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "usage: QUICK_WORKFLOW:name:steps_json")
	}

	steps, err := b.steps.parse(parts[1])
	if err != nil {
		return "", err
	}

	workflowID, err := b.engine.CreateWorkflow(engine.WorkflowSpec{Name: parts[0]})
	if err != nil {
		return "", err
	}

	if err := b.addNamedSteps(workflowID, steps); err != nil {
		return "", err
	}

	execID, err := b.engine.ExecuteWorkflow(ctx, workflowID, nil, origin.options())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🚀 Workflow %s started: %s", workflowID, execID), nil
}

// addNamedSteps adds specs whose dependencies are step names, translating
// them to the generated step ids.
func (b *Bridge) addNamedSteps(workflowID string, steps []stepDef) error {
	ids := make(map[string]string, len(steps))
	for _, s := range steps {
		spec := engine.StepSpec{
			Name:       s.Name,
			Handler:    s.Handler,
			Params:     s.Params,
			Timeout:    s.Timeout,
			RetryCount: s.RetryCount,
			RetryDelay: s.RetryDelay,
			Condition:  s.Condition,
		}
		for _, dep := range s.Dependencies {
			id, ok := ids[dep]
			if !ok {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %q depends on unknown step %q", s.Name, dep)
			}
			spec.Dependencies = append(spec.Dependencies, id)
		}
		id, err := b.engine.AddStep(workflowID, spec)
		if err != nil {
			return err
		}
		ids[s.Name] = id
	}
	return nil
}

// batchProcess handles handler:items_json:batch_size. Items are chunked
// and each chunk becomes one step of the given handler with params
// {"items": chunk, "batch": n}.
func (b *Bridge) batchProcess(ctx context.Context, origin Origin, args string) (string, error) {
	i := strings.Index(args, ":")
	j := strings.LastIndex(args, ":")
	if i < 0 || j <= i {
		return "", schema.NewError(schema.ErrCodeValidation, "usage: BATCH_PROCESS:handler:items_json:batch_size")
	}
	handler, itemsJSON, sizeStr := args[:i], args[i+1:j], args[j+1:]

	var items []any
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid items JSON: %v", err)
	}
	batchSize, err := strconv.Atoi(sizeStr)
	if err != nil || batchSize < 1 {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid batch_size: %s", sizeStr)
	}

	workflowID, err := b.engine.CreateWorkflow(engine.WorkflowSpec{
		Name: fmt.Sprintf("batch_%s", handler),
	})
	if err != nil {
		return "", err
	}

	batches := 0
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches++
		_, err := b.engine.AddStep(workflowID, engine.StepSpec{
			Name:    fmt.Sprintf("batch_%d", batches),
			Handler: handler,
			Params:  map[string]any{"items": items[start:end], "batch": batches},
		})
		if err != nil {
			return "", err
		}
	}

	execID, err := b.engine.ExecuteWorkflow(ctx, workflowID, nil, origin.options())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🚀 Batch started: %s (%d items in %d batches)", execID, len(items), batches), nil
}

// scheduledWorkflow handles workflow_id:delay_seconds:context_json.
func (b *Bridge) scheduledWorkflow(ctx context.Context, origin Origin, args string) (string, error) {
	if b.scheduler == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "scheduling is not enabled")
	}
	parts := strings.SplitN(args, ":", 3)
	if len(parts) < 2 || parts[0] == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "usage: SCHEDULED_WORKFLOW:workflow_id:delay_seconds:context_json")
	}
	delay, err := strconv.Atoi(parts[1])
	if err != nil || delay < 0 {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid delay: %s", parts[1])
	}
	initial, err := parseContextJSON(parts, 2)
	if err != nil {
		return "", err
	}
	if _, err := b.engine.GetWorkflow(parts[0]); err != nil {
		return "", err
	}
	jobID, err := b.scheduler.ScheduleOnce(ctx, parts[0], time.Duration(delay)*time.Second, initial, origin.ChatID, origin.UserID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("⏰ Scheduled in %ds: %s", delay, jobID), nil
}

// recurringWorkflow handles workflow_id:cron_expr:context_json. The cron
// expression uses the standard five fields, so its colons never collide
// with the tuple separator.
func (b *Bridge) recurringWorkflow(ctx context.Context, origin Origin, args string) (string, error) {
	if b.scheduler == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "scheduling is not enabled")
	}
	parts := strings.SplitN(args, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "usage: RECURRING_WORKFLOW:workflow_id:cron_expr:context_json")
	}
	initial, err := parseContextJSON(parts, 2)
	if err != nil {
		return "", err
	}
	if _, err := b.engine.GetWorkflow(parts[0]); err != nil {
		return "", err
	}
	jobID, err := b.scheduler.ScheduleCron(ctx, parts[0], parts[1], initial, origin.ChatID, origin.UserID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🔁 Recurring job created: %s", jobID), nil
}

// templateWorkflow handles template_name:params_json.
func (b *Bridge) templateWorkflow(ctx context.Context, origin Origin, args string) (string, error) {
	parts := strings.SplitN(args, ":", 2)
	if parts[0] == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "usage: TEMPLATE_WORKFLOW:template_name:params_json")
	}
	params, err := parseContextJSON(parts, 1)
	if err != nil {
		return "", err
	}

	workflowID, execID, err := b.runTemplate(ctx, origin, parts[0], params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🚀 Template %s started: workflow %s, execution %s", parts[0], workflowID, execID), nil
}

func parseContextJSON(parts []string, idx int) (map[string]any, error) {
	if len(parts) <= idx || strings.TrimSpace(parts[idx]) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(parts[idx]), &m); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid context JSON: %v", err)
	}
	return m, nil
}

func (o Origin) options() *engine.ExecuteOptions {
	return &engine.ExecuteOptions{UserID: o.UserID, ChatID: o.ChatID, MessageID: o.MessageID}
}

func errorReply(err error) string {
	return "❌ " + err.Error()
}

func statusIcon(status string) string {
	switch schema.StepStatus(status) {
	case schema.StepStatusCompleted:
		return "✅"
	case schema.StepStatusFailed:
		return "❌"
	case schema.StepStatusRunning, schema.StepStatusRetrying:
		return "⏳"
	case schema.StepStatusSkipped:
		return "⤵️"
	case schema.StepStatusCancelled:
		return "🛑"
	default:
		return "▫️"
	}
}
