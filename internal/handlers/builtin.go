package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/stepflow-dev/stepflow/internal/conditions"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// BuiltinConfig carries the collaborators the built-in handlers depend on.
type BuiltinConfig struct {
	Logger    *slog.Logger
	Notifier  Notifier
	Store     DocumentStore
	Evaluator *conditions.Evaluator
	HTTP      HTTPConfig
	FS        FSConfig
}

// RegisterBuiltins registers all built-in handlers in the given registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = conditions.NewEvaluator()
	}

	all := []Handler{
		newDelayHandler(),
		newLogHandler(cfg.Logger),
		newSetContextHandler(),
		newGetContextHandler(),
		newConditionCheckHandler(cfg.Evaluator, cfg.Logger),
		newNotificationHandler(cfg.Logger),
		NewSendMessageHandler(cfg.Notifier),
		NewAPICallHandler(cfg.HTTP),
		NewFileOperationHandler(cfg.FS),
		NewDatabaseOperationHandler(cfg.Store),
		NewParallelGroupHandler(reg),
		NewTransformHandler(),
	}

	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

func newDelayHandler() Handler {
	return NewHandlerFunc("delay", "Sleep for a number of seconds",
		func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
			seconds := floatParam(step.Params, "seconds", 1)
			select {
			case <-time.After(time.Duration(seconds * float64(time.Second))):
				return schema.Ok(seconds), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
}

func newLogHandler(logger *slog.Logger) Handler {
	return NewHandlerFunc("log", "Write a message to the observability sink",
		func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
			message := stringParam(step.Params, "message", "")
			switch stringParam(step.Params, "level", "info") {
			case "warning":
				logger.WarnContext(ctx, message)
			case "error":
				logger.ErrorContext(ctx, message)
			default:
				logger.InfoContext(ctx, message)
			}
			return schema.Ok(message), nil
		})
}

func newSetContextHandler() Handler {
	return NewHandlerFunc("set_context", "Store a value in the execution context",
		func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
			key := stringParam(step.Params, "key", "")
			if key == "" {
				return nil, schema.NewError(schema.ErrCodeValidation, "set_context requires a key")
			}
			value := step.Params["value"]
			exec.SetContext(key, value)
			return schema.Ok(value), nil
		})
}

func newGetContextHandler() Handler {
	return NewHandlerFunc("get_context", "Read a value from the execution context",
		func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
			key := stringParam(step.Params, "key", "")
			if key == "" {
				return nil, schema.NewError(schema.ErrCodeValidation, "get_context requires a key")
			}
			value, _ := exec.GetContext(key)
			return schema.Ok(value), nil
		})
}

func newConditionCheckHandler(eval *conditions.Evaluator, logger *slog.Logger) Handler {
	return NewHandlerFunc("condition_check", "Evaluate a predicate against the execution context",
		func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
			condition := stringParam(step.Params, "condition", "")
			result, err := eval.Evaluate(condition, exec.ContextSnapshot())
			if err != nil {
				// Evaluation errors demote to false, same as scheduler gating.
				logger.WarnContext(ctx, "condition evaluation failed",
					slog.String("condition", condition),
					slog.String("error", err.Error()))
				return &schema.StepResult{
					Success:  true,
					Data:     false,
					Metadata: map[string]any{"error": err.Error()},
				}, nil
			}
			return schema.Ok(result), nil
		})
}

var notificationIcons = map[string]string{
	"info":    "ℹ️",
	"warning": "⚠️",
	"error":   "❌",
	"success": "✅",
}

func newNotificationHandler(logger *slog.Logger) Handler {
	return NewHandlerFunc("notification", "Emit a decorated notification to the observability sink",
		func(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
			message := stringParam(step.Params, "message", "")
			kind := stringParam(step.Params, "type", "info")
			icon, ok := notificationIcons[kind]
			if !ok {
				icon = notificationIcons["info"]
				kind = "info"
			}
			decorated := icon + " " + message
			switch kind {
			case "warning":
				logger.WarnContext(ctx, decorated)
			case "error":
				logger.ErrorContext(ctx, decorated)
			default:
				logger.InfoContext(ctx, decorated)
			}
			return schema.Ok(decorated), nil
		})
}
