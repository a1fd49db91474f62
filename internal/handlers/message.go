package handlers

import (
	"context"
	"fmt"
	"regexp"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// contextPlaceholder matches {context.KEY} references in message text.
var contextPlaceholder = regexp.MustCompile(`\{context\.([A-Za-z0-9_]+)\}`)

// SendMessageHandler implements the "send_message" handler: publishes text
// to the chat that triggered the execution, substituting {context.KEY}
// placeholders from the execution context first.
type SendMessageHandler struct {
	notifier Notifier
}

// NewSendMessageHandler creates a send_message handler backed by the notifier.
func NewSendMessageHandler(n Notifier) *SendMessageHandler {
	return &SendMessageHandler{notifier: n}
}

func (h *SendMessageHandler) Name() string { return "send_message" }

func (h *SendMessageHandler) Schema() HandlerSchema {
	return HandlerSchema{Description: "Send a chat message with {context.KEY} substitution"}
}

func (h *SendMessageHandler) Execute(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
	if h.notifier == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no notifier configured")
	}

	text := stringParam(step.Params, "text", "")
	chatID := stringParam(step.Params, "chat_id", exec.ChatID)
	if chatID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "send_message requires a chat_id")
	}

	text = SubstituteContext(text, exec)

	messageID, err := h.notifier.Send(ctx, chatID, text)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "send message: %s", err.Error()).WithCause(err)
	}
	return schema.Ok(messageID), nil
}

// SubstituteContext replaces {context.KEY} placeholders in text with values
// from the execution context. Unknown keys are left untouched.
func SubstituteContext(text string, exec *schema.WorkflowExecution) string {
	return contextPlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		key := contextPlaceholder.FindStringSubmatch(match)[1]
		if v, ok := exec.GetContext(key); ok {
			return fmt.Sprintf("%v", v)
		}
		return match
	})
}
