package commands

import (
	"context"
	"fmt"

	"github.com/stepflow-dev/stepflow/internal/engine"
	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// runTemplate instantiates one of the canned workflow templates and starts
// it. Templates are ordinary definitions built through the engine's
// builder, so everything about them shows up in STATUS and snapshots like
// hand-built workflows.
func (b *Bridge) runTemplate(ctx context.Context, origin Origin, name string, params map[string]any) (string, string, error) {
	var steps []stepDef
	var err error
	switch name {
	case "message_sequence":
		steps, err = messageSequenceSteps(params)
	case "data_processing":
		steps, err = dataProcessingSteps(params)
	case "notification_flow":
		steps, err = notificationFlowSteps(params)
	default:
		return "", "", schema.NewErrorf(schema.ErrCodeValidation, "unknown template: %s", name)
	}
	if err != nil {
		return "", "", err
	}

	workflowID, err := b.engine.CreateWorkflow(engine.WorkflowSpec{
		Name:        name,
		Description: "template: " + name,
	})
	if err != nil {
		return "", "", err
	}
	if err := b.addNamedSteps(workflowID, steps); err != nil {
		return "", "", err
	}

	execID, err := b.engine.ExecuteWorkflow(ctx, workflowID, params, origin.options())
	if err != nil {
		return "", "", err
	}
	return workflowID, execID, nil
}

// messageSequenceSteps sends each message in order with a delay between
// consecutive messages. Params: messages []string (required), chat_id,
// delay seconds (default 1).
func messageSequenceSteps(params map[string]any) ([]stepDef, error) {
	rawMessages, ok := params["messages"].([]any)
	if !ok || len(rawMessages) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, `template message_sequence requires "messages"`)
	}
	chatID, _ := params["chat_id"].(string)
	delay := float64(1)
	if d, ok := params["delay"].(float64); ok && d >= 0 {
		delay = d
	}

	var steps []stepDef
	prev := ""
	for i, raw := range rawMessages {
		text, ok := raw.(string)
		if !ok {
			return nil, schema.NewError(schema.ErrCodeValidation, "messages must be strings")
		}
		msgName := fmt.Sprintf("message_%d", i+1)
		msg := stepDef{
			Name:    msgName,
			Handler: "send_message",
			Params:  map[string]any{"text": text},
		}
		if chatID != "" {
			msg.Params["chat_id"] = chatID
		}
		if prev != "" {
			msg.Dependencies = []string{prev}
		}
		steps = append(steps, msg)
		prev = msgName

		if i < len(rawMessages)-1 {
			delayName := fmt.Sprintf("pause_%d", i+1)
			steps = append(steps, stepDef{
				Name:         delayName,
				Handler:      "delay",
				Params:       map[string]any{"seconds": delay},
				Dependencies: []string{msgName},
			})
			prev = delayName
		}
	}
	return steps, nil
}

// dataProcessingSteps loads a value into the context, transforms it with a
// jq query, and logs completion. Params: data (required), query (default
// "."), output_key (default "result").
func dataProcessingSteps(params map[string]any) ([]stepDef, error) {
	data, ok := params["data"]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, `template data_processing requires "data"`)
	}
	query, _ := params["query"].(string)
	if query == "" {
		query = "."
	}
	outputKey, _ := params["output_key"].(string)
	if outputKey == "" {
		outputKey = "result"
	}

	return []stepDef{
		{
			Name:    "load",
			Handler: "set_context",
			Params:  map[string]any{"key": "input", "value": data},
		},
		{
			Name:         "transform",
			Handler:      "transform",
			Params:       map[string]any{"query": query, "input_key": "input", "output_key": outputKey},
			Dependencies: []string{"load"},
		},
		{
			Name:         "report",
			Handler:      "log",
			Params:       map[string]any{"message": "data processing finished", "level": "info"},
			Dependencies: []string{"transform"},
		},
	}, nil
}

// notificationFlowSteps emits a decorated notification gated by an
// optional condition, then records an audit log line. Params: message
// (required), type (info|warning|error|success), condition.
func notificationFlowSteps(params map[string]any) ([]stepDef, error) {
	message, _ := params["message"].(string)
	if message == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, `template notification_flow requires "message"`)
	}
	kind, _ := params["type"].(string)
	if kind == "" {
		kind = "info"
	}
	condition, _ := params["condition"].(string)

	return []stepDef{
		{
			Name:      "notify",
			Handler:   "notification",
			Params:    map[string]any{"message": message, "type": kind},
			Condition: condition,
		},
		{
			Name:         "audit",
			Handler:      "log",
			Params:       map[string]any{"message": "notification dispatched", "level": "info"},
			Dependencies: []string{"notify"},
		},
	}, nil
}
