package schema

import "time"

// ExecutionSnapshot is the plain document persisted to the external store
// after each transition, keyed by execution id. Enum values serialize as
// their lowercase names, timestamps as RFC 3339.
type ExecutionSnapshot struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	Status      string         `json:"status"`
	CurrentStep string         `json:"current_step,omitempty"`
	Context     map[string]any `json:"context"`
	StartedAt   string         `json:"started_at,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	ChatID      string         `json:"chat_id,omitempty"`
	MessageID   string         `json:"message_id,omitempty"`
	Progress    float64        `json:"progress"`
	Steps       []StepSnapshot `json:"steps"`
}

// StepSnapshot is one step entry in an execution snapshot.
type StepSnapshot struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Status      string      `json:"status"`
	Attempts    int         `json:"attempts"`
	StartedAt   string      `json:"started_at,omitempty"`
	CompletedAt string      `json:"completed_at,omitempty"`
	Result      *StepResult `json:"result,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Snapshot serializes the execution's current state into a snapshot
// document. Safe to call while steps are running; the execution lock
// serializes against context mutation.
func (e *WorkflowExecution) Snapshot() *ExecutionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	steps := make([]StepSnapshot, len(e.Steps))
	for i, s := range e.Steps {
		steps[i] = StepSnapshot{
			ID:          s.ID,
			Name:        s.Name,
			Status:      string(s.Status),
			Attempts:    s.Attempts,
			StartedAt:   formatTime(s.StartedAt),
			CompletedAt: formatTime(s.CompletedAt),
			Result:      s.Result,
		}
	}

	context := make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		context[k] = v
	}

	return &ExecutionSnapshot{
		ID:          e.ID,
		WorkflowID:  e.WorkflowID,
		Status:      string(e.Status),
		CurrentStep: e.CurrentStep,
		Context:     context,
		StartedAt:   formatTime(e.StartedAt),
		CompletedAt: formatTime(e.CompletedAt),
		UserID:      e.UserID,
		ChatID:      e.ChatID,
		MessageID:   e.MessageID,
		Progress:    e.Progress,
		Steps:       steps,
	}
}
