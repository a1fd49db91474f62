package store

import "time"

// ScheduledJob is a persisted trigger for a workflow: either a one-shot
// (RunAt set) or a recurring cron schedule (CronExpr set).
type ScheduledJob struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	CronExpr        string         `json:"cron_expr,omitempty"`
	RunAt           *time.Time     `json:"run_at,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	ChatID          string         `json:"chat_id,omitempty"`
	Enabled         bool           `json:"enabled"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	LastExecutionID string         `json:"last_execution_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ScheduledJobUpdate is a partial update; nil fields are left untouched.
type ScheduledJobUpdate struct {
	Enabled         *bool
	LastRunAt       *time.Time
	LastExecutionID *string
}

// ScheduledJobFilter narrows ListScheduledJobs.
type ScheduledJobFilter struct {
	WorkflowID string
	Enabled    *bool
	// DueBefore matches one-shot jobs whose RunAt is at or before the
	// given instant, plus all recurring jobs.
	DueBefore *time.Time
	Limit     int
}

// SnapshotFilter narrows ListSnapshots.
type SnapshotFilter struct {
	WorkflowID string
	Status     string
	Limit      int
	Offset     int
}
