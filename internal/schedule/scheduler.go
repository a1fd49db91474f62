package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/stepflow-dev/stepflow/internal/engine"
	"github.com/stepflow-dev/stepflow/internal/store"
)

// WorkflowRunner is the slice of the engine the scheduler needs.
type WorkflowRunner interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, initial map[string]any, opts *engine.ExecuteOptions) (string, error)
}

// Scheduler polls the store for due scheduled jobs and starts their
// workflows. One-shot jobs disable themselves after firing; cron jobs fire
// whenever a cron boundary passed since their last run.
type Scheduler struct {
	store  store.Store
	runner WorkflowRunner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, runner WorkflowRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// ScheduleOnce registers a one-shot job that starts the workflow after the
// given delay.
func (s *Scheduler) ScheduleOnce(ctx context.Context, workflowID string, delay time.Duration, initial map[string]any, chatID, userID string) (string, error) {
	runAt := time.Now().UTC().Add(delay)
	job := &store.ScheduledJob{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		RunAt:      &runAt,
		Context:    initial,
		ChatID:     chatID,
		UserID:     userID,
		Enabled:    true,
	}
	if err := s.store.CreateScheduledJob(ctx, job); err != nil {
		return "", fmt.Errorf("create scheduled job: %w", err)
	}
	return job.ID, nil
}

// ScheduleCron registers a recurring job driven by a five-field cron
// expression. The expression is validated up front.
func (s *Scheduler) ScheduleCron(ctx context.Context, workflowID, cronExpr string, initial map[string]any, chatID, userID string) (string, error) {
	if _, err := s.parser.Parse(cronExpr); err != nil {
		return "", fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	job := &store.ScheduledJob{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		CronExpr:   cronExpr,
		Context:    initial,
		ChatID:     chatID,
		UserID:     userID,
		Enabled:    true,
	}
	if err := s.store.CreateScheduledJob(ctx, job); err != nil {
		return "", fmt.Errorf("create scheduled job: %w", err)
	}
	return job.ID, nil
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick checks all enabled jobs and runs those that are due. Exported so
// tests can drive the scheduler without waiting for the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	enabled := true
	now := time.Now().UTC()
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled, DueBefore: &now})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	for _, job := range jobs {
		if !s.due(job, now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue // already running (dedup)
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// due reports whether the job should fire at the given instant.
func (s *Scheduler) due(job *store.ScheduledJob, now time.Time) bool {
	if job.CronExpr == "" {
		// One-shot: due once its run_at passed and it never ran.
		return job.RunAt != nil && !job.RunAt.After(now) && job.LastRunAt == nil
	}
	schedule, err := s.parser.Parse(job.CronExpr)
	if err != nil {
		return false
	}
	from := job.CreatedAt
	if job.LastRunAt != nil {
		from = *job.LastRunAt
	}
	return !schedule.Next(from).After(now)
}

// runJob starts the job's workflow and updates its bookkeeping. One-shot
// jobs are disabled after their single run.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", job.WorkflowID),
	)

	execID, err := s.runner.ExecuteWorkflow(ctx, job.WorkflowID, job.Context, &engine.ExecuteOptions{
		ChatID: job.ChatID,
		UserID: job.UserID,
	})
	if err != nil {
		s.logger.Error("scheduled job execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	update := store.ScheduledJobUpdate{LastRunAt: &now, LastExecutionID: &execID}
	if job.CronExpr == "" {
		disabled := false
		update.Enabled = &disabled
	}
	return s.store.UpdateScheduledJob(ctx, job.ID, update)
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
