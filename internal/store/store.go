package store

import (
	"context"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Execution Snapshots
	SaveSnapshot(ctx context.Context, snap *schema.ExecutionSnapshot) error
	GetSnapshot(ctx context.Context, executionID string) (*schema.ExecutionSnapshot, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]*schema.ExecutionSnapshot, error)
	DeleteSnapshot(ctx context.Context, executionID string) error

	// Documents (collections backing the database_operation handler)
	FindDocuments(ctx context.Context, collection string, query map[string]any) ([]map[string]any, error)
	InsertDocument(ctx context.Context, collection string, doc map[string]any) (string, error)
	UpdateDocuments(ctx context.Context, collection string, query, data map[string]any) (int64, error)
	DeleteDocuments(ctx context.Context, collection string, query map[string]any) (int64, error)

	// Scheduled Jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
