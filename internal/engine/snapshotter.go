package engine

import (
	"context"
	"log/slog"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// SnapshotStore persists execution snapshots. The libsql store and the
// in-memory store both satisfy it.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *schema.ExecutionSnapshot) error
}

// Snapshotter writes execution snapshots on every state transition.
// Persistence failures are logged and swallowed: a broken store must not
// take down a running execution.
type Snapshotter struct {
	store  SnapshotStore
	logger *slog.Logger
}

func NewSnapshotter(store SnapshotStore, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{store: store, logger: logger}
}

// Snapshot captures and persists the execution's current state. Safe to
// call with a nil store (snapshotting disabled).
func (s *Snapshotter) Snapshot(ctx context.Context, exec *schema.WorkflowExecution) {
	if s == nil || s.store == nil {
		return
	}
	snap := exec.Snapshot()
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "snapshot persistence failed",
			slog.String("execution_id", exec.ID),
			slog.String("error", err.Error()))
	}
}
