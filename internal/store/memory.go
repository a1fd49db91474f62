package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// MemoryStore is an in-process Store for tests and persistence-free runs.
// Snapshots and documents are deep-copied through JSON on the way in and
// out so callers never alias internal state.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*schema.ExecutionSnapshot
	snapOrder []string
	documents map[string][]memoryDoc
	jobs      map[string]*ScheduledJob
}

type memoryDoc struct {
	id   string
	data map[string]any
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*schema.ExecutionSnapshot),
		documents: make(map[string][]memoryDoc),
		jobs:      make(map[string]*ScheduledJob),
	}
}

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

// Vacuum is a no-op for the in-memory store.
func (s *MemoryStore) Vacuum(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// --- Execution Snapshots ---

func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap *schema.ExecutionSnapshot) error {
	copied, err := copySnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[snap.ID]; !exists {
		s.snapOrder = append(s.snapOrder, snap.ID)
	}
	s.snapshots[snap.ID] = copied
	return nil
}

func (s *MemoryStore) GetSnapshot(ctx context.Context, executionID string) (*schema.ExecutionSnapshot, error) {
	s.mu.RLock()
	snap, ok := s.snapshots[executionID]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("snapshot", executionID)
	}
	return copySnapshot(snap)
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]*schema.ExecutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*schema.ExecutionSnapshot
	skipped := 0
	for i := len(s.snapOrder) - 1; i >= 0; i-- {
		snap := s.snapshots[s.snapOrder[i]]
		if filter.WorkflowID != "" && snap.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && snap.Status != filter.Status {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		copied, err := copySnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteSnapshot(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[executionID]; !ok {
		return storeNotFound("snapshot", executionID)
	}
	delete(s.snapshots, executionID)
	for i, id := range s.snapOrder {
		if id == executionID {
			s.snapOrder = append(s.snapOrder[:i], s.snapOrder[i+1:]...)
			break
		}
	}
	return nil
}

// --- Documents ---

func (s *MemoryStore) FindDocuments(ctx context.Context, collection string, query map[string]any) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []map[string]any
	for _, doc := range s.documents[collection] {
		copied, err := copyMap(doc.data)
		if err != nil {
			return nil, err
		}
		copied["_id"] = doc.id
		if matchQuery(copied, query) {
			out = append(out, copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertDocument(ctx context.Context, collection string, doc map[string]any) (string, error) {
	copied, err := copyMap(doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.documents[collection] = append(s.documents[collection], memoryDoc{id: id, data: copied})
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) UpdateDocuments(ctx context.Context, collection string, query, data map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for i, doc := range s.documents[collection] {
		probe := make(map[string]any, len(doc.data)+1)
		for k, v := range doc.data {
			probe[k] = v
		}
		probe["_id"] = doc.id
		if !matchQuery(probe, query) {
			continue
		}
		merged, err := copyMap(doc.data)
		if err != nil {
			return updated, err
		}
		for k, v := range data {
			merged[k] = v
		}
		s.documents[collection][i].data = merged
		updated++
	}
	return updated, nil
}

func (s *MemoryStore) DeleteDocuments(ctx context.Context, collection string, query map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.documents[collection][:0]
	var deleted int64
	for _, doc := range s.documents[collection] {
		probe := make(map[string]any, len(doc.data)+1)
		for k, v := range doc.data {
			probe[k] = v
		}
		probe["_id"] = doc.id
		if matchQuery(probe, query) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	s.documents[collection] = kept
	return deleted, nil
}

// --- Scheduled Jobs ---

func (s *MemoryStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	copied := *job
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	if copied.UpdatedAt.IsZero() {
		copied.UpdatedAt = copied.CreatedAt
	}
	s.mu.Lock()
	s.jobs[job.ID] = &copied
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, storeNotFound("scheduled_job", id)
	}
	copied := *job
	return &copied, nil
}

func (s *MemoryStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storeNotFound("scheduled_job", id)
	}
	if update.Enabled != nil {
		job.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		job.LastRunAt = update.LastRunAt
	}
	if update.LastExecutionID != nil {
		job.LastExecutionID = *update.LastExecutionID
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ScheduledJob
	for _, job := range s.jobs {
		if filter.WorkflowID != "" && job.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Enabled != nil && job.Enabled != *filter.Enabled {
			continue
		}
		if filter.DueBefore != nil && job.RunAt != nil && job.RunAt.After(*filter.DueBefore) {
			continue
		}
		copied := *job
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteScheduledJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return storeNotFound("scheduled_job", id)
	}
	delete(s.jobs, id)
	return nil
}

func copySnapshot(snap *schema.ExecutionSnapshot) (*schema.ExecutionSnapshot, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	out := &schema.ExecutionSnapshot{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

func copyMap(m map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
