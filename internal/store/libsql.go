package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Execution Snapshots ---

func (s *LibSQLStore) SaveSnapshot(ctx context.Context, snap *schema.ExecutionSnapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_snapshots (id, workflow_id, status, progress, user_id, chat_id, snapshot, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, progress=excluded.progress, snapshot=excluded.snapshot,
		   updated_at=CURRENT_TIMESTAMP`,
		snap.ID, snap.WorkflowID, snap.Status, snap.Progress,
		nullStr(snap.UserID), nullStr(snap.ChatID), string(doc),
	)
	return err
}

func (s *LibSQLStore) GetSnapshot(ctx context.Context, executionID string) (*schema.ExecutionSnapshot, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM execution_snapshots WHERE id = ?`, executionID,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("snapshot", executionID)
	}
	if err != nil {
		return nil, err
	}
	snap := &schema.ExecutionSnapshot{}
	if err := json.Unmarshal([]byte(doc), snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *LibSQLStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]*schema.ExecutionSnapshot, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT snapshot FROM execution_snapshots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*schema.ExecutionSnapshot
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		snap := &schema.ExecutionSnapshot{}
		if err := json.Unmarshal([]byte(doc), snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *LibSQLStore) DeleteSnapshot(ctx context.Context, executionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_snapshots WHERE id = ?`, executionID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "snapshot", executionID)
}

// --- Documents ---

func (s *LibSQLStore) FindDocuments(ctx context.Context, collection string, query map[string]any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = ? ORDER BY created_at`, collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []map[string]any
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		doc := map[string]any{}
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal document %s: %w", id, err)
		}
		doc["_id"] = id
		if matchQuery(doc, query) {
			docs = append(docs, doc)
		}
	}
	return docs, rows.Err()
}

func (s *LibSQLStore) InsertDocument(ctx context.Context, collection string, doc map[string]any) (string, error) {
	id := uuid.NewString()
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, data) VALUES (?, ?, ?)`,
		id, collection, string(data),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *LibSQLStore) UpdateDocuments(ctx context.Context, collection string, query, data map[string]any) (int64, error) {
	docs, err := s.FindDocuments(ctx, collection, query)
	if err != nil {
		return 0, err
	}
	var updated int64
	for _, doc := range docs {
		id, _ := doc["_id"].(string)
		delete(doc, "_id")
		for k, v := range data {
			doc[k] = v
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return updated, fmt.Errorf("marshal document %s: %w", id, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE documents SET data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			string(raw), id,
		); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func (s *LibSQLStore) DeleteDocuments(ctx context.Context, collection string, query map[string]any) (int64, error) {
	docs, err := s.FindDocuments(ctx, collection, query)
	if err != nil {
		return 0, err
	}
	var deleted int64
	for _, doc := range docs {
		id, _ := doc["_id"].(string)
		res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return deleted, err
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	jobCtx, err := marshalMapOrDefault(job.Context)
	if err != nil {
		return fmt.Errorf("marshal job context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, workflow_id, cron_expr, run_at, context, user_id, chat_id, enabled, last_run_at, last_execution_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkflowID, nullStr(job.CronExpr), nullTime(job.RunAt),
		string(jobCtx), nullStr(job.UserID), nullStr(job.ChatID),
		boolToInt(job.Enabled), nullTime(job.LastRunAt), nullStr(job.LastExecutionID),
		timeOrNow(job.CreatedAt), timeOrNow(job.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, cron_expr, run_at, context, user_id, chat_id, enabled, last_run_at, last_execution_id, created_at, updated_at
		 FROM scheduled_jobs WHERE id = ?`, id,
	)
	job, err := scanScheduledJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled_job", id)
	}
	return job, err
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.LastExecutionID != nil {
		sets = append(sets, "last_execution_id = ?")
		args = append(args, *update.LastExecutionID)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolToInt(*filter.Enabled))
	}
	if filter.DueBefore != nil {
		where = append(where, "(run_at IS NULL OR run_at <= ?)")
		args = append(args, *filter.DueBefore)
	}

	query := `SELECT id, workflow_id, cron_expr, run_at, context, user_id, chat_id, enabled, last_run_at, last_execution_id, created_at, updated_at FROM scheduled_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_job", id)
}

func scanScheduledJob(scan func(dest ...any) error) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var cronExpr, contextJSON, userID, chatID, lastExecID sql.NullString
	var runAt, lastRunAt sql.NullTime
	var enabled int
	if err := scan(&job.ID, &job.WorkflowID, &cronExpr, &runAt, &contextJSON,
		&userID, &chatID, &enabled, &lastRunAt, &lastExecID,
		&job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.CronExpr = cronExpr.String
	job.UserID = userID.String
	job.ChatID = chatID.String
	job.LastExecutionID = lastExecID.String
	job.Enabled = enabled != 0
	if runAt.Valid {
		job.RunAt = &runAt.Time
	}
	if lastRunAt.Valid {
		job.LastRunAt = &lastRunAt.Time
	}
	if contextJSON.Valid && contextJSON.String != "" {
		_ = json.Unmarshal([]byte(contextJSON.String), &job.Context)
	}
	return job, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
