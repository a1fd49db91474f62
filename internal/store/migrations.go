package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed migrations/001_initial_schema.sql
var initialSchema string

// revisions lists the schema scripts in order. The database's
// PRAGMA user_version records how many have been applied, so revision N
// lives at index N-1 and new scripts only ever append.
var revisions = []string{
	initialSchema,
}

// runMigrations brings the database up to the latest schema revision.
// Each pending revision runs in its own transaction together with the
// user_version bump, so a failed script leaves the version untouched.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(revisions) {
		return fmt.Errorf("database schema version %d is newer than this binary (%d)", version, len(revisions))
	}

	for n := version; n < len(revisions); n++ {
		if err := applyRevision(ctx, db, n+1, revisions[n]); err != nil {
			return err
		}
	}
	return nil
}

func applyRevision(ctx context.Context, db *sql.DB, version int, script string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema revision %d: %w", version, err)
	}
	defer tx.Rollback()

	for _, stmt := range sqlStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema revision %d: %w", version, err)
		}
	}
	// PRAGMA takes no placeholders.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("bump schema version to %d: %w", version, err)
	}
	return tx.Commit()
}

// sqlStatements cuts a script into executable statements. Comment-only and
// blank lines are dropped; a statement ends at a line whose last token is a
// semicolon, which is how the embedded scripts are written.
func sqlStatements(script string) []string {
	var out []string
	var current []string

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(strings.Join(current, "\n")), ";")
		if stmt != "" {
			out = append(out, stmt)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current = append(current, line)
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return out
}
