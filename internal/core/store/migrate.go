package store

import (
	"context"
	"errors"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_projects_updated ON projects(updated_at);`,
	`CREATE TABLE IF NOT EXISTS call_log (
		id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		operation TEXT NOT NULL,
		model TEXT,
		credential INTEGER NOT NULL DEFAULT -1,
		attempts INTEGER NOT NULL DEFAULT 0,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		kind TEXT,
		error TEXT,
		started_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_call_log_started ON call_log(started_at);`,
	`CREATE INDEX IF NOT EXISTS idx_call_log_service ON call_log(service, started_at);`,
}

// addedColumns are columns introduced after a table first shipped. Migrate
// adds whichever are missing from an older database file.
var addedColumns = []struct {
	table, column, definition string
}{
	{"call_log", "operation", "TEXT NOT NULL DEFAULT ''"},
}

// Migrate creates the projects and call_log tables and brings older files up
// to the current column set. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schema {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	for _, c := range addedColumns {
		present, err := s.hasColumn(ctx, c.table, c.column)
		if err != nil {
			return err
		}
		if present {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.definition)
		if _, err := s.DB.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	return n > 0, nil
}
