package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reelforge/reelforge/internal/core"
)

// ErrVersionConflict is returned when a project save carries a stale version.
var ErrVersionConflict = errors.New("project version conflict")

const defaultProjectListLimit = 50

// GetProject returns the stored project, or nil when it does not exist.
func (s *Store) GetProject(ctx context.Context, id string) (*core.Project, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("project id is required")
	}

	var (
		data      string
		version   int64
		createdAt int64
		updatedAt int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT data, version, created_at, updated_at
		FROM projects
		WHERE id = ?
	`, id)

	if err := row.Scan(&data, &version, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch project: %w", err)
	}

	return decodeProject(id, data, version, createdAt, updatedAt)
}

// SaveProject inserts a new project (Version 0) or updates an existing one
// whose stored version matches. On success the project's Version and
// timestamps reflect the stored row.
func (s *Store) SaveProject(ctx context.Context, project *core.Project) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if project == nil {
		return errors.New("project is required")
	}
	if strings.TrimSpace(project.ID) == "" {
		return errors.New("project id is required")
	}

	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	updatedAt := now

	data, err := encodeProject(project)
	if err != nil {
		return err
	}

	if project.Version == 0 {
		_, err := s.DB.ExecContext(ctx, `
			INSERT INTO projects (id, title, status, data, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
		`, project.ID, project.Title, string(project.Status), data, project.CreatedAt.UnixMilli(), updatedAt.UnixMilli())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("insert project: %w", err)
		}
		project.Version = 1
		project.UpdatedAt = updatedAt
		return nil
	}

	result, err := s.DB.ExecContext(ctx, `
		UPDATE projects
		SET title = ?, status = ?, data = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, project.Title, string(project.Status), data, updatedAt.UnixMilli(), project.ID, project.Version)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	project.Version++
	project.UpdatedAt = updatedAt
	return nil
}

// ListProjects returns the most recently updated projects first.
func (s *Store) ListProjects(ctx context.Context, limit int) ([]core.Project, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if limit <= 0 {
		limit = defaultProjectListLimit
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, data, version, created_at, updated_at
		FROM projects
		ORDER BY updated_at DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var projects []core.Project
	for rows.Next() {
		var (
			id        string
			data      string
			version   int64
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&id, &data, &version, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		project, err := decodeProject(id, data, version, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	return projects, nil
}

func encodeProject(project *core.Project) (string, error) {
	payload, err := json.Marshal(project)
	if err != nil {
		return "", fmt.Errorf("encode project: %w", err)
	}
	return string(payload), nil
}

func decodeProject(id, data string, version, createdAt, updatedAt int64) (*core.Project, error) {
	var project core.Project
	if err := json.Unmarshal([]byte(data), &project); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", id, err)
	}

	// Row columns are authoritative over the JSON payload.
	project.ID = id
	project.Version = version
	project.CreatedAt = time.UnixMilli(createdAt).UTC()
	project.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &project, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
