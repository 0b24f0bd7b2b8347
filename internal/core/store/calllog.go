package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge/internal/core"
)

const defaultCallLogLimit = 100

// CallLogFilter narrows ListCallRecords.
type CallLogFilter struct {
	Service string
	// FailedOnly keeps records that ended with an error kind.
	FailedOnly bool
	Limit      int
}

// InsertCallRecord appends one call outcome to the call log. A missing ID is
// generated.
func (s *Store) InsertCallRecord(ctx context.Context, record *core.CallRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if record == nil {
		return errors.New("call record is required")
	}
	if strings.TrimSpace(record.Service) == "" {
		return errors.New("call record service is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO call_log (id, service, operation, model, credential, attempts, elapsed_ms, kind, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.Service,
		record.Operation,
		nullString(record.Model),
		record.Credential,
		record.Attempts,
		record.Elapsed.Milliseconds(),
		nullString(record.Kind),
		nullString(record.Error),
		record.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// ListCallRecords returns call log entries, newest first.
func (s *Store) ListCallRecords(ctx context.Context, filter CallLogFilter) ([]core.CallRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultCallLogLimit
	}

	query := `
		SELECT id, service, operation, model, credential, attempts, elapsed_ms, kind, error, started_at
		FROM call_log`
	var (
		clauses []string
		args    []any
	)
	if service := strings.TrimSpace(filter.Service); service != "" {
		clauses = append(clauses, "service = ?")
		args = append(args, service)
	}
	if filter.FailedOnly {
		clauses = append(clauses, "kind IS NOT NULL AND kind != ''")
	}
	if len(clauses) > 0 {
		query += "\n\t\tWHERE " + strings.Join(clauses, " AND ")
	}
	query += "\n\t\tORDER BY started_at DESC, id ASC\n\t\tLIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var records []core.CallRecord
	for rows.Next() {
		var (
			record    core.CallRecord
			model     sql.NullString
			kind      sql.NullString
			errText   sql.NullString
			elapsedMs int64
			startedAt int64
		)
		if err := rows.Scan(
			&record.ID,
			&record.Service,
			&record.Operation,
			&model,
			&record.Credential,
			&record.Attempts,
			&elapsedMs,
			&kind,
			&errText,
			&startedAt,
		); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		record.Model = model.String
		record.Kind = kind.String
		record.Error = errText.String
		record.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		record.StartedAt = time.UnixMilli(startedAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}

	return records, nil
}

// PruneCallRecords deletes entries that started before the cutoff.
func (s *Store) PruneCallRecords(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM call_log WHERE started_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune call records: %w", err)
	}
	return result.RowsAffected()
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	return sql.NullString{String: value, Valid: value != ""}
}
