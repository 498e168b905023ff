// Package sqlite persists the audit trail in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/sire-training/sire/internal/platform/storage/sqlitemigrate"
	"github.com/sire-training/sire/internal/services/sire/audit"
	"github.com/sire-training/sire/internal/services/sire/audit/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed audit persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens an audit SQLite store and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record persists one audit event.
func (s *Store) Record(ctx context.Context, evt audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	evt.Action = strings.TrimSpace(evt.Action)
	if evt.Action == "" {
		return fmt.Errorf("action is required")
	}
	if evt.Outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	if evt.Actor == "" {
		evt.Actor = "unknown"
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	var contextJSON sql.NullString
	if len(evt.Context) > 0 {
		data, err := json.Marshal(evt.Context)
		if err != nil {
			return fmt.Errorf("encode context: %w", err)
		}
		contextJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO audit_events (
	action,
	actor,
	context_json,
	outcome,
	correlation_id,
	request_id,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		evt.Action,
		evt.Actor,
		contextJSON,
		string(evt.Outcome),
		evt.CorrelationID,
		evt.RequestID,
		evt.Timestamp.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// List lists newest-first audit events.
func (s *Store) List(ctx context.Context, limit int) ([]audit.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	action,
	actor,
	context_json,
	outcome,
	correlation_id,
	request_id,
	created_at
FROM audit_events
ORDER BY created_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]audit.Event, 0, limit)
	for rows.Next() {
		var (
			evt         audit.Event
			contextJSON sql.NullString
			outcome     string
			createdAt   int64
		)
		if err := rows.Scan(
			&evt.Action,
			&evt.Actor,
			&contextJSON,
			&outcome,
			&evt.CorrelationID,
			&evt.RequestID,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &evt.Context); err != nil {
				return nil, fmt.Errorf("decode context: %w", err)
			}
		}
		evt.Outcome = audit.Outcome(outcome)
		evt.Timestamp = time.UnixMilli(createdAt).UTC()
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

var _ audit.Sink = (*Store)(nil)
