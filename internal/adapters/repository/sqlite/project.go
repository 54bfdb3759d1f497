// Package sqlite stores project snapshots in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/pkg/serialization"
)

// Store implements project.Store for SQLite
type Store struct {
	db         *sql.DB
	serializer *serialization.Serializer
	tableName  string
}

// NewStore wraps an open database.
func NewStore(db *sql.DB, serializer *serialization.Serializer) *Store {
	if serializer == nil {
		serializer = serialization.Default()
	}
	return &Store{db: db, serializer: serializer, tableName: "projects"}
}

// Open opens (or creates) the database file at path and its tables.
func Open(ctx context.Context, path string, serializer *serialization.Serializer) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := NewStore(db, serializer)
	if err := s.CreateTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// WithTableName allows overriding the default table name with validation.
// Only alphanumeric and underscore are permitted to prevent SQL injection via identifiers.
func (s *Store) WithTableName(name string) *Store {
	if isSafeIdent(name) {
		s.tableName = name
	}
	return s
}

func isSafeIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}
	return true
}

// Save stores a project, replacing one with the same ID
func (s *Store) Save(ctx context.Context, p *project.Project) error {
	if p == nil {
		return project.ErrInvalidProjectID
	}
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := s.serializer.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize project: %w", err)
	}
	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (id, name, workflow, data, metadata, timestamp, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.tableName)
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Workflow, data, string(metadataJSON), p.Timestamp.UnixNano(), p.Version)
	if err != nil {
		return fmt.Errorf("%w: %v", project.ErrSaveFailed, err)
	}
	return nil
}

// Load retrieves a project by ID
func (s *Store) Load(ctx context.Context, id string) (*project.Project, error) {
	if id == "" {
		return nil, project.ErrInvalidProjectID
	}
	query := fmt.Sprintf("SELECT data FROM %s WHERE id = ?", s.tableName)

	var data []byte
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, project.ErrProjectNotFound
		}
		return nil, fmt.Errorf("%w: %v", project.ErrLoadFailed, err)
	}
	var p project.Project
	if err := s.serializer.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", project.ErrLoadFailed, err)
	}
	return &p, nil
}

// List returns project summaries without applet data, newest first
func (s *Store) List(ctx context.Context, filter project.Filter) ([]*project.Project, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	query, args := s.buildListQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*project.Project
	for rows.Next() {
		var p project.Project
		var metadataJSON string
		var ts int64
		if err := rows.Scan(&p.ID, &p.Name, &p.Workflow, &metadataJSON, &ts, &p.Version); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		p.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(metadataJSON), &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to deserialize metadata: %w", err)
		}
		if filter.Matches(&p) {
			out = append(out, &p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(filter.Tags) > 0 {
		return filter.Page(out), nil
	}
	return out, nil
}

// Delete removes a project by ID
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return project.ErrInvalidProjectID
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.tableName)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: %v", project.ErrDeleteFailed, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return project.ErrProjectNotFound
	}
	return nil
}

// CreateTables creates the necessary database tables
func (s *Store) CreateTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			workflow TEXT NOT NULL,
			data BLOB NOT NULL,
			metadata TEXT,
			timestamp INTEGER NOT NULL,
			version TEXT NOT NULL DEFAULT '1.0'
		);

		CREATE INDEX IF NOT EXISTS idx_%s_workflow ON %s (workflow);
		CREATE INDEX IF NOT EXISTS idx_%s_timestamp ON %s (timestamp);
	`, s.tableName, s.tableName, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// buildListQuery filters by the indexed columns. Tags live in the metadata
// JSON and are matched after scanning, so paging moves out of SQL then.
func (s *Store) buildListQuery(filter project.Filter) (string, []interface{}) {
	query := fmt.Sprintf("SELECT id, name, workflow, metadata, timestamp, version FROM %s WHERE 1=1", s.tableName)
	args := make([]interface{}, 0)

	if filter.Workflow != "" {
		query += " AND workflow = ?"
		args = append(args, filter.Workflow)
	}
	if filter.Name != "" {
		query += " AND name = ?"
		args = append(args, filter.Name)
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UnixNano())
	}
	if filter.Before != nil {
		query += " AND timestamp < ?"
		args = append(args, filter.Before.UnixNano())
	}

	query += " ORDER BY timestamp DESC"

	if len(filter.Tags) == 0 {
		if filter.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, filter.Limit)
		}
		if filter.Offset > 0 {
			if filter.Limit <= 0 {
				query += " LIMIT -1"
			}
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}
	return query, args
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
