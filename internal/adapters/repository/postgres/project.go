// Package postgres stores project snapshots in PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/pkg/serialization"
)

// Store implements project.Store for PostgreSQL
type Store struct {
	pool       *pgxpool.Pool
	serializer *serialization.Serializer
	tableName  string
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool, serializer *serialization.Serializer) *Store {
	if serializer == nil {
		serializer = serialization.Default()
	}
	return &Store{pool: pool, serializer: serializer, tableName: "projects"}
}

// Open connects to dsn and creates the tables.
func Open(ctx context.Context, dsn string, serializer *serialization.Serializer) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewStore(pool, serializer)
	if err := s.CreateTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
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
		INSERT INTO %s (id, name, workflow, data, metadata, timestamp, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			data = EXCLUDED.data,
			metadata = EXCLUDED.metadata,
			timestamp = EXCLUDED.timestamp,
			version = EXCLUDED.version
	`, s.tableName)
	_, err = s.pool.Exec(ctx, query, p.ID, p.Name, p.Workflow, data, metadataJSON, p.Timestamp, p.Version)
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
	query := fmt.Sprintf("SELECT data FROM %s WHERE id = $1", s.tableName)

	var data []byte
	if err := s.pool.QueryRow(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*project.Project
	for rows.Next() {
		var p project.Project
		var metadataJSON []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Workflow, &metadataJSON, &p.Timestamp, &p.Version); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to deserialize metadata: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Delete removes a project by ID
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return project.ErrInvalidProjectID
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName)
	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: %v", project.ErrDeleteFailed, err)
	}
	if result.RowsAffected() == 0 {
		return project.ErrProjectNotFound
	}
	return nil
}

// CreateTables creates the necessary database tables
func (s *Store) CreateTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			name TEXT NOT NULL,
			workflow VARCHAR(255) NOT NULL,
			data BYTEA NOT NULL,
			metadata JSONB,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			version VARCHAR(50) NOT NULL DEFAULT '1.0'
		);

		CREATE INDEX IF NOT EXISTS idx_%s_workflow ON %s (workflow);
		CREATE INDEX IF NOT EXISTS idx_%s_timestamp ON %s (timestamp);
	`, s.tableName, s.tableName, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// buildListQuery constructs the SQL query for listing projects. Tags are
// matched with JSONB containment.
func (s *Store) buildListQuery(filter project.Filter) (string, []interface{}) {
	query := fmt.Sprintf("SELECT id, name, workflow, metadata, timestamp, version FROM %s WHERE 1=1", s.tableName)
	args := make([]interface{}, 0)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Workflow != "" {
		query += " AND workflow = " + arg(filter.Workflow)
	}
	if filter.Name != "" {
		query += " AND name = " + arg(filter.Name)
	}
	if filter.Since != nil {
		query += " AND timestamp >= " + arg(*filter.Since)
	}
	if filter.Before != nil {
		query += " AND timestamp < " + arg(*filter.Before)
	}
	if len(filter.Tags) > 0 {
		tags, _ := json.Marshal(map[string][]string{"tags": filter.Tags})
		query += " AND metadata @> " + arg(string(tags)) + "::jsonb"
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}
	return query, args
}

// Close closes the database connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
