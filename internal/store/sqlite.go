package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/modelsync/collab/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS models (
	project_id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	revision INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);`

// SQLite stores one row per project with the model encoded as JSON.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path. Use
// ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	glog.V(1).Infof("opening model database %s", path)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return NewSQLite(db), nil
}

// NewSQLite wraps an already open database whose schema exists.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Load(ctx context.Context, projectID string) (*model.Model, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM models WHERE project_id = ?`, projectID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return model.New(projectID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	var m model.Model
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	m.ProjectID = projectID
	if m.RepresentationLabels == nil {
		m.RepresentationLabels = make(map[string]string)
	}
	return &m, nil
}

func (s *SQLite) Persist(ctx context.Context, projectID string, m *model.Model) error {
	if err := validateProjectID(projectID); err != nil {
		return err
	}
	content, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO models (project_id, content, revision, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET content = excluded.content, revision = excluded.revision, updated_at = excluded.updated_at`,
		projectID, string(content), int64(m.Revision), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return nil
}

// Count returns the number of persisted projects.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM models`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
