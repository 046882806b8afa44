// Package sqlitevisited keeps the visited set in an embedded SQLite file, for
// single-node deployments that have no Redis.
package sqlitevisited

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const createVisitedTable = `
CREATE TABLE IF NOT EXISTS visited (
	url TEXT PRIMARY KEY,
	added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Set implements crawler.VisitedSet on a SQLite table.
type Set struct {
	conn *sql.DB
}

// Open creates the database file (and its directory) if needed.
func Open(ctx context.Context, path string) (*Set, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	conn.SetMaxOpenConns(1)
	if _, err := conn.ExecContext(ctx, createVisitedTable); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create visited schema: %w", err)
	}
	return &Set{conn: conn}, nil
}

// Contains reports whether url was added before.
func (s *Set) Contains(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM visited WHERE url = ?`, url).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query visited: %w", err)
	}
	return true, nil
}

// Add records url. Adding twice is a no-op.
func (s *Set) Add(ctx context.Context, url string) error {
	if _, err := s.conn.ExecContext(ctx, `INSERT OR IGNORE INTO visited (url) VALUES (?)`, url); err != nil {
		return fmt.Errorf("insert visited: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Set) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
