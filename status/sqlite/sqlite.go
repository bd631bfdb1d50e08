// Package sqlite provides a SQLite-backed status.Store: the literal clients
// table for single-node deployments that want status to survive restarts
// without an external service.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wirebind/sessiond/status"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	tenant_id  TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store persists status rows in a SQLite clients table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create clients table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) SetStatus(ctx context.Context, tenantID, value string, updatedAt time.Time) error {
	const q = `
INSERT INTO clients (tenant_id, status, updated_at) VALUES (?, ?, ?)
ON CONFLICT (tenant_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at;`
	if _, err := s.db.ExecContext(ctx, q, tenantID, value, updatedAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("upsert status for %s: %w", tenantID, err)
	}
	return nil
}

func (s *Store) GetStatus(ctx context.Context, tenantID string) (*status.Record, error) {
	const q = `SELECT status, updated_at FROM clients WHERE tenant_id = ?;`
	var value string
	var millis int64
	err := s.db.QueryRowContext(ctx, q, tenantID).Scan(&value, &millis)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select status for %s: %w", tenantID, err)
	}
	return &status.Record{
		TenantID:  tenantID,
		Value:     value,
		UpdatedAt: time.UnixMilli(millis).UTC(),
	}, nil
}

func (s *Store) ClearStatus(ctx context.Context, tenantID string) error {
	const q = `DELETE FROM clients WHERE tenant_id = ?;`
	if _, err := s.db.ExecContext(ctx, q, tenantID); err != nil {
		return fmt.Errorf("delete status for %s: %w", tenantID, err)
	}
	return nil
}
