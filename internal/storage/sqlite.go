package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/neyroplan/neyroplan/internal/session"
)

// snapshotSchema holds the whole serialized collection in one row, the
// same single-slot model the file backend uses.
const snapshotSchema = `
CREATE TABLE IF NOT EXISTS snapshot (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	payload    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// SQLiteStore persists the session collection in a single-row SQLite
// table. Safe for concurrent use; SQLite serializes the writes.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and prepares
// the snapshot table.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the persisted snapshot. An empty table means nothing was
// saved yet and returns (nil, nil).
func (s *SQLiteStore) Load(ctx context.Context) ([]session.ChatSession, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM snapshot WHERE id = 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var sessions []session.ChatSession
	if err := json.Unmarshal([]byte(payload), &sessions); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return sessions, nil
}

// Save replaces the snapshot row; last full write wins.
func (s *SQLiteStore) Save(ctx context.Context, sessions []session.ChatSession) error {
	payload, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshot (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
