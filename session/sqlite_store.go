package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	// SQLite driver registered under "sqlite3", mirroring the teacher's
	// SQLSessionService which imports the same three drivers blank and
	// dispatches on dialect.
	_ "github.com/mattn/go-sqlite3"
)

const createSnapshotsTableSQL = `
CREATE TABLE IF NOT EXISTS session_snapshots (
    session_id VARCHAR(255) PRIMARY KEY,
    snapshot_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_snapshots_updated_at ON session_snapshots(updated_at);
`

// SQLiteStore persists snapshots as opaque JSON blobs in a single-table
// SQLite database, for deployments that want queryable session history
// without standing up a server process.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenSQLiteStore(dir string) (*SQLiteStore, error) {
	path := filepath.Join(dir, "sessions.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // avoid SQLITE_BUSY under concurrent writers

	if _, err := db.Exec(createSnapshotsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", snap.SessionID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (session_id, snapshot_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET snapshot_json = excluded.snapshot_json, updated_at = excluded.updated_at
	`, snap.SessionID, string(data), snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("session: save %s: %w", snap.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM session_snapshots WHERE session_id = ?`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", sessionID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", sessionID, err)
	}
	return &snap, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT snapshot_json FROM session_snapshots ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("session: scan: %w", err)
		}
		var snap Snapshot
		if json.Unmarshal([]byte(data), &snap) != nil {
			continue
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("session: delete %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session: delete %s: %w", sessionID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
