// Package store is the SQLite persistence backend: full session state for
// rehydration plus a flattened audit archive that powers reporting queries
// without deserializing whole sessions.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/DRCubix/gansauditor/internal/types"
)

// SQLiteStore implements session.Persistence over a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path. WAL mode
// and a busy timeout keep the single-writer model responsive; connections
// are capped at one because modernc sqlite serializes writes anyway.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply pragma %q: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS audit_history (
		session_id TEXT NOT NULL,
		thought_number INTEGER NOT NULL,
		overall INTEGER NOT NULL,
		verdict TEXT NOT NULL,
		review TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, thought_number)
	);
	CREATE INDEX IF NOT EXISTS idx_history_session ON audit_history(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save upserts the full session state and archives any history entries not
// yet recorded. Archiving is idempotent: INSERT OR IGNORE keyed on
// (session, thought number).
func (s *SQLiteStore) Save(state *types.SessionState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("cannot persist a session without an id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", state.ID, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sessions (id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		state.ID, string(data), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store session %s: %w", state.ID, err)
	}

	for _, h := range state.History {
		review, err := json.Marshal(h.Review)
		if err != nil {
			s.logger.Warn("skipping unarchivable history entry",
				zap.String("session", state.ID),
				zap.Int("thought", h.ThoughtNumber),
				zap.Error(err))
			continue
		}
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO audit_history
			(session_id, thought_number, overall, verdict, review, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			state.ID, h.ThoughtNumber, h.Review.Overall, string(h.Review.Verdict),
			string(review), h.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to archive audit %s/%d: %w", state.ID, h.ThoughtNumber, err)
		}
	}
	return tx.Commit()
}

// Load reads one session's full state.
func (s *SQLiteStore) Load(id string) (*types.SessionState, error) {
	var data string
	err := s.db.QueryRow(`SELECT state FROM sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	var state types.SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("session %s is corrupt: %w", id, err)
	}
	return &state, nil
}

// Delete removes the session and its archive rows.
func (s *SQLiteStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM audit_history WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete history for %s: %w", id, err)
	}
	return tx.Commit()
}

// List returns every stored session id, most recently updated first.
func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ArchiveEntry is one flattened audit for reporting.
type ArchiveEntry struct {
	SessionID     string
	ThoughtNumber int
	Overall       int
	Verdict       types.Verdict
	Review        types.Review
	CreatedAt     time.Time
}

// History returns the archived audits for one session in thought order.
func (s *SQLiteStore) History(sessionID string) ([]ArchiveEntry, error) {
	rows, err := s.db.Query(`
		SELECT session_id, thought_number, overall, verdict, review, created_at
		FROM audit_history WHERE session_id = ? ORDER BY thought_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []ArchiveEntry
	for rows.Next() {
		var e ArchiveEntry
		var review string
		if err := rows.Scan(&e.SessionID, &e.ThoughtNumber, &e.Overall, &e.Verdict, &review, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(review), &e.Review); err != nil {
			s.logger.Warn("corrupt archived review",
				zap.String("session", sessionID),
				zap.Int("thought", e.ThoughtNumber),
				zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
