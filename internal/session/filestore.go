package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/DRCubix/gansauditor/internal/types"
)

// FileStore persists one JSON file per session under a directory. Writes
// go through a temp file and rename; an overwrite first copies the old
// file to <id>.json.bak so a crashed write never loses the last state.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

// Save writes the session state atomically, backing up any previous file.
func (f *FileStore) Save(state *types.SessionState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("cannot persist a session without an id")
	}
	if err := validateID(state.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", state.ID, err)
	}

	target := f.path(state.ID)
	if _, err := os.Stat(target); err == nil {
		if old, err := os.ReadFile(target); err == nil {
			if err := os.WriteFile(target+".bak", old, 0o644); err != nil {
				f.logger.Warn("session backup failed",
					zap.String("session", state.ID),
					zap.Error(err))
			}
		}
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session %s: %w", state.ID, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit session %s: %w", state.ID, err)
	}
	return nil
}

// Load reads one persisted session.
func (f *FileStore) Load(id string) (*types.SessionState, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("session %s is corrupt: %w", id, err)
	}
	return &state, nil
}

// Delete removes the session file and its backup.
func (f *FileStore) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	os.Remove(f.path(id) + ".bak")
	return nil
}

// List returns the IDs of every persisted session.
func (f *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list session directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// validateID refuses IDs that would escape the session directory.
func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}
