// Package session owns per-session audit state: history, iteration tape,
// merged configuration, and completion flags. The manager is strictly
// in-memory; durability is delegated to an injected Persistence backend
// whose failures never poison the caller's result.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DRCubix/gansauditor/internal/fingerprint"
	"github.com/DRCubix/gansauditor/internal/types"
)

// ErrSessionNotFound is returned by GetSession for unknown IDs.
var ErrSessionNotFound = errors.New("session not found")

// Persistence is the external durability collaborator. Implementations may
// fail; the manager logs and carries on.
type Persistence interface {
	Save(state *types.SessionState) error
	Load(id string) (*types.SessionState, error)
	Delete(id string) error
	List() ([]string, error)
}

// Manager is the in-memory session façade. A single session is owned by
// one in-flight audit at a time; different sessions never contend beyond
// the map lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*types.SessionState

	persist  Persistence
	defaults types.SessionConfig
	logger   *zap.Logger
}

// NewManager builds a manager. persist may be nil for purely ephemeral
// sessions.
func NewManager(persist Persistence, defaults types.SessionConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults.Clamp()
	return &Manager{
		sessions: make(map[string]*types.SessionState),
		persist:  persist,
		defaults: defaults,
		logger:   logger,
	}
}

// GenerateSessionID returns a fresh unique session identifier.
func (m *Manager) GenerateSessionID() string {
	return "session-" + uuid.NewString()
}

// GetSession returns the session for id, rehydrating from persistence when
// it is not in memory. Corrupt persisted sessions count as not found.
func (m *Manager) GetSession(id string) (*types.SessionState, error) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return state, nil
	}

	if m.persist != nil {
		loaded, err := m.persist.Load(id)
		if err == nil && loaded != nil && loaded.ID == id {
			m.mu.Lock()
			// Another caller may have raced the load.
			if existing, ok := m.sessions[id]; ok {
				m.mu.Unlock()
				return existing, nil
			}
			m.sessions[id] = loaded
			m.mu.Unlock()
			return loaded, nil
		}
		if err != nil {
			m.logger.Debug("session rehydration failed",
				zap.String("session", id),
				zap.Error(err))
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// CreateSession makes a new session. An empty id is generated. An existing
// in-memory session with the same id is replaced (corrupt-session
// recovery).
func (m *Manager) CreateSession(id string) *types.SessionState {
	if id == "" {
		id = m.GenerateSessionID()
	}
	now := time.Now()
	state := &types.SessionState{
		ID:        id,
		Config:    m.defaults,
		History:   []types.HistoryEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.sessions[id] = state
	m.mu.Unlock()

	m.save(state)
	m.logger.Debug("session created", zap.String("session", id))
	return state
}

// GetOrCreateSession returns the existing session or creates a fresh one.
func (m *Manager) GetOrCreateSession(id string) *types.SessionState {
	if id != "" {
		if state, err := m.GetSession(id); err == nil {
			return state
		}
	}
	return m.CreateSession(id)
}

// UpdateSession stores modified session state and persists it. UpdatedAt
// is advanced monotonically.
func (m *Manager) UpdateSession(state *types.SessionState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("cannot update a session without an id")
	}

	m.mu.Lock()
	now := time.Now()
	if !now.After(state.UpdatedAt) {
		now = state.UpdatedAt.Add(time.Nanosecond)
	}
	state.UpdatedAt = now
	m.sessions[state.ID] = state
	m.mu.Unlock()

	m.save(state)
	return nil
}

// AddAuditToHistory appends one completed audit. The thought number must be
// exactly len(history)+1 and the session must still be open; out-of-order
// or duplicate appends are rejected.
func (m *Manager) AddAuditToHistory(sessionID string, thoughtNumber int, review *types.Review, config types.SessionConfig) error {
	if review == nil {
		return fmt.Errorf("cannot append a nil review")
	}

	m.mu.Lock()
	state, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if state.IsComplete {
		m.mu.Unlock()
		return fmt.Errorf("session %s is complete; history is frozen", sessionID)
	}
	if want := len(state.History) + 1; thoughtNumber != want {
		m.mu.Unlock()
		return fmt.Errorf("out-of-order append: thoughtNumber %d, expected %d", thoughtNumber, want)
	}

	now := time.Now()
	if n := len(state.History); n > 0 && !now.After(state.History[n-1].Timestamp) {
		now = state.History[n-1].Timestamp.Add(time.Nanosecond)
	}

	stored := review.Clone()
	state.History = append(state.History, types.HistoryEntry{
		ThoughtNumber: thoughtNumber,
		Review:        *stored,
		Config:        config,
		Timestamp:     now,
	})
	state.CurrentLoop = len(state.History)
	state.LastGan = stored
	if !now.After(state.UpdatedAt) {
		now = state.UpdatedAt.Add(time.Nanosecond)
	}
	state.UpdatedAt = now
	m.mu.Unlock()

	m.save(state)
	return nil
}

// AddIteration records the candidate code behind one audit for stagnation
// analysis. Thoughts without code content are skipped.
func (m *Manager) AddIteration(sessionID string, thoughtNumber int, thoughtText string, review *types.Review) error {
	code := fingerprint.Normalize(thoughtText)
	if code == "" {
		return nil
	}

	m.mu.Lock()
	state, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	state.Iterations = append(state.Iterations, types.IterationData{
		ThoughtNumber: thoughtNumber,
		Code:          code,
		AuditResult:   *review.Clone(),
		Timestamp:     time.Now(),
	})
	m.mu.Unlock()

	m.save(state)
	return nil
}

// MarkComplete freezes the session. Further history appends fail.
func (m *Manager) MarkComplete(sessionID string, stagnation *types.StagnationResult) error {
	m.mu.Lock()
	state, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	state.IsComplete = true
	if stagnation != nil {
		state.StagnationInfo = stagnation
	}
	state.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.save(state)
	return nil
}

// CleanupSessions drops sessions idle for longer than olderThan from
// memory and persistence. Returns how many were removed.
func (m *Manager) CleanupSessions(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	m.mu.Lock()
	var stale []string
	for id, state := range m.sessions {
		if state.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, id := range stale {
		if m.persist != nil {
			if err := m.persist.Delete(id); err != nil {
				m.logger.Warn("failed to delete persisted session",
					zap.String("session", id),
					zap.Error(err))
			}
		}
	}
	if len(stale) > 0 {
		m.logger.Debug("cleaned up stale sessions", zap.Int("removed", len(stale)))
	}
	return len(stale)
}

// SessionIDs lists every known session, merging memory with persistence.
func (m *Manager) SessionIDs() []string {
	seen := make(map[string]bool)
	var out []string

	m.mu.RLock()
	for id := range m.sessions {
		seen[id] = true
		out = append(out, id)
	}
	m.mu.RUnlock()

	if m.persist != nil {
		persisted, err := m.persist.List()
		if err != nil {
			m.logger.Debug("failed to list persisted sessions", zap.Error(err))
		}
		for _, id := range persisted {
			if !seen[id] {
				out = append(out, id)
			}
		}
	}
	return out
}

// Destroy drops all in-memory state. Persistence is left intact.
func (m *Manager) Destroy() {
	m.mu.Lock()
	m.sessions = make(map[string]*types.SessionState)
	m.mu.Unlock()
}

// save persists best-effort; failures are logged and swallowed.
func (m *Manager) save(state *types.SessionState) {
	if m.persist == nil {
		return
	}
	if err := m.persist.Save(state); err != nil {
		m.logger.Warn("session persistence failed",
			zap.String("session", state.ID),
			zap.Error(err))
	}
}
