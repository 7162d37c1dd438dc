package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Queue.MaxConcurrent)
	assert.Equal(t, 95, cfg.Completion.Tier1.Score)
	assert.Equal(t, 25, cfg.Completion.HardStop.MaxLoops)
	assert.Equal(t, 30*time.Second, cfg.GetAuditTimeout())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "gansauditor.yaml")

	cfg := DefaultConfig()
	cfg.Queue.MaxConcurrent = 7
	cfg.Cache.MaxEntries = 123
	cfg.Session.Store = "sqlite"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Queue.MaxConcurrent)
	assert.Equal(t, 123, loaded.Cache.MaxEntries)
	assert.Equal(t, "sqlite", loaded.Session.Store)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUDIT_TIMEOUT_MS", "1500")
	t.Setenv("AUDIT_CACHE_MAX_ENTRIES", "42")
	t.Setenv("AUDIT_CACHE_MAX_BYTES", "2048")
	t.Setenv("AUDIT_QUEUE_CONCURRENCY", "5")
	t.Setenv("AUDIT_LOG_LEVEL", "debug")
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GANSAUDITOR_CODEX_BIN", "/usr/local/bin/codex")
	t.Setenv("GANSAUDITOR_SESSION_DIR", "/tmp/sessions")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, cfg.GetAuditTimeout())
	assert.Equal(t, 42, cfg.Cache.MaxEntries)
	assert.Equal(t, int64(2048), cfg.Cache.MaxBytes)
	assert.Equal(t, 5, cfg.Queue.MaxConcurrent)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "test-key", cfg.Judges.GeminiAPIKey)
	assert.Equal(t, "/usr/local/bin/codex", cfg.Judges.CodexBin)
	assert.Equal(t, "/tmp/sessions", cfg.Session.Dir)
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("AUDIT_TIMEOUT_MS", "not-a-number")
	t.Setenv("AUDIT_QUEUE_CONCURRENCY", "-3")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.GetAuditTimeout(), "garbage timeout keeps default")
	assert.Equal(t, 2, cfg.Queue.MaxConcurrent, "negative concurrency keeps default")
}

func TestDurationGetterFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Timeout = "bogus"
	cfg.Cache.MaxAge = ""
	cfg.Session.CleanupAfter = "yesterday"
	cfg.Judges.BreakerOpenTimeout = ""

	assert.Equal(t, 30*time.Second, cfg.GetAuditTimeout())
	assert.Equal(t, time.Hour, cfg.GetCacheMaxAge())
	assert.Equal(t, 24*time.Hour, cfg.GetCleanupAfter())
	assert.Equal(t, 30*time.Second, cfg.GetBreakerOpenTimeout())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gansauditor.yaml")

	cfg := DefaultConfig()
	cfg.Queue.MaxConcurrent = 1
	require.NoError(t, cfg.Save(path))

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, func(c *Config) {
		mu.Lock()
		got = c
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	cfg.Queue.MaxConcurrent = 9
	require.NoError(t, cfg.Save(path))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, 3*time.Second, 10*time.Millisecond, "watcher never fired a reload")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 9, got.Queue.MaxConcurrent)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gansauditor.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	fired := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(*Config) {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0644))

	select {
	case <-fired:
		t.Fatal("reload fired for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gansauditor.yaml")
	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	w.Stop()
	w.Stop() // second stop is a no-op
}
