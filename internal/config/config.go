// Package config loads and watches the gansauditor configuration file.
// Configuration is YAML on disk with environment variable overrides; a
// missing file yields defaults so the binary works with zero setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DRCubix/gansauditor/internal/types"
)

// Config holds all gansauditor configuration.
type Config struct {
	// Audit pipeline settings
	Audit AuditConfig `yaml:"audit"`

	// Result cache settings
	Cache CacheConfig `yaml:"cache"`

	// Queue scheduling settings
	Queue QueueConfig `yaml:"queue"`

	// Session persistence settings
	Session SessionConfig `yaml:"session"`

	// Completion policy
	Completion types.CompletionCriteria `yaml:"completion"`

	// Judge backends
	Judges JudgesConfig `yaml:"judges"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// AuditConfig configures the orchestrator.
type AuditConfig struct {
	Disabled bool   `yaml:"disabled"`
	Timeout  string `yaml:"timeout"`
}

// CacheConfig configures the audit result cache.
type CacheConfig struct {
	MaxEntries int    `yaml:"max_entries"`
	MaxBytes   int64  `yaml:"max_bytes"`
	MaxAge     string `yaml:"max_age"`
}

// QueueConfig configures the audit queue.
type QueueConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	MaxQueueSize  int    `yaml:"max_queue_size"`
	Timeout       string `yaml:"timeout"`
	MaxRetries    int    `yaml:"max_retries"`
}

// SessionConfig configures session storage.
type SessionConfig struct {
	// Store selects the persistence backend: file or sqlite.
	Store string `yaml:"store"`
	// Dir is the session directory for the file store.
	Dir string `yaml:"dir"`
	// DatabasePath is the sqlite file for the sqlite store.
	DatabasePath string `yaml:"database_path"`
	// CleanupAfter is how old a session must be before cleanup removes it.
	CleanupAfter string `yaml:"cleanup_after"`
}

// JudgesConfig configures the judge backends.
type JudgesConfig struct {
	// Gemini LLM judge
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`
	// External codex CLI judge
	CodexBin string `yaml:"codex_bin"`
	// Breaker settings shared by remote judges
	BreakerMaxFailures uint32 `yaml:"breaker_max_failures"`
	BreakerOpenTimeout string `yaml:"breaker_open_timeout"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Audit: AuditConfig{
			Timeout: "30s",
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			MaxBytes:   10 << 20,
			MaxAge:     "1h",
		},
		Queue: QueueConfig{
			MaxConcurrent: 2,
			MaxQueueSize:  50,
			Timeout:       "30s",
			MaxRetries:    2,
		},
		Session: SessionConfig{
			Store:        "file",
			Dir:          ".gansauditor/sessions",
			DatabasePath: ".gansauditor/sessions.db",
			CleanupAfter: "24h",
		},
		Completion: types.CompletionCriteria{
			Tier1:    types.CompletionTier{Score: 95, MaxLoops: 10},
			Tier2:    types.CompletionTier{Score: 90, MaxLoops: 15},
			Tier3:    types.CompletionTier{Score: 85, MaxLoops: 20},
			HardStop: types.HardStop{MaxLoops: 25},
			StagnationCheck: types.StagnationCheck{
				StartLoop:           10,
				SimilarityThreshold: 0.95,
			},
		},
		Judges: JudgesConfig{
			GeminiModel:        "gemini-2.0-flash",
			BreakerMaxFailures: 3,
			BreakerOpenTimeout: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file returns
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if ms := os.Getenv("AUDIT_TIMEOUT_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			c.Audit.Timeout = (time.Duration(n) * time.Millisecond).String()
		}
	}
	if v := os.Getenv("AUDIT_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("AUDIT_CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Cache.MaxBytes = n
		}
	}
	if v := os.Getenv("AUDIT_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Queue.MaxConcurrent = n
		}
	}
	if v := os.Getenv("AUDIT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Judges.GeminiAPIKey = key
	}
	if bin := os.Getenv("GANSAUDITOR_CODEX_BIN"); bin != "" {
		c.Judges.CodexBin = bin
	}
	if dir := os.Getenv("GANSAUDITOR_SESSION_DIR"); dir != "" {
		c.Session.Dir = dir
	}
}

// GetAuditTimeout returns the audit timeout as a duration.
func (c *Config) GetAuditTimeout() time.Duration {
	d, err := time.ParseDuration(c.Audit.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetCacheMaxAge returns the cache TTL as a duration.
func (c *Config) GetCacheMaxAge() time.Duration {
	d, err := time.ParseDuration(c.Cache.MaxAge)
	if err != nil {
		return time.Hour
	}
	return d
}

// GetQueueTimeout returns the per-attempt queue timeout as a duration.
func (c *Config) GetQueueTimeout() time.Duration {
	d, err := time.ParseDuration(c.Queue.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetCleanupAfter returns the session cleanup age as a duration.
func (c *Config) GetCleanupAfter() time.Duration {
	d, err := time.ParseDuration(c.Session.CleanupAfter)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetBreakerOpenTimeout returns the circuit breaker open interval.
func (c *Config) GetBreakerOpenTimeout() time.Duration {
	d, err := time.ParseDuration(c.Judges.BreakerOpenTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
