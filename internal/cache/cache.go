// Package cache memoizes audit verdicts by normalized code fingerprint.
// Entries expire by TTL and are evicted LRU-first against both an entry
// count budget and a byte budget. The cache is best-effort: Set never
// fails, storage problems are logged and swallowed.
package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DRCubix/gansauditor/internal/fingerprint"
	"github.com/DRCubix/gansauditor/internal/types"
)

// Config controls cache capacity and expiry.
type Config struct {
	// MaxEntries bounds the number of cached reviews.
	MaxEntries int
	// MaxBytes bounds the sum of serialized entry sizes.
	MaxBytes int64
	// MaxAge is the entry TTL measured from insertion.
	MaxAge time.Duration
	// CleanupInterval is the janitor period. Zero disables the janitor;
	// expiry is then enforced only on access and explicit Cleanup calls.
	CleanupInterval time.Duration
	// Logger receives eviction and failure diagnostics. Nil means silent.
	Logger *zap.Logger
}

// DefaultConfig returns the production cache settings.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      1000,
		MaxBytes:        10 << 20, // 10 MiB
		MaxAge:          time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hitRate"` // 0-100, 0 when no gets yet
	Entries     int     `json:"entries"`
	MemoryUsage int64   `json:"memoryUsage"`
}

type entry struct {
	fingerprint string
	review      *types.Review
	insertedAt  time.Time
	lastAccess  time.Time
	bytes       int64
	elem        *list.Element
}

// AuditCache is a fingerprint-addressed review store, safe for concurrent
// callers. Reads and writes are linearizable per key under a single lock;
// hit/miss counters are atomics and may read slightly stale.
type AuditCache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	lru        *list.List // front = most recently used, Value = fingerprint
	totalBytes int64

	cfg    Config
	logger *zap.Logger

	hits   int64
	misses int64

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	janitor  bool
}

// New creates an AuditCache, filling zero config fields from defaults and
// starting the janitor when CleanupInterval > 0.
func New(cfg Config) *AuditCache {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.CleanupInterval < 0 {
		cfg.CleanupInterval = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &AuditCache{
		entries: make(map[string]*entry),
		lru:     list.New(),
		cfg:     cfg,
		logger:  cfg.Logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		c.janitor = true
		go c.runJanitor()
	}
	return c
}

// Get returns the cached review for the thought's fingerprint. A hit
// refreshes the entry's recency; expired entries count as misses and are
// dropped on the spot.
func (c *AuditCache) Get(thought *types.Thought) (*types.Review, bool) {
	if thought == nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	fp := fingerprint.Fingerprint(thought.Text)
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[fp]
	if !ok {
		c.mu.Unlock()
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	if now.Sub(e.insertedAt) > c.cfg.MaxAge {
		c.removeLocked(e)
		c.mu.Unlock()
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	e.lastAccess = now
	c.lru.MoveToFront(e.elem)
	review := e.review.Clone()
	c.mu.Unlock()

	atomic.AddInt64(&c.hits, 1)
	return review, true
}

// Has reports whether a live entry exists for the thought. It does not
// touch recency or statistics.
func (c *AuditCache) Has(thought *types.Thought) bool {
	if thought == nil {
		return false
	}
	fp := fingerprint.Fingerprint(thought.Text)

	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[fp]
	if !ok {
		return false
	}
	return time.Since(e.insertedAt) <= c.cfg.MaxAge
}

// Set stores the review under the thought's fingerprint and enforces the
// TTL, entry, and byte budgets. Malformed reviews are stored as-is; Set
// never fails.
func (c *AuditCache) Set(thought *types.Thought, review *types.Review) {
	if thought == nil || review == nil {
		return
	}
	fp := fingerprint.Fingerprint(thought.Text)
	size := c.measure(fp, review)
	now := time.Now()
	stored := review.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[fp]; ok {
		c.totalBytes += size - e.bytes
		e.review = stored
		e.insertedAt = now
		e.lastAccess = now
		e.bytes = size
		c.lru.MoveToFront(e.elem)
	} else {
		e := &entry{
			fingerprint: fp,
			review:      stored,
			insertedAt:  now,
			lastAccess:  now,
			bytes:       size,
		}
		e.elem = c.lru.PushFront(fp)
		c.entries[fp] = e
		c.totalBytes += size
	}

	c.enforceBudgetsLocked(now)
}

// Cleanup removes all expired entries.
func (c *AuditCache) Cleanup() {
	now := time.Now()
	c.mu.Lock()
	removed := c.purgeExpiredLocked(now)
	c.mu.Unlock()
	if removed > 0 {
		c.logger.Debug("cache cleanup removed expired entries", zap.Int("removed", removed))
	}
}

// Clear drops every entry but keeps hit/miss statistics.
func (c *AuditCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.lru.Init()
	c.totalBytes = 0
	c.mu.Unlock()
}

// Destroy stops the janitor and empties the cache. Safe to call more than
// once.
func (c *AuditCache) Destroy() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	if c.janitor {
		<-c.doneCh
	}
	c.Clear()
}

// Stats returns current counters. HitRate is a percentage in [0,100].
func (c *AuditCache) Stats() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total) * 100
	}

	c.mu.RLock()
	entries := len(c.entries)
	bytes := c.totalBytes
	c.mu.RUnlock()

	return Stats{
		Hits:        hits,
		Misses:      misses,
		HitRate:     rate,
		Entries:     entries,
		MemoryUsage: bytes,
	}
}

// measure computes the byte charge for an entry: serialized review plus key
// length. Reviews that cannot be serialized (non-finite scores) fall back
// to a summary-based estimate so Set still succeeds.
func (c *AuditCache) measure(fp string, review *types.Review) int64 {
	data, err := json.Marshal(review)
	if err != nil {
		c.logger.Debug("review not serializable, using size estimate", zap.Error(err))
		return int64(len(fp) + len(review.Detail.Summary) + 512)
	}
	return int64(len(fp) + len(data))
}

func (c *AuditCache) enforceBudgetsLocked(now time.Time) {
	c.purgeExpiredLocked(now)

	evicted := 0
	for len(c.entries) > c.cfg.MaxEntries {
		if !c.evictOldestLocked() {
			break
		}
		evicted++
	}
	for c.totalBytes > c.cfg.MaxBytes {
		if !c.evictOldestLocked() {
			break
		}
		evicted++
	}
	if evicted > 0 {
		c.logger.Debug("cache evicted entries over budget",
			zap.Int("evicted", evicted),
			zap.Int("entries", len(c.entries)),
			zap.Int64("bytes", c.totalBytes))
	}
}

func (c *AuditCache) purgeExpiredLocked(now time.Time) int {
	removed := 0
	for _, e := range c.entries {
		if now.Sub(e.insertedAt) > c.cfg.MaxAge {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

// evictOldestLocked drops the least recently used entry. Returns false when
// the cache is already empty.
func (c *AuditCache) evictOldestLocked() bool {
	back := c.lru.Back()
	if back == nil {
		return false
	}
	fp := back.Value.(string)
	e, ok := c.entries[fp]
	if !ok {
		c.lru.Remove(back)
		return true
	}
	c.removeLocked(e)
	return true
}

func (c *AuditCache) removeLocked(e *entry) {
	delete(c.entries, e.fingerprint)
	c.lru.Remove(e.elem)
	c.totalBytes -= e.bytes
}

func (c *AuditCache) runJanitor() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Cleanup()
		case <-c.stopCh:
			return
		}
	}
}
