package cache

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/DRCubix/gansauditor/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func thought(n int, text string) *types.Thought {
	return &types.Thought{Number: n, Text: text}
}

func passReview(overall int) *types.Review {
	return &types.Review{
		Overall:    overall,
		Dimensions: []types.DimensionScore{{Name: "accuracy", Score: float64(overall)}},
		Verdict:    types.VerdictPass,
		Detail:     types.ReviewDetail{Summary: "looks good"},
		Iterations: 1,
		JudgeCards: []types.JudgeCard{{Model: "internal", Score: float64(overall)}},
	}
}

func TestGetOnReformattedCopy(t *testing.T) {
	c := New(Config{CleanupInterval: 0})
	defer c.Destroy()

	original := thought(1, "```go\nfunc add(a, b int) int {\n\treturn a + b\n}\n```")
	reformatted := thought(2, "```go\n// comment\nfunc add(a, b int) int { return a + b }\n```")

	c.Set(original, passReview(85))

	got, ok := c.Get(reformatted)
	if !ok {
		t.Fatal("expected hit on reformatted copy")
	}
	if got.Overall != 85 || got.Verdict != types.VerdictPass {
		t.Errorf("got overall=%d verdict=%s, want 85/pass", got.Overall, got.Verdict)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 0 {
		t.Errorf("stats = %+v, want hits=1 misses=0", stats)
	}
	if stats.HitRate != 100 {
		t.Errorf("hitRate = %g, want 100", stats.HitRate)
	}
}

func TestMissIncrementsStats(t *testing.T) {
	c := New(Config{CleanupInterval: 0})
	defer c.Destroy()

	if _, ok := c.Get(thought(1, "func nothing() {}")); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	stats := c.Stats()
	if stats.Misses != 1 || stats.Hits != 0 {
		t.Errorf("stats = %+v, want misses=1 hits=0", stats)
	}
	if stats.HitRate != 0 {
		t.Errorf("hitRate = %g, want 0", stats.HitRate)
	}
}

func TestHasDoesNotTouchStats(t *testing.T) {
	c := New(Config{CleanupInterval: 0})
	defer c.Destroy()

	th := thought(1, "func f() {}")
	c.Set(th, passReview(90))

	if !c.Has(th) {
		t.Error("Has() = false after Set")
	}
	if c.Has(thought(2, "func other() {}")) {
		t.Error("Has() = true for unknown thought")
	}

	stats := c.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("Has must not affect stats, got %+v", stats)
	}
}

func TestMaxEntriesBudget(t *testing.T) {
	c := New(Config{MaxEntries: 3, CleanupInterval: 0})
	defer c.Destroy()

	for i := 0; i < 5; i++ {
		c.Set(thought(i+1, fmt.Sprintf("func f%d() {}", i)), passReview(80))
	}

	stats := c.Stats()
	if stats.Entries != 3 {
		t.Errorf("entries = %d, want 3", stats.Entries)
	}
	// The two oldest entries were evicted.
	if _, ok := c.Get(thought(1, "func f0() {}")); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get(thought(5, "func f4() {}")); !ok {
		t.Error("newest entry should survive")
	}
}

func TestLRUEvictionOrder(t *testing.T) {
	c := New(Config{MaxEntries: 2, CleanupInterval: 0})
	defer c.Destroy()

	a := thought(1, "func a() {}")
	b := thought(2, "func b() {}")
	c.Set(a, passReview(80))
	c.Set(b, passReview(81))

	// Touch a so b becomes the LRU.
	if _, ok := c.Get(a); !ok {
		t.Fatal("expected hit for a")
	}

	c.Set(thought(3, "func c() {}"), passReview(82))

	if _, ok := c.Get(a); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get(b); ok {
		t.Error("LRU entry should have been evicted")
	}
}

func TestByteBudget(t *testing.T) {
	c := New(Config{MaxBytes: 2048, CleanupInterval: 0})
	defer c.Destroy()

	big := passReview(75)
	big.Detail.Summary = string(make([]byte, 700))

	for i := 0; i < 5; i++ {
		c.Set(thought(i+1, fmt.Sprintf("func g%d() {}", i)), big)
	}

	stats := c.Stats()
	if stats.MemoryUsage > 2048 {
		t.Errorf("memoryUsage = %d, want <= 2048", stats.MemoryUsage)
	}
	if stats.Entries == 0 {
		t.Error("cache should retain at least the newest entry when it fits")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(Config{MaxAge: 20 * time.Millisecond, CleanupInterval: 0})
	defer c.Destroy()

	th := thought(1, "func f() {}")
	c.Set(th, passReview(88))

	if !c.Has(th) {
		t.Fatal("entry should be live immediately after Set")
	}

	time.Sleep(30 * time.Millisecond)

	if c.Has(th) {
		t.Error("Has() = true after TTL")
	}
	if _, ok := c.Get(th); ok {
		t.Error("Get() hit after TTL")
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	c := New(Config{MaxAge: 10 * time.Millisecond, CleanupInterval: 0})
	defer c.Destroy()

	c.Set(thought(1, "func f() {}"), passReview(80))
	time.Sleep(20 * time.Millisecond)

	c.Cleanup()

	if stats := c.Stats(); stats.Entries != 0 || stats.MemoryUsage != 0 {
		t.Errorf("after cleanup stats = %+v, want empty", stats)
	}
}

func TestAutoCleanupJanitor(t *testing.T) {
	c := New(Config{MaxAge: 10 * time.Millisecond, CleanupInterval: 15 * time.Millisecond})
	defer c.Destroy()

	c.Set(thought(1, "func f() {}"), passReview(80))

	// Without any access, the janitor alone should reap the entry.
	deadline := time.After(500 * time.Millisecond)
	for {
		if c.Stats().Entries == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("janitor did not remove expired entry")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSetNeverFailsOnMalformedReview(t *testing.T) {
	c := New(Config{CleanupInterval: 0})
	defer c.Destroy()

	th := thought(1, "func f() {}")
	malformed := &types.Review{
		Overall:    999,
		Dimensions: []types.DimensionScore{{Name: "accuracy", Score: math.NaN()}},
		Verdict:    "bogus",
	}

	c.Set(th, malformed) // must not panic

	got, ok := c.Get(th)
	if !ok {
		t.Fatal("malformed review should still be retrievable")
	}
	if got.Overall != 999 {
		t.Errorf("overall = %d, want 999 (stored as-is)", got.Overall)
	}
	if !math.IsNaN(got.Dimensions[0].Score) {
		t.Error("NaN score should round-trip through the cache")
	}
}

func TestSetEmptyThought(t *testing.T) {
	c := New(Config{CleanupInterval: 0})
	defer c.Destroy()

	empty := thought(1, "")
	c.Set(empty, passReview(70))

	if _, ok := c.Get(thought(2, "   ")); !ok {
		t.Error("whitespace-only thought should hit the empty-fingerprint entry")
	}
}

func TestUpdateExistingEntry(t *testing.T) {
	c := New(Config{CleanupInterval: 0})
	defer c.Destroy()

	th := thought(1, "func f() {}")
	c.Set(th, passReview(60))
	c.Set(th, passReview(90))

	got, ok := c.Get(th)
	if !ok || got.Overall != 90 {
		t.Errorf("got %+v, want updated overall=90", got)
	}
	if stats := c.Stats(); stats.Entries != 1 {
		t.Errorf("entries = %d, want 1 after update", stats.Entries)
	}
}

func TestClearKeepsStats(t *testing.T) {
	c := New(Config{CleanupInterval: 0})
	defer c.Destroy()

	th := thought(1, "func f() {}")
	c.Set(th, passReview(80))
	c.Get(th)
	c.Clear()

	stats := c.Stats()
	if stats.Entries != 0 || stats.MemoryUsage != 0 {
		t.Errorf("after clear stats = %+v, want empty", stats)
	}
	if stats.Hits != 1 {
		t.Errorf("hits = %d, want stats preserved across Clear", stats.Hits)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	c := New(Config{CleanupInterval: 10 * time.Millisecond})
	c.Set(thought(1, "func f() {}"), passReview(80))
	c.Destroy()
	c.Destroy() // must not panic or hang
}

func TestConcurrentAccess(t *testing.T) {
	c := New(Config{MaxEntries: 64, CleanupInterval: 0})
	defer c.Destroy()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				th := thought(i+1, fmt.Sprintf("func w%d() { return %d }", i%16, i%16))
				if i%2 == 0 {
					c.Set(th, passReview(70+i%30))
				} else {
					c.Get(th)
					c.Has(th)
				}
			}
		}(g)
	}
	wg.Wait()

	stats := c.Stats()
	if stats.Entries > 64 {
		t.Errorf("entries = %d exceeds budget under concurrency", stats.Entries)
	}
	if stats.HitRate < 0 || stats.HitRate > 100 {
		t.Errorf("hitRate = %g out of range", stats.HitRate)
	}
}

func TestCloneIsolation(t *testing.T) {
	c := New(Config{CleanupInterval: 0})
	defer c.Destroy()

	th := thought(1, "func f() {}")
	r := passReview(80)
	c.Set(th, r)

	// Mutating either the stored original or a returned copy must not leak
	// into later reads.
	r.Overall = 0
	got1, _ := c.Get(th)
	got1.Overall = 11

	got2, ok := c.Get(th)
	if !ok || got2.Overall != 80 {
		t.Errorf("cached review mutated through aliasing: %+v", got2)
	}
}
