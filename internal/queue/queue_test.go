package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/DRCubix/gansauditor/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.ProcessingInterval = 5 * time.Millisecond
	cfg.DrainTimeout = 2 * time.Second
	return cfg
}

func passingReview() *types.Review {
	return &types.Review{
		Overall: 90,
		Verdict: types.VerdictPass,
		Detail:  types.ReviewDetail{Summary: "ok"},
	}
}

func thoughtN(n int) *types.Thought {
	return &types.Thought{Number: n, Text: fmt.Sprintf("candidate %d", n)}
}

// recorder collects audit invocations in completion order.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) fn(ctx context.Context, thought *types.Thought, sessionID string) (*types.Review, error) {
	r.mu.Lock()
	r.order = append(r.order, sessionID)
	r.mu.Unlock()
	return passingReview(), nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestEnqueueAndWait(t *testing.T) {
	q := New(testConfig(), func(ctx context.Context, th *types.Thought, sid string) (*types.Review, error) {
		return passingReview(), nil
	})
	defer q.Destroy()

	review, err := q.EnqueueAndWait(context.Background(), thoughtN(1), "s1")
	if err != nil {
		t.Fatalf("EnqueueAndWait: %v", err)
	}
	if review.Overall != 90 {
		t.Errorf("overall = %d, want 90", review.Overall)
	}
}

func TestPriorityOrdering(t *testing.T) {
	rec := &recorder{}
	q := New(testConfig(), rec.fn)
	defer q.Destroy()

	// Pause so all three are pending before any dispatch happens.
	q.Pause()

	chA, err := q.Enqueue(thoughtN(1), "A", WithPriority(PriorityLow))
	if err != nil {
		t.Fatalf("enqueue A: %v", err)
	}
	chB, err := q.Enqueue(thoughtN(2), "B", WithPriority(PriorityHigh))
	if err != nil {
		t.Fatalf("enqueue B: %v", err)
	}
	chC, err := q.Enqueue(thoughtN(3), "C", WithPriority(PriorityNormal))
	if err != nil {
		t.Fatalf("enqueue C: %v", err)
	}

	q.Resume()
	for _, ch := range []<-chan JobResult{chA, chB, chC} {
		select {
		case res := <-ch:
			if res.Err != nil {
				t.Fatalf("job failed: %v", res.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("job did not settle")
		}
	}

	got := rec.snapshot()
	want := []string{"B", "C", "A"}
	if len(got) != len(want) {
		t.Fatalf("ran %d jobs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	rec := &recorder{}
	q := New(testConfig(), rec.fn)
	defer q.Destroy()

	q.Pause()
	var chans []<-chan JobResult
	for i := 1; i <= 3; i++ {
		ch, err := q.Enqueue(thoughtN(i), fmt.Sprintf("s%d", i))
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		chans = append(chans, ch)
	}
	q.Resume()
	for _, ch := range chans {
		<-ch
	}

	got := rec.snapshot()
	for i, want := range []string{"s1", "s2", "s3"} {
		if got[i] != want {
			t.Fatalf("order = %v, want FIFO", got)
		}
	}
}

func TestRetryThenSucceed(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	fn := func(ctx context.Context, th *types.Thought, sid string) (*types.Review, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("transient judge failure")
		}
		return passingReview(), nil
	}

	q := New(testConfig(), fn)
	defer q.Destroy()

	var retries int64
	var retryMu sync.Mutex
	q.On(EventJobRetry, func(e Event) {
		retryMu.Lock()
		retries++
		retryMu.Unlock()
	})

	review, err := q.EnqueueAndWait(context.Background(), thoughtN(1), "retry", WithMaxRetries(2))
	if err != nil {
		t.Fatalf("EnqueueAndWait: %v", err)
	}
	if review == nil || review.Overall != 90 {
		t.Errorf("review = %+v, want the second attempt's pass", review)
	}

	mu.Lock()
	gotCalls := calls
	mu.Unlock()
	if gotCalls != 2 {
		t.Errorf("audit function called %d times, want exactly 2", gotCalls)
	}
	retryMu.Lock()
	gotRetries := retries
	retryMu.Unlock()
	if gotRetries != 1 {
		t.Errorf("saw %d retry events, want 1", gotRetries)
	}
}

func TestRetriesExhausted(t *testing.T) {
	boom := errors.New("permanent failure")
	q := New(testConfig(), func(ctx context.Context, th *types.Thought, sid string) (*types.Review, error) {
		return nil, boom
	})
	defer q.Destroy()

	failed := make(chan Event, 1)
	q.On(EventJobFailed, func(e Event) {
		select {
		case failed <- e:
		default:
		}
	})

	_, err := q.EnqueueAndWait(context.Background(), thoughtN(1), "doomed", WithMaxRetries(1))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the audit function's error", err)
	}

	select {
	case e := <-failed:
		if e.Attempt != 2 {
			t.Errorf("failed after attempt %d, want 2 (1 try + 1 retry)", e.Attempt)
		}
	case <-time.After(time.Second):
		t.Fatal("no jobFailed event")
	}
}

func TestJobTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	q := New(testConfig(), func(ctx context.Context, th *types.Thought, sid string) (*types.Review, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return passingReview(), nil
		}
	})
	defer q.Destroy()

	timeouts := make(chan Event, 1)
	q.On(EventJobTimeout, func(e Event) {
		select {
		case timeouts <- e:
		default:
		}
	})

	_, err := q.EnqueueAndWait(context.Background(), thoughtN(1), "slow",
		WithTimeout(30*time.Millisecond), WithMaxRetries(0))
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error %q should mention the timeout", err)
	}

	select {
	case <-timeouts:
	case <-time.After(time.Second):
		t.Fatal("no jobTimeout event")
	}
}

func TestQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 0 // accepts jobs but never starts them
	cfg.MaxQueueSize = 2
	q := New(cfg, nil)
	defer q.Destroy()

	if _, err := q.Enqueue(thoughtN(1), "a"); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := q.Enqueue(thoughtN(2), "b"); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	_, err := q.Enqueue(thoughtN(3), "c")
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if !strings.Contains(err.Error(), "Queue is full") {
		t.Errorf("error %q should carry the stable message", err)
	}
}

func TestRetryBackoffHoldsQueueSlot(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	fn := func(ctx context.Context, th *types.Thought, sid string) (*types.Review, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("transient judge failure")
		}
		return passingReview(), nil
	}

	cfg := testConfig()
	cfg.MaxQueueSize = 1
	q := New(cfg, fn)
	defer q.Destroy()

	inBackoff := make(chan struct{})
	q.On(EventJobRetry, func(Event) { close(inBackoff) })

	ch, err := q.Enqueue(thoughtN(1), "backoff", WithMaxRetries(1))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// The first attempt has failed and the job is waiting out its backoff.
	// It is in neither pending nor running, but it must still hold its
	// queue slot.
	<-inBackoff
	if _, err := q.Enqueue(thoughtN(2), "backoff"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("enqueue during backoff = %v, want ErrQueueFull", err)
	}

	res := <-ch
	if res.Err != nil {
		t.Fatalf("job result: %v", res.Err)
	}

	// Once the retry settles the slot is free again.
	if _, err := q.Enqueue(thoughtN(3), "backoff"); err != nil {
		t.Fatalf("enqueue after retry settled: %v", err)
	}
}

func TestClearQueue(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 0
	q := New(cfg, nil)
	defer q.Destroy()

	ch, err := q.Enqueue(thoughtN(1), "pending")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	q.ClearQueue()

	select {
	case res := <-ch:
		if !errors.Is(res.Err, ErrQueueCleared) {
			t.Errorf("err = %v, want ErrQueueCleared", res.Err)
		}
		if res.Err == nil || !strings.Contains(res.Err.Error(), "Queue cleared") {
			t.Errorf("error %v should carry the stable message", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("cleared job never settled")
	}

	if st := q.Status(); st.PendingJobs != 0 {
		t.Errorf("pending = %d after clear, want 0", st.PendingJobs)
	}
}

func TestConcurrencyBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 2

	var mu sync.Mutex
	inFlight, peak := 0, 0
	q := New(cfg, func(ctx context.Context, th *types.Thought, sid string) (*types.Review, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return passingReview(), nil
	})
	defer q.Destroy()

	var chans []<-chan JobResult
	for i := 1; i <= 6; i++ {
		ch, err := q.Enqueue(thoughtN(i), fmt.Sprintf("s%d", i))
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		chans = append(chans, ch)
	}
	for _, ch := range chans {
		select {
		case res := <-ch:
			if res.Err != nil {
				t.Fatalf("job failed: %v", res.Err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("job did not settle")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency %d exceeds the bound of 2", peak)
	}
	if peak < 2 {
		t.Logf("peak concurrency %d (bound 2); scheduler never overlapped", peak)
	}
}

func TestPauseResume(t *testing.T) {
	rec := &recorder{}
	q := New(testConfig(), rec.fn)
	defer q.Destroy()

	q.Pause()
	ch, err := q.Enqueue(thoughtN(1), "paused")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-ch:
		t.Fatal("job ran while paused")
	case <-time.After(50 * time.Millisecond):
	}
	if st := q.Status(); st.IsProcessing {
		t.Error("status should report not processing while paused")
	}

	q.Resume()
	select {
	case res := <-ch:
		if res.Err != nil {
			t.Fatalf("job failed after resume: %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran after resume")
	}
}

func TestStats(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	q := New(testConfig(), func(ctx context.Context, th *types.Thought, sid string) (*types.Review, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 2 {
			return nil, errors.New("boom")
		}
		return passingReview(), nil
	})
	defer q.Destroy()

	if _, err := q.EnqueueAndWait(context.Background(), thoughtN(1), "ok"); err != nil {
		t.Fatalf("first job: %v", err)
	}
	// Second job fails once, retries, then succeeds.
	if _, err := q.EnqueueAndWait(context.Background(), thoughtN(2), "flaky", WithMaxRetries(1)); err != nil {
		t.Fatalf("second job: %v", err)
	}

	stats := q.Stats()
	if stats.Completed != 2 {
		t.Errorf("completed = %d, want 2", stats.Completed)
	}
	if stats.Retried != 1 {
		t.Errorf("retried = %d, want 1", stats.Retried)
	}
	if stats.Failed != 0 {
		t.Errorf("failed = %d, want 0", stats.Failed)
	}
}

func TestEnqueueAfterDestroy(t *testing.T) {
	q := New(testConfig(), nil)
	q.Destroy()

	if _, err := q.Enqueue(thoughtN(1), "late"); !errors.Is(err, ErrQueueDestroyed) {
		t.Fatalf("err = %v, want ErrQueueDestroyed", err)
	}
}

func TestEnqueueAndWaitContextCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	q := New(testConfig(), func(ctx context.Context, th *types.Thought, sid string) (*types.Review, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return passingReview(), nil
		}
	})
	defer q.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	// The short per-attempt timeout lets the abandoned job settle so
	// Destroy does not wait out the drain budget.
	_, err := q.EnqueueAndWait(ctx, thoughtN(1), "abandoned",
		WithTimeout(100*time.Millisecond), WithMaxRetries(0))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestEventLifecycle(t *testing.T) {
	q := New(testConfig(), func(ctx context.Context, th *types.Thought, sid string) (*types.Review, error) {
		return passingReview(), nil
	})
	defer q.Destroy()

	var mu sync.Mutex
	var seen []EventType
	for _, et := range []EventType{EventJobEnqueued, EventJobStarted, EventJobCompleted} {
		et := et
		q.On(et, func(e Event) {
			mu.Lock()
			seen = append(seen, et)
			mu.Unlock()
		})
	}

	if _, err := q.EnqueueAndWait(context.Background(), thoughtN(1), "evt"); err != nil {
		t.Fatalf("EnqueueAndWait: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("saw %d events, want 3", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []EventType{EventJobEnqueued, EventJobStarted, EventJobCompleted}
	for i, et := range want {
		if seen[i] != et {
			t.Fatalf("event order = %v, want %v", seen, want)
		}
	}
}

func TestHandlerPanicDoesNotKillScheduler(t *testing.T) {
	q := New(testConfig(), func(ctx context.Context, th *types.Thought, sid string) (*types.Review, error) {
		return passingReview(), nil
	})
	defer q.Destroy()

	q.On(EventJobCompleted, func(Event) { panic("handler bug") })

	for i := 1; i <= 2; i++ {
		if _, err := q.EnqueueAndWait(context.Background(), thoughtN(i), "panicky"); err != nil {
			t.Fatalf("job %d after panicking handler: %v", i, err)
		}
	}
}

func TestRetryBackoff(t *testing.T) {
	cap := 30 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 50 * time.Millisecond},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := retryBackoff(tt.attempt, cap); got != tt.want {
			t.Errorf("retryBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	if got := retryBackoff(30, 200*time.Millisecond); got != 200*time.Millisecond {
		t.Errorf("backoff should cap at the limit, got %v", got)
	}
}
