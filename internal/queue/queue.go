// Package queue is the bounded-concurrency scheduler for audit jobs. Jobs
// carry one of three priorities; classes are strict (any runnable high job
// starts before a normal one) and FIFO within a class. Each attempt runs
// under its own timeout, failures retry with exponential backoff at the
// head of their class, and every lifecycle transition is published on a
// typed event bus.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DRCubix/gansauditor/internal/types"
)

var (
	// ErrQueueFull is returned synchronously by Enqueue when pending plus
	// running jobs have reached MaxQueueSize. The message text is part of
	// the public contract.
	ErrQueueFull = errors.New("Queue is full")
	// ErrQueueCleared rejects pending jobs removed by ClearQueue.
	ErrQueueCleared = errors.New("Queue cleared")
	// ErrQueueDestroyed rejects work outstanding at Destroy and any enqueue
	// afterwards.
	ErrQueueDestroyed = errors.New("audit queue destroyed")
)

// AuditFunc performs the actual audit for one job. It must honor ctx: the
// queue cancels it at the per-attempt timeout.
type AuditFunc func(ctx context.Context, thought *types.Thought, sessionID string) (*types.Review, error)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config controls queue capacity and scheduling behavior.
type Config struct {
	// MaxConcurrent is the parallelism bound. Zero accepts jobs but never
	// starts them (capacity tests depend on this), so it is preserved
	// rather than defaulted.
	MaxConcurrent int
	// MaxQueueSize bounds pending+running, including jobs waiting out a
	// retry backoff; Enqueue beyond it fails fast.
	MaxQueueSize int
	// DefaultTimeout is the per-attempt timeout when the caller does not
	// override it. It also caps retry backoff.
	DefaultTimeout time.Duration
	// DefaultMaxRetries is the retry budget when not overridden per job.
	DefaultMaxRetries int
	// ProcessingInterval is the scheduler tick. The scheduler is also
	// kicked immediately on enqueue, completion, and resume.
	ProcessingInterval time.Duration
	// DrainTimeout bounds how long Destroy waits for running jobs.
	DrainTimeout time.Duration
	// EnableStats toggles the completed/failed/retried counters.
	EnableStats bool
	// Logger receives scheduler diagnostics. Nil means silent.
	Logger *zap.Logger
}

// DefaultConfig returns the production queue settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      2,
		MaxQueueSize:       50,
		DefaultTimeout:     30 * time.Second,
		DefaultMaxRetries:  2,
		ProcessingInterval: 100 * time.Millisecond,
		DrainTimeout:       5 * time.Second,
		EnableStats:        true,
	}
}

// Status is a live snapshot of scheduler occupancy.
type Status struct {
	IsProcessing bool    `json:"isProcessing"`
	PendingJobs  int     `json:"pendingJobs"`
	RunningJobs  int     `json:"runningJobs"`
	Capacity     int     `json:"capacity"`
	Utilization  float64 `json:"utilization"` // 0-100, 0 when capacity is 0
}

// Stats are cumulative counters since construction.
type Stats struct {
	Pending   int   `json:"pending"`
	Running   int   `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
}

// =============================================================================
// QUEUE
// =============================================================================

// AuditQueue schedules audit jobs against a bounded worker budget. All
// mutable collections are guarded by mu; cumulative counters are atomics.
type AuditQueue struct {
	cfg     Config
	auditFn AuditFunc
	logger  *zap.Logger
	events  *eventBus

	mu       sync.Mutex
	pending  [numPriorities][]*Job
	running  int
	retrying int // jobs waiting out a retry backoff; they still hold capacity
	paused   bool
	stopped  bool

	jobCounter int64
	completed  int64
	failed     int64
	retried    int64

	wake     chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates the queue and starts its scheduler. Zero config fields other
// than MaxConcurrent are filled from defaults; a nil fn fails every job.
func New(cfg Config, fn AuditFunc) *AuditQueue {
	def := DefaultConfig()
	if cfg.MaxConcurrent < 0 {
		cfg.MaxConcurrent = 0
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.DefaultMaxRetries < 0 {
		cfg.DefaultMaxRetries = 0
	}
	if cfg.ProcessingInterval <= 0 {
		cfg.ProcessingInterval = def.ProcessingInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if fn == nil {
		fn = func(context.Context, *types.Thought, string) (*types.Review, error) {
			return nil, errors.New("no audit function configured")
		}
	}

	q := &AuditQueue{
		cfg:     cfg,
		auditFn: fn,
		logger:  cfg.Logger,
		events:  newEventBus(cfg.Logger),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go q.run()
	return q
}

// On subscribes a handler to one event type.
func (q *AuditQueue) On(t EventType, h Handler) {
	q.events.on(t, h)
}

// Enqueue adds a job and returns the channel its single JobResult will
// arrive on. It fails fast with ErrQueueFull at capacity and
// ErrQueueDestroyed after Destroy.
func (q *AuditQueue) Enqueue(thought *types.Thought, sessionID string, opts ...Option) (<-chan JobResult, error) {
	if err := thought.Validate(); err != nil {
		return nil, err
	}
	o := resolveOptions(q.cfg, opts)

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, ErrQueueDestroyed
	}
	load := q.pendingCountLocked() + q.running + q.retrying
	if load >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %d jobs at limit %d", ErrQueueFull, load, q.cfg.MaxQueueSize)
	}
	job := &Job{
		ID:         fmt.Sprintf("audit-%d", atomic.AddInt64(&q.jobCounter, 1)),
		Thought:    thought,
		SessionID:  sessionID,
		Priority:   o.priority,
		EnqueuedAt: time.Now(),
		MaxRetries: o.maxRetries,
		Timeout:    o.timeout,
		resultCh:   make(chan JobResult, 1),
	}
	if !o.hasMaxRetries {
		job.MaxRetries = q.cfg.DefaultMaxRetries
	}
	q.pending[job.Priority] = append(q.pending[job.Priority], job)
	q.mu.Unlock()

	q.events.emit(jobEvent(EventJobEnqueued, job, nil))
	q.kick()
	return job.resultCh, nil
}

// EnqueueAndWait blocks until the job settles or ctx is done. A ctx
// cancellation abandons the wait but does not abort the job.
func (q *AuditQueue) EnqueueAndWait(ctx context.Context, thought *types.Thought, sessionID string, opts ...Option) (*types.Review, error) {
	ch, err := q.Enqueue(thought, sessionID, opts...)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.Review, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pause stops starting new jobs; running jobs are unaffected.
func (q *AuditQueue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume re-enables scheduling and kicks the dispatcher.
func (q *AuditQueue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.kick()
}

// ClearQueue rejects every pending job with ErrQueueCleared. Running jobs
// keep running but their results are discarded.
func (q *AuditQueue) ClearQueue() {
	q.mu.Lock()
	var cleared []*Job
	for p := range q.pending {
		cleared = append(cleared, q.pending[p]...)
		q.pending[p] = nil
	}
	for _, j := range cleared {
		j.cancelled = true
	}
	q.mu.Unlock()

	for _, j := range cleared {
		j.send(JobResult{Err: ErrQueueCleared})
	}
	if len(cleared) > 0 {
		q.logger.Debug("queue cleared", zap.Int("rejected", len(cleared)))
	}
}

// Destroy stops the scheduler, rejects all pending jobs, and waits up to
// DrainTimeout for running jobs. Safe to call more than once.
func (q *AuditQueue) Destroy() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})

	q.mu.Lock()
	q.stopped = true
	var orphans []*Job
	for p := range q.pending {
		orphans = append(orphans, q.pending[p]...)
		q.pending[p] = nil
	}
	for _, j := range orphans {
		j.cancelled = true
	}
	q.mu.Unlock()

	for _, j := range orphans {
		j.send(JobResult{Err: ErrQueueDestroyed})
	}

	<-q.doneCh

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(q.cfg.DrainTimeout):
		q.logger.Warn("queue destroyed with jobs still running",
			zap.Duration("drainTimeout", q.cfg.DrainTimeout))
	}
}

// Status reports live occupancy.
func (q *AuditQueue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	var utilization float64
	if q.cfg.MaxConcurrent > 0 {
		utilization = float64(q.running) / float64(q.cfg.MaxConcurrent) * 100
	}
	return Status{
		IsProcessing: !q.paused && !q.stopped,
		PendingJobs:  q.pendingCountLocked(),
		RunningJobs:  q.running,
		Capacity:     q.cfg.MaxConcurrent,
		Utilization:  utilization,
	}
}

// Stats reports cumulative counters plus live pending/running.
func (q *AuditQueue) Stats() Stats {
	q.mu.Lock()
	pending := q.pendingCountLocked()
	running := q.running
	q.mu.Unlock()

	return Stats{
		Pending:   pending,
		Running:   running,
		Completed: atomic.LoadInt64(&q.completed),
		Failed:    atomic.LoadInt64(&q.failed),
		Retried:   atomic.LoadInt64(&q.retried),
	}
}

// =============================================================================
// SCHEDULER
// =============================================================================

// kick requests an immediate dispatch pass without blocking.
func (q *AuditQueue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *AuditQueue) run() {
	defer close(q.doneCh)
	ticker := time.NewTicker(q.cfg.ProcessingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
		case <-q.wake:
		}
		q.dispatch()
	}
}

// dispatch starts as many jobs as capacity allows, highest priority first,
// FIFO within a class. Events fire outside the lock in start order.
func (q *AuditQueue) dispatch() {
	var started []*Job

	q.mu.Lock()
	for !q.paused && !q.stopped && q.running < q.cfg.MaxConcurrent {
		job := q.popNextLocked()
		if job == nil {
			break
		}
		job.Attempts++
		job.StartedAt = time.Now()
		q.running++
		started = append(started, job)
	}
	q.mu.Unlock()

	for _, job := range started {
		q.events.emit(jobEvent(EventJobStarted, job, nil))
		q.wg.Add(1)
		go q.runJob(job)
	}
}

func (q *AuditQueue) popNextLocked() *Job {
	for p := PriorityHigh; p >= PriorityLow; p-- {
		if len(q.pending[p]) > 0 {
			job := q.pending[p][0]
			q.pending[p] = q.pending[p][1:]
			return job
		}
	}
	return nil
}

func (q *AuditQueue) pendingCountLocked() int {
	n := 0
	for p := range q.pending {
		n += len(q.pending[p])
	}
	return n
}

// =============================================================================
// JOB EXECUTION
// =============================================================================

func (q *AuditQueue) runJob(job *Job) {
	defer q.wg.Done()

	review, err, timedOut := q.invoke(job)

	q.mu.Lock()
	q.running--
	cancelled := job.cancelled
	willRetry := !cancelled && err != nil && job.Attempts < 1+job.MaxRetries
	if willRetry {
		// The slot stays accounted for while the job waits out its
		// backoff, so Enqueue cannot oversubscribe MaxQueueSize.
		q.retrying++
	}
	q.mu.Unlock()

	if cancelled {
		// Result arrived after ClearQueue/Destroy already rejected the job.
		q.kick()
		return
	}

	if err == nil {
		q.countStat(&q.completed)
		job.send(JobResult{Review: review})
		q.events.emit(jobEvent(EventJobCompleted, job, nil))
		q.kick()
		return
	}

	if timedOut {
		q.events.emit(jobEvent(EventJobTimeout, job, err))
	}

	if job.Attempts < 1+job.MaxRetries {
		q.countStat(&q.retried)
		q.events.emit(jobEvent(EventJobRetry, job, err))
		q.logger.Debug("audit job retrying",
			zap.String("job", job.ID),
			zap.Int("attempt", job.Attempts),
			zap.Error(err))

		backoff := retryBackoff(job.Attempts, q.cfg.DefaultTimeout)
		select {
		case <-time.After(backoff):
		case <-q.stopCh:
			q.mu.Lock()
			q.retrying--
			q.mu.Unlock()
			job.send(JobResult{Err: ErrQueueDestroyed})
			return
		}
		if q.reinsertHead(job) {
			q.kick()
		}
		return
	}

	q.countStat(&q.failed)
	job.send(JobResult{Err: err})
	q.events.emit(jobEvent(EventJobFailed, job, err))
	q.kick()
}

// invoke runs one attempt under the job's timeout. The audit function is
// raced against the deadline so a function that ignores ctx still settles
// the job on time.
func (q *AuditQueue) invoke(job *Job) (review *types.Review, err error, timedOut bool) {
	ctx, cancel := context.WithTimeout(context.Background(), job.Timeout)
	defer cancel()

	done := make(chan JobResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- JobResult{Err: fmt.Errorf("audit function panicked: %v", r)}
			}
		}()
		rv, e := q.auditFn(ctx, job.Thought, job.SessionID)
		done <- JobResult{Review: rv, Err: e}
	}()

	select {
	case res := <-done:
		if res.Err != nil && errors.Is(res.Err, context.DeadlineExceeded) {
			return nil, q.timeoutError(job), true
		}
		return res.Review, res.Err, false
	case <-ctx.Done():
		return nil, q.timeoutError(job), true
	}
}

func (q *AuditQueue) timeoutError(job *Job) error {
	return fmt.Errorf("audit job %s timed out after %dms", job.ID, job.Timeout.Milliseconds())
}

// reinsertHead puts a retrying job back at the front of its priority class,
// preserving its original enqueue timestamp. The job moves from the
// retrying count back into pending under the same lock.
func (q *AuditQueue) reinsertHead(job *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retrying--
	if q.stopped {
		job.send(JobResult{Err: ErrQueueDestroyed})
		return false
	}
	q.pending[job.Priority] = append([]*Job{job}, q.pending[job.Priority]...)
	return true
}

func (q *AuditQueue) countStat(counter *int64) {
	if q.cfg.EnableStats {
		atomic.AddInt64(counter, 1)
	}
}

// retryBackoff doubles per attempt from 50ms and never exceeds cap.
func retryBackoff(attempt int, cap time.Duration) time.Duration {
	backoff := 50 * time.Millisecond
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= cap {
			return cap
		}
	}
	if backoff > cap {
		return cap
	}
	return backoff
}

func jobEvent(t EventType, job *Job, err error) Event {
	e := Event{
		Type:      t,
		JobID:     job.ID,
		SessionID: job.SessionID,
		Priority:  job.Priority,
		Attempt:   job.Attempts,
		Err:       err,
		At:        time.Now(),
	}
	if job.Thought != nil {
		e.ThoughtNumber = job.Thought.Number
	}
	return e
}
