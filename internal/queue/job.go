package queue

import (
	"time"

	"github.com/DRCubix/gansauditor/internal/types"
)

// =============================================================================
// PRIORITIES & JOBS
// =============================================================================

// Priority orders jobs across classes. Within a class jobs run strictly
// FIFO by enqueue time.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

const numPriorities = 3

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// JobResult is delivered on the channel returned by Enqueue exactly once
// per job.
type JobResult struct {
	Review *types.Review
	Err    error
}

// Job is one queued audit. The queue owns all mutable fields; callers see
// jobs only through event snapshots.
type Job struct {
	ID         string
	Thought    *types.Thought
	SessionID  string
	Priority   Priority
	EnqueuedAt time.Time
	StartedAt  time.Time
	Attempts   int
	MaxRetries int
	Timeout    time.Duration

	resultCh  chan JobResult
	cancelled bool // guarded by the queue mutex
}

// send delivers the terminal result without ever blocking; the channel is
// buffered for exactly one result and extra sends are dropped.
func (j *Job) send(res JobResult) {
	select {
	case j.resultCh <- res:
	default:
	}
}

// =============================================================================
// ENQUEUE OPTIONS
// =============================================================================

type enqueueOptions struct {
	priority      Priority
	timeout       time.Duration
	maxRetries    int
	hasMaxRetries bool
}

// Option customizes a single Enqueue call.
type Option func(*enqueueOptions)

// WithPriority selects the job's priority class (default normal).
func WithPriority(p Priority) Option {
	return func(o *enqueueOptions) {
		if p >= PriorityLow && p <= PriorityHigh {
			o.priority = p
		}
	}
}

// WithTimeout overrides the per-attempt timeout for this job.
func WithTimeout(d time.Duration) Option {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxRetries overrides how many times a failing job is retried.
func WithMaxRetries(n int) Option {
	return func(o *enqueueOptions) {
		if n >= 0 {
			o.maxRetries = n
			o.hasMaxRetries = true
		}
	}
}

func resolveOptions(cfg Config, opts []Option) enqueueOptions {
	o := enqueueOptions{
		priority:   PriorityNormal,
		timeout:    cfg.DefaultTimeout,
		maxRetries: cfg.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
