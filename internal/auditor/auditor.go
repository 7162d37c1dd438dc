// Package auditor orchestrates one audit end to end: deduplication through
// the cache, admission through the queue, context assembly, the workflow
// pipeline, judging, and session bookkeeping.
package auditor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DRCubix/gansauditor/internal/cache"
	"github.com/DRCubix/gansauditor/internal/completion"
	"github.com/DRCubix/gansauditor/internal/contextpack"
	"github.com/DRCubix/gansauditor/internal/fingerprint"
	"github.com/DRCubix/gansauditor/internal/judge"
	"github.com/DRCubix/gansauditor/internal/queue"
	"github.com/DRCubix/gansauditor/internal/session"
	"github.com/DRCubix/gansauditor/internal/types"
	"github.com/DRCubix/gansauditor/internal/workflow"
)

// DefaultAuditTimeout bounds one audit from enqueue to verdict.
const DefaultAuditTimeout = 30 * time.Second

// Config holds the orchestrator knobs.
type Config struct {
	// Disabled short-circuits every audit into a synthetic pass.
	Disabled bool
	// AuditTimeout bounds EnqueueAndWait. Zero means DefaultAuditTimeout.
	AuditTimeout time.Duration
	// Logger receives orchestration diagnostics. Nil means silent.
	Logger *zap.Logger
}

// Deps are the subsystem collaborators. Sessions, Evaluator, and Judge are
// required; the rest are built from defaults when nil.
type Deps struct {
	Cache     *cache.AuditCache
	Sessions  *session.Manager
	Evaluator *completion.Evaluator
	Detector  *completion.StagnationDetector
	Packer    *contextpack.Packer
	Judge     judge.Judge
	// Queue configures the internally owned audit queue.
	Queue queue.Config
}

// AuditResult is the orchestrator's answer for one thought.
type AuditResult struct {
	Success    bool               `json:"success"`
	TimedOut   bool               `json:"timedOut,omitempty"`
	Cached     bool               `json:"cached,omitempty"`
	SessionID  string             `json:"sessionId"`
	Review     *types.Review      `json:"review"`
	Completion *completion.Result `json:"completion,omitempty"`
	DurationMs int64              `json:"durationMs"`
}

// Auditor runs the full audit pipeline. Safe for concurrent callers; the
// queue serializes actual audit work.
type Auditor struct {
	cfg      Config
	disabled atomic.Bool
	cache    *cache.AuditCache
	queue    *queue.AuditQueue
	sessions *session.Manager
	eval     *completion.Evaluator
	detector *completion.StagnationDetector
	packer   *contextpack.Packer
	judge    judge.Judge
	logger   *zap.Logger
}

// New wires the subsystems together. The auditor owns its queue and will
// tear it down in Destroy; injected collaborators stay caller-owned.
func New(cfg Config, deps Deps) (*Auditor, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("auditor requires a session manager")
	}
	if deps.Evaluator == nil {
		return nil, fmt.Errorf("auditor requires a completion evaluator")
	}
	if deps.Judge == nil {
		return nil, fmt.Errorf("auditor requires a judge")
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = DefaultAuditTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(cache.DefaultConfig())
	}
	if deps.Detector == nil {
		deps.Detector = completion.NewStagnationDetector(deps.Evaluator.Criteria().StagnationCheck, cfg.Logger)
	}
	if deps.Packer == nil {
		deps.Packer = contextpack.New(contextpack.DefaultLimits(), cfg.Logger)
	}
	if deps.Queue.MaxConcurrent == 0 {
		deps.Queue.MaxConcurrent = queue.DefaultConfig().MaxConcurrent
	}
	if deps.Queue.Logger == nil {
		deps.Queue.Logger = cfg.Logger
	}

	a := &Auditor{
		cfg:      cfg,
		cache:    deps.Cache,
		sessions: deps.Sessions,
		eval:     deps.Evaluator,
		detector: deps.Detector,
		packer:   deps.Packer,
		judge:    deps.Judge,
		logger:   cfg.Logger,
	}
	a.disabled.Store(cfg.Disabled)
	a.queue = queue.New(deps.Queue, a.runAudit)
	return a, nil
}

// SetDisabled flips the audit kill switch at runtime (config hot-reload).
func (a *Auditor) SetDisabled(disabled bool) {
	a.disabled.Store(disabled)
}

// Queue exposes the owned queue for event subscription and stats.
func (a *Auditor) Queue() *queue.AuditQueue { return a.queue }

// AuditThought runs the whole pipeline for one thought. An empty sessionID
// falls back to the thought's branch, then to a generated one. Queue
// saturation is the only error surfaced to the caller; every other failure
// degrades to a fallback review so the client loop can keep iterating.
func (a *Auditor) AuditThought(ctx context.Context, thought *types.Thought, sessionID string) (*AuditResult, error) {
	if err := thought.Validate(); err != nil {
		return nil, err
	}

	sessionID = a.resolveSessionID(thought, sessionID)

	if a.disabled.Load() || !IsAuditRequired(thought) {
		return &AuditResult{
			Success:   true,
			SessionID: sessionID,
			Review:    syntheticPass(),
		}, nil
	}

	state := a.sessions.GetOrCreateSession(sessionID)
	if patch := ExtractInlineConfig(thought.Text); patch != nil {
		state.Config = state.Config.Apply(patch)
		if err := a.sessions.UpdateSession(state); err != nil {
			a.logger.Warn("session config update failed",
				zap.String("session", sessionID), zap.Error(err))
		}
	}

	started := time.Now()

	if review, ok := a.cache.Get(thought); ok {
		a.logger.Debug("cache hit", zap.String("session", sessionID),
			zap.Int("thought", thought.Number))
		return a.finish(sessionID, thought, review, started, true)
	}

	auditCtx, cancel := context.WithTimeout(ctx, a.cfg.AuditTimeout)
	defer cancel()

	review, err := a.queue.EnqueueAndWait(auditCtx, thought, sessionID)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			return nil, err
		}
		timedOut := errors.Is(err, context.DeadlineExceeded) ||
			strings.Contains(err.Error(), "timed out")
		a.logger.Warn("audit degraded to fallback review",
			zap.String("session", sessionID),
			zap.Bool("timedOut", timedOut),
			zap.Error(err))
		result := &AuditResult{
			Success:    false,
			TimedOut:   timedOut,
			SessionID:  sessionID,
			Review:     a.fallbackReview(timedOut, err),
			DurationMs: time.Since(started).Milliseconds(),
		}
		return result, nil
	}

	a.cache.Set(thought, review)
	return a.finish(sessionID, thought, review, started, false)
}

// finish records a completed (or cache-served) review against the session
// and evaluates the completion policy. Cache hits still append iteration
// data: a resubmission of identical code is exactly what the stagnation
// detector has to see. Bookkeeping failures are logged but never fail the
// audit.
func (a *Auditor) finish(sessionID string, thought *types.Thought, review *types.Review, started time.Time, cached bool) (*AuditResult, error) {
	state := a.sessions.GetOrCreateSession(sessionID)

	if err := a.sessions.AddAuditToHistory(sessionID, thought.Number, review, state.Config); err != nil {
		a.logger.Warn("history append failed",
			zap.String("session", sessionID), zap.Error(err))
	}
	if err := a.sessions.AddIteration(sessionID, thought.Number, thought.Text, review); err != nil {
		a.logger.Warn("iteration append failed",
			zap.String("session", sessionID), zap.Error(err))
	}

	state = a.sessions.GetOrCreateSession(sessionID)
	stagnation := a.detector.Detect(state.Iterations, state.CurrentLoop)
	completionResult := a.eval.Evaluate(review.Overall, state.CurrentLoop, stagnation)
	if completionResult.IsComplete && !state.IsComplete {
		if err := a.sessions.MarkComplete(sessionID, stagnation); err != nil {
			a.logger.Warn("mark complete failed",
				zap.String("session", sessionID), zap.Error(err))
		}
	}

	return &AuditResult{
		Success:    true,
		Cached:     cached,
		SessionID:  sessionID,
		Review:     review,
		Completion: &completionResult,
		DurationMs: time.Since(started).Milliseconds(),
	}, nil
}

// runAudit is the queue's AuditFunc: context pack, workflow pipeline, judge.
func (a *Auditor) runAudit(ctx context.Context, thought *types.Thought, sessionID string) (*types.Review, error) {
	state := a.sessions.GetOrCreateSession(sessionID)

	pack := a.packer.Build(ctx, contextpack.PackRequest{Scope: state.Config.Scope})

	engine, err := workflow.NewAuditWorkflowEngine(workflow.EngineConfig{
		ContinueOnFailure: true,
		Logger:            a.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := workflow.RegisterDefaultHandlers(engine, workflow.Deps{
		Judge:       a.judge,
		Config:      state.Config,
		ContextPack: pack,
	}); err != nil {
		return nil, err
	}
	if err := engine.Start(); err != nil {
		return nil, err
	}

	inputs := map[string]any{
		workflow.InputTask:      state.Config.Task,
		workflow.InputCandidate: candidateText(thought.Text),
	}
	var review *types.Review
	for engine.State().Status == workflow.StatusInProgress {
		result, err := engine.ExecuteNextStep(ctx, inputs)
		if err != nil {
			return nil, err
		}
		// Later steps see every earlier step's outputs.
		for k, v := range result.Outputs {
			inputs[k] = v
		}
		if r, ok := types.ExtractReview(result.Outputs, "review"); ok {
			review = r
		}
	}
	if review == nil {
		return nil, fmt.Errorf("workflow produced no review")
	}
	review.Iterations = state.CurrentLoop + 1
	return review, nil
}

// resolveSessionID applies sessionId ?? branchId ?? generated.
func (a *Auditor) resolveSessionID(thought *types.Thought, sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	if thought.BranchID != "" {
		return thought.BranchID
	}
	return a.sessions.GenerateSessionID()
}

// candidateText is what the judges see: the fenced blocks when present,
// otherwise the raw thought.
func candidateText(text string) string {
	blocks := fingerprint.ExtractCodeBlocks(text)
	if len(blocks) == 0 {
		return text
	}
	return strings.Join(blocks, "\n\n")
}

func syntheticPass() *types.Review {
	return &types.Review{
		Overall: 100,
		Verdict: types.VerdictPass,
		Detail: types.ReviewDetail{
			Summary: "No auditable content detected; skipping audit.",
		},
		JudgeCards: []types.JudgeCard{{Model: "skip", Score: 100}},
	}
}

// fallbackReview is the degraded answer when the pipeline cannot finish.
func (a *Auditor) fallbackReview(timedOut bool, cause error) *types.Review {
	summary := fmt.Sprintf("Audit failed: %v. Manual review recommended.", cause)
	if timedOut {
		summary = fmt.Sprintf("Audit timed out after %dms. Partial analysis only; manual review recommended.",
			a.cfg.AuditTimeout.Milliseconds())
	}
	return &types.Review{
		Overall: 50,
		Verdict: types.VerdictRevise,
		Detail: types.ReviewDetail{
			Summary: summary,
		},
		JudgeCards: []types.JudgeCard{{Model: "fallback", Score: 50}},
	}
}

// Destroy tears down the owned queue and cache.
func (a *Auditor) Destroy() {
	a.queue.Destroy()
	a.cache.Destroy()
}
