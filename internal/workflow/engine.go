package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HandlerResult is what a step handler returns: the step's typed outputs
// plus any evidence it gathered.
type HandlerResult struct {
	Outputs  map[string]any
	Evidence []EvidenceItem
}

// Handler executes one step. Inputs carry accumulated pipeline state (the
// engine passes the caller's inputs through unchanged).
type Handler func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error)

// EngineConfig controls ordering and failure policy.
type EngineConfig struct {
	// EnforceOrder rejects SkipToStep targets that are not the natural
	// next step.
	EnforceOrder bool
	// AllowSkipping permits SkipToStep at all.
	AllowSkipping bool
	// ContinueOnFailure records failed steps and keeps going instead of
	// failing the run.
	ContinueOnFailure bool
	// Logger receives step diagnostics. Nil means silent.
	Logger *zap.Logger
}

// Engine executes one workflow run. An engine is single-use: construct,
// Start, ExecuteNextStep until completed. Safe for concurrent observers;
// execution itself is serialized by the engine mutex.
type Engine struct {
	mu       sync.Mutex
	workflow *Workflow
	cfg      EngineConfig
	handlers map[string]Handler
	state    ExecutionState
	logger   *zap.Logger
}

// NewEngine validates the workflow and builds an engine over it.
func NewEngine(w *Workflow, cfg EngineConfig) (*Engine, error) {
	if errs := Validate(w); len(errs) > 0 {
		return nil, fmt.Errorf("Workflow validation failed: %s", strings.Join(errs, "; "))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		workflow: w,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		logger:   cfg.Logger,
		state: ExecutionState{
			Workflow: w,
			Status:   StatusNotStarted,
		},
	}, nil
}

// NewAuditWorkflowEngine builds an engine over the default audit workflow
// with order enforcement on.
func NewAuditWorkflowEngine(cfg EngineConfig) (*Engine, error) {
	cfg.EnforceOrder = true
	return NewEngine(DefaultAuditWorkflow(), cfg)
}

// RegisterHandler binds a handler to a step name, replacing any previous
// binding.
func (e *Engine) RegisterHandler(stepName string, h Handler) {
	e.mu.Lock()
	e.handlers[stepName] = h
	e.mu.Unlock()
}

// Start transitions the run to in_progress. Starting twice fails.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != StatusNotStarted {
		return fmt.Errorf("Cannot start workflow in status: %s", e.state.Status)
	}
	e.state.Status = StatusInProgress
	e.state.StartTime = time.Now()
	e.logger.Debug("workflow started",
		zap.String("workflow", e.workflow.Name),
		zap.Int("steps", len(e.workflow.Steps)))
	return nil
}

// ExecuteNextStep runs the current step and advances. After the last step
// the status becomes completed and further calls fail.
func (e *Engine) ExecuteNextStep(ctx context.Context, inputs map[string]any) (*StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state.Status {
	case StatusInProgress:
	case StatusCompleted:
		return nil, fmt.Errorf("All workflow steps have been completed")
	default:
		return nil, fmt.Errorf("Cannot execute step in status: %s", e.state.Status)
	}

	step := e.workflow.Steps[e.state.CurrentStepIndex]
	return e.executeLocked(ctx, step, inputs)
}

// executeLocked runs one step under the engine mutex and records its
// result.
func (e *Engine) executeLocked(ctx context.Context, step Step, inputs map[string]any) (*StepResult, error) {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	started := time.Now()

	handler := e.handlers[step.Name]
	var hres *HandlerResult
	var err error
	if handler == nil {
		err = fmt.Errorf("no handler registered for step '%s'", step.Name)
	} else {
		hres, err = e.invoke(ctx, handler, step, inputs)
	}

	if err == nil && hres != nil {
		for _, key := range step.ExpectedOutputs {
			if _, ok := hres.Outputs[key]; !ok {
				err = fmt.Errorf("Missing required output '%s'", key)
				break
			}
		}
	}

	if err != nil {
		e.logger.Debug("workflow step failed",
			zap.String("step", step.Name),
			zap.Error(err))
		e.state.Errors = append(e.state.Errors, err.Error())
		if !e.cfg.ContinueOnFailure {
			e.state.Status = StatusFailed
			return nil, err
		}
		result := StepResult{
			Step:        step.Name,
			Success:     false,
			Outputs:     map[string]any{},
			Errors:      []string{err.Error()},
			NextActions: []string{"Investigate the step failure and re-run"},
			Duration:    time.Since(started),
		}
		if hres != nil {
			result.Outputs = hres.Outputs
			result.Evidence = hres.Evidence
			e.state.AllEvidence = append(e.state.AllEvidence, hres.Evidence...)
		}
		e.recordLocked(result)
		return &result, nil
	}

	e.state.AllEvidence = append(e.state.AllEvidence, hres.Evidence...)
	result := StepResult{
		Step:        step.Name,
		Success:     true,
		Outputs:     hres.Outputs,
		Evidence:    hres.Evidence,
		NextActions: nextActions(hres.Evidence),
		Duration:    time.Since(started),
	}
	e.recordLocked(result)
	return &result, nil
}

// invoke runs the handler with panic containment so a broken handler fails
// the step rather than the process.
func (e *Engine) invoke(ctx context.Context, h Handler, step Step, inputs map[string]any) (res *HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("step handler panicked: %v", r)
		}
	}()
	res, err = h(ctx, step, inputs)
	if err == nil && res == nil {
		res = &HandlerResult{Outputs: map[string]any{}}
	}
	return res, err
}

func (e *Engine) recordLocked(result StepResult) {
	e.state.CompletedSteps = append(e.state.CompletedSteps, result)
	e.state.CurrentStepIndex++
	if e.state.CurrentStepIndex >= len(e.workflow.Steps) {
		e.state.Status = StatusCompleted
		e.logger.Debug("workflow completed",
			zap.String("workflow", e.workflow.Name),
			zap.Int("evidence", len(e.state.AllEvidence)))
	}
}

// SkipToStep jumps execution to the named step. Requires AllowSkipping;
// EnforceOrder additionally restricts the target to the natural next step.
func (e *Engine) SkipToStep(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.AllowSkipping {
		return fmt.Errorf("Step skipping is not allowed in current configuration")
	}
	if e.state.Status != StatusInProgress {
		return fmt.Errorf("Cannot execute step in status: %s", e.state.Status)
	}

	target := -1
	for i, s := range e.workflow.Steps {
		if s.Name == name {
			target = i
			break
		}
	}
	if target < 0 {
		return fmt.Errorf("Step '%s' not found in workflow", name)
	}
	if e.cfg.EnforceOrder && target != e.state.CurrentStepIndex {
		return fmt.Errorf("Step order violation")
	}
	e.state.CurrentStepIndex = target
	return nil
}

// State returns a snapshot of the run. Slices are copied so observers
// cannot race execution.
func (e *Engine) State() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.state
	snap.CompletedSteps = append([]StepResult(nil), e.state.CompletedSteps...)
	snap.AllEvidence = append([]EvidenceItem(nil), e.state.AllEvidence...)
	snap.Errors = append([]string(nil), e.state.Errors...)
	return snap
}

// AllEvidence returns every evidence item accumulated so far.
func (e *Engine) AllEvidence() []EvidenceItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]EvidenceItem(nil), e.state.AllEvidence...)
}

// EvidenceBySeverity filters accumulated evidence to one severity.
func (e *Engine) EvidenceBySeverity(sev EvidenceSeverity) []EvidenceItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []EvidenceItem
	for _, item := range e.state.AllEvidence {
		if item.Severity == sev {
			out = append(out, item)
		}
	}
	return out
}

// nextActions derives the follow-up list from evidence severity counts.
// Always non-empty.
func nextActions(evidence []EvidenceItem) []string {
	var critical, major, minor int
	for _, item := range evidence {
		switch item.Severity {
		case SeverityCritical:
			critical++
		case SeverityMajor:
			major++
		case SeverityMinor:
			minor++
		}
	}

	var actions []string
	if critical > 0 {
		actions = append(actions, fmt.Sprintf("Resolve %d critical finding(s) before proceeding", critical))
	}
	if major > 0 {
		actions = append(actions, fmt.Sprintf("Address %d major finding(s)", major))
	}
	if minor > 0 {
		actions = append(actions, fmt.Sprintf("Review %d minor finding(s)", minor))
	}
	if len(actions) == 0 {
		actions = append(actions, "Proceed to the next step")
	}
	return actions
}
