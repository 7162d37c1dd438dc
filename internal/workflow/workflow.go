// Package workflow runs the ordered multi-step audit pipeline. A workflow
// is a validated sequence of named steps; the engine executes them in
// order, collecting typed outputs and evidence, and can optionally skip
// steps or continue past failures when configured to.
package workflow

import (
	"fmt"
	"strings"
	"time"
)

// EvidenceSeverity ranks one piece of evidence.
type EvidenceSeverity string

const (
	SeverityCritical EvidenceSeverity = "Critical"
	SeverityMajor    EvidenceSeverity = "Major"
	SeverityMinor    EvidenceSeverity = "Minor"
)

// EvidenceItem is a typed observation produced by a workflow step.
type EvidenceItem struct {
	Type        string           `json:"type"`
	Severity    EvidenceSeverity `json:"severity"`
	Description string           `json:"description"`
	Location    string           `json:"location,omitempty"`
}

// Step defines one pipeline stage. Orders must form the exact sequence
// 1..N across the workflow.
type Step struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Order           int      `json:"order"`
	Required        bool     `json:"required"`
	Actions         []string `json:"actions"`
	ExpectedOutputs []string `json:"expectedOutputs"`
}

// Workflow is an ordered, validated audit pipeline definition.
type Workflow struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Steps   []Step `json:"steps"`
}

// Status is the engine lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StepResult records one executed step.
type StepResult struct {
	Step        string         `json:"step"`
	Success     bool           `json:"success"`
	Outputs     map[string]any `json:"outputs"`
	Evidence    []EvidenceItem `json:"evidence"`
	NextActions []string       `json:"nextActions"`
	Errors      []string       `json:"errors,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

// ExecutionState is a snapshot of an engine run.
type ExecutionState struct {
	Workflow         *Workflow      `json:"workflow"`
	CurrentStepIndex int            `json:"currentStepIndex"`
	CompletedSteps   []StepResult   `json:"completedSteps"`
	Status           Status         `json:"status"`
	StartTime        time.Time      `json:"startTime"`
	AllEvidence      []EvidenceItem `json:"allEvidence"`
	Errors           []string       `json:"errors"`
}

// Default audit workflow step names. Handlers are keyed by these.
const (
	StepInit    = "INIT"
	StepRepro   = "REPRO"
	StepStatic  = "STATIC"
	StepTests   = "TESTS"
	StepDynamic = "DYNAMIC"
	StepConform = "CONFORM"
	StepTrace   = "TRACE"
	StepVerdict = "VERDICT"
)

// DefaultAuditWorkflow returns the standard eight-step audit pipeline.
func DefaultAuditWorkflow() *Workflow {
	return &Workflow{
		Name:    "audit",
		Version: "1.0",
		Steps: []Step{
			{
				Name:            StepInit,
				Description:     "Establish task goals, acceptance criteria, and constraints",
				Order:           1,
				Required:        true,
				Actions:         []string{"parse task description", "extract candidate code", "load session config"},
				ExpectedOutputs: []string{"task", "candidate", "constraints"},
			},
			{
				Name:            StepRepro,
				Description:     "Establish a deterministic reproduction of the candidate's behavior",
				Order:           2,
				Required:        true,
				Actions:         []string{"identify entry points", "derive invocation shape"},
				ExpectedOutputs: []string{"reproduction", "entry_points"},
			},
			{
				Name:            StepStatic,
				Description:     "Run static checks: lint, format, security patterns",
				Order:           3,
				Required:        true,
				Actions:         []string{"run security rules", "run bug rules", "run style rules"},
				ExpectedOutputs: []string{"static_findings", "static_score"},
			},
			{
				Name:            StepTests,
				Description:     "Assess test coverage signals in the candidate",
				Order:           4,
				Required:        true,
				Actions:         []string{"locate test functions", "estimate coverage"},
				ExpectedOutputs: []string{"test_signals", "has_tests"},
			},
			{
				Name:            StepDynamic,
				Description:     "Scan for runtime hazards: unbounded loops, races, leaks",
				Order:           5,
				Required:        true,
				Actions:         []string{"run runtime hazard rules"},
				ExpectedOutputs: []string{"dynamic_findings", "dynamic_score"},
			},
			{
				Name:            StepConform,
				Description:     "Check naming and structural conformity",
				Order:           6,
				Required:        true,
				Actions:         []string{"run style rules", "check structure"},
				ExpectedOutputs: []string{"conformity_findings", "conformity_score"},
			},
			{
				Name:            StepTrace,
				Description:     "Trace requirements to implementation evidence",
				Order:           7,
				Required:        true,
				Actions:         []string{"map task clauses to code regions"},
				ExpectedOutputs: []string{"traceability"},
			},
			{
				Name:            StepVerdict,
				Description:     "Invoke the judge and aggregate scores into a review",
				Order:           8,
				Required:        true,
				Actions:         []string{"build judge request", "score dimensions", "render review"},
				ExpectedOutputs: []string{"review", "verdict"},
			},
		},
	}
}

// Validate collects every violated workflow invariant. Message strings are
// stable; constructors join them into their failure error.
func Validate(w *Workflow) []string {
	var errs []string
	if w == nil || len(w.Steps) == 0 {
		return []string{"Workflow must have at least one step"}
	}

	required := false
	names := make(map[string]bool, len(w.Steps))
	uniqueViolated := false
	ordersOK := true

	for i, s := range w.Steps {
		if s.Required {
			required = true
		}
		if names[s.Name] {
			uniqueViolated = true
		}
		names[s.Name] = true
		if s.Order != i+1 {
			ordersOK = false
		}
		if strings.TrimSpace(s.Description) == "" {
			errs = append(errs, fmt.Sprintf("Step '%s' must have a description", s.Name))
		}
		if len(s.Actions) == 0 {
			errs = append(errs, fmt.Sprintf("Step '%s' must have at least one action", s.Name))
		}
		if len(s.ExpectedOutputs) == 0 {
			errs = append(errs, fmt.Sprintf("Step '%s' must have at least one expected output", s.Name))
		}
	}

	if !required {
		errs = append(errs, "Workflow must have at least one required step")
	}
	if uniqueViolated {
		errs = append(errs, "Workflow steps must have unique names")
	}
	if !ordersOK {
		errs = append(errs, "Workflow steps must have consecutive order values starting from 1")
	}
	return errs
}
