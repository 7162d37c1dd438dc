// Package types provides shared type definitions used across gansauditor packages.
// This package exists to break import cycles between cache, queue, session,
// completion, and the auditor. Types in this package should be foundational
// data structures with no complex dependencies.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// THOUGHT (INPUT)
// =============================================================================

// Thought is one unit of client input: free text that may carry fenced code
// blocks plus an optional inline configuration block.
type Thought struct {
	Number            int    `json:"thoughtNumber"`
	Text              string `json:"thought"`
	BranchID          string `json:"branchId,omitempty"`
	TotalThoughts     int    `json:"totalThoughts,omitempty"`
	NextThoughtNeeded bool   `json:"nextThoughtNeeded,omitempty"`
}

// Validate checks the basic input invariants.
func (t *Thought) Validate() error {
	if t == nil {
		return fmt.Errorf("thought is nil")
	}
	if t.Number < 1 {
		return fmt.Errorf("thoughtNumber must be >= 1, got %d", t.Number)
	}
	return nil
}

// =============================================================================
// REVIEW (JUDGE OUTPUT)
// =============================================================================

// Verdict is the judge's overall disposition for a candidate.
type Verdict string

const (
	VerdictPass   Verdict = "pass"
	VerdictRevise Verdict = "revise"
	VerdictReject Verdict = "reject"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPass, VerdictRevise, VerdictReject:
		return true
	}
	return false
}

// DimensionScore is one scored rubric dimension.
type DimensionScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// InlineComment is a judge remark anchored to a file location.
type InlineComment struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Comment string `json:"comment"`
}

// ReviewDetail carries the human-readable body of a review.
type ReviewDetail struct {
	Summary   string          `json:"summary"`
	Inline    []InlineComment `json:"inline"`
	Citations []string        `json:"citations"`
}

// JudgeCard records one judge model's contribution to a review.
type JudgeCard struct {
	Model string  `json:"model"`
	Score float64 `json:"score"`
	Notes string  `json:"notes,omitempty"`
}

// Review is the structured verdict produced by a judge for one candidate.
// Field order matters: persisted sessions rely on stable JSON ordering.
type Review struct {
	Overall      int              `json:"overall"`
	Dimensions   []DimensionScore `json:"dimensions"`
	Verdict      Verdict          `json:"verdict"`
	Detail       ReviewDetail     `json:"review"`
	ProposedDiff *string          `json:"proposed_diff"`
	Iterations   int              `json:"iterations"`
	JudgeCards   []JudgeCard      `json:"judge_cards"`
}

// Clone returns a deep copy. Reviews cross goroutine boundaries (queue
// results, cache hits), so shared slices must not alias.
func (r *Review) Clone() *Review {
	if r == nil {
		return nil
	}
	out := *r
	out.Dimensions = append([]DimensionScore(nil), r.Dimensions...)
	out.Detail.Inline = append([]InlineComment(nil), r.Detail.Inline...)
	out.Detail.Citations = append([]string(nil), r.Detail.Citations...)
	out.JudgeCards = append([]JudgeCard(nil), r.JudgeCards...)
	if r.ProposedDiff != nil {
		d := *r.ProposedDiff
		out.ProposedDiff = &d
	}
	return &out
}

// =============================================================================
// SESSION CONFIGURATION
// =============================================================================

// AuditScope selects the context-building strategy for a session.
type AuditScope string

const (
	ScopeDiff      AuditScope = "diff"
	ScopePaths     AuditScope = "paths"
	ScopeWorkspace AuditScope = "workspace"
)

// Valid reports whether s is a recognized scope.
func (s AuditScope) Valid() bool {
	switch s {
	case ScopeDiff, ScopePaths, ScopeWorkspace:
		return true
	}
	return false
}

// SessionConfig holds the per-session audit knobs. All fields have working
// defaults; inline overrides arrive as a SessionConfigPatch and are merged
// with clamping rather than trusted.
type SessionConfig struct {
	Task       string     `json:"task" yaml:"task"`
	Scope      AuditScope `json:"scope" yaml:"scope"`
	Threshold  int        `json:"threshold" yaml:"threshold"`
	MaxCycles  int        `json:"maxCycles" yaml:"max_cycles"`
	Candidates int        `json:"candidates" yaml:"candidates"`
	Judges     []string   `json:"judges" yaml:"judges"`
	ApplyFixes bool       `json:"applyFixes" yaml:"apply_fixes"`
}

// DefaultSessionConfig returns the canonical session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Task:       "Audit and improve the provided candidate",
		Scope:      ScopeDiff,
		Threshold:  85,
		MaxCycles:  1,
		Candidates: 1,
		Judges:     []string{"internal"},
		ApplyFixes: false,
	}
}

// Clamp forces every field back into its legal range. Unknown scopes fall
// back to the default rather than failing the session.
func (c *SessionConfig) Clamp() {
	if c.Threshold < 0 {
		c.Threshold = 0
	}
	if c.Threshold > 100 {
		c.Threshold = 100
	}
	if c.MaxCycles < 1 {
		c.MaxCycles = 1
	}
	if c.Candidates < 1 {
		c.Candidates = 1
	}
	if !c.Scope.Valid() {
		c.Scope = ScopeDiff
	}
	if len(c.Judges) == 0 {
		c.Judges = []string{"internal"}
	}
}

// SessionConfigPatch is the partial override parsed from an inline
// gan-config block. Nil pointers mean "leave as configured".
type SessionConfigPatch struct {
	Task       *string  `json:"task"`
	Scope      *string  `json:"scope"`
	Threshold  *float64 `json:"threshold"`
	MaxCycles  *float64 `json:"maxCycles"`
	Candidates *float64 `json:"candidates"`
	Judges     []string `json:"judges"`
	ApplyFixes *bool    `json:"applyFixes"`
}

// Empty reports whether the patch overrides nothing.
func (p *SessionConfigPatch) Empty() bool {
	if p == nil {
		return true
	}
	return p.Task == nil && p.Scope == nil && p.Threshold == nil &&
		p.MaxCycles == nil && p.Candidates == nil && len(p.Judges) == 0 &&
		p.ApplyFixes == nil
}

// Apply merges the patch into a copy of c and clamps the result.
func (c SessionConfig) Apply(p *SessionConfigPatch) SessionConfig {
	out := c
	out.Judges = append([]string(nil), c.Judges...)
	if p == nil {
		out.Clamp()
		return out
	}
	if p.Task != nil {
		out.Task = *p.Task
	}
	if p.Scope != nil {
		out.Scope = AuditScope(*p.Scope)
	}
	if p.Threshold != nil {
		out.Threshold = int(*p.Threshold)
	}
	if p.MaxCycles != nil {
		out.MaxCycles = int(*p.MaxCycles)
	}
	if p.Candidates != nil {
		out.Candidates = int(*p.Candidates)
	}
	if len(p.Judges) > 0 {
		out.Judges = append([]string(nil), p.Judges...)
	}
	if p.ApplyFixes != nil {
		out.ApplyFixes = *p.ApplyFixes
	}
	out.Clamp()
	return out
}

// =============================================================================
// SESSION STATE
// =============================================================================

// HistoryEntry is one completed audit appended to a session. Timestamps are
// monotonic within a session.
type HistoryEntry struct {
	ThoughtNumber int           `json:"thoughtNumber"`
	Review        Review        `json:"review"`
	Config        SessionConfig `json:"config"`
	Timestamp     time.Time     `json:"timestamp"`
}

// IterationData is the raw material for stagnation detection: the candidate
// code as submitted plus the review it earned.
type IterationData struct {
	ThoughtNumber int       `json:"thoughtNumber"`
	Code          string    `json:"code"`
	AuditResult   Review    `json:"auditResult"`
	Timestamp     time.Time `json:"timestamp"`
}

// StagnationResult is the analyzer's judgment about whether recent
// iterations are going anywhere.
type StagnationResult struct {
	IsStagnant             bool      `json:"isStagnant"`
	DetectedAtLoop         int       `json:"detectedAtLoop"`
	SimilarityScore        float64   `json:"similarityScore"`
	Recommendation         string    `json:"recommendation"`
	ProgressAnalysis       string    `json:"progressAnalysis,omitempty"`
	AlternativeSuggestions []string  `json:"alternativeSuggestions,omitempty"`
	SimilarityProgression  []float64 `json:"similarityProgression,omitempty"`
	Patterns               []string  `json:"patterns,omitempty"`
}

// SessionState is the full per-session record. History is append-only and
// CurrentLoop always equals len(History). Once IsComplete is set no further
// entries may be appended.
type SessionState struct {
	ID                 string            `json:"id"`
	Config             SessionConfig     `json:"config"`
	History            []HistoryEntry    `json:"history"`
	Iterations         []IterationData   `json:"iterations"`
	CurrentLoop        int               `json:"currentLoop"`
	IsComplete         bool              `json:"isComplete"`
	LastGan            *Review           `json:"lastGan,omitempty"`
	StagnationInfo     *StagnationResult `json:"stagnationInfo,omitempty"`
	CodexContextActive bool              `json:"codexContextActive"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// =============================================================================
// COMPLETION CRITERIA
// =============================================================================

// CompletionTier pairs a score bar with the minimum loop count at which it
// unlocks.
type CompletionTier struct {
	Score    int `json:"score" yaml:"score"`
	MaxLoops int `json:"maxLoops" yaml:"max_loops"`
}

// HardStop is the loop count at which a session terminates regardless of
// score.
type HardStop struct {
	MaxLoops int `json:"maxLoops" yaml:"max_loops"`
}

// StagnationCheck configures the loop-detection analyzer.
type StagnationCheck struct {
	StartLoop           int     `json:"startLoop" yaml:"start_loop"`
	SimilarityThreshold float64 `json:"similarityThreshold" yaml:"similarity_threshold"`
}

// CompletionCriteria is the tiered termination policy for a session.
type CompletionCriteria struct {
	Tier1           CompletionTier  `json:"tier1" yaml:"tier1"`
	Tier2           CompletionTier  `json:"tier2" yaml:"tier2"`
	Tier3           CompletionTier  `json:"tier3" yaml:"tier3"`
	HardStop        HardStop        `json:"hardStop" yaml:"hard_stop"`
	StagnationCheck StagnationCheck `json:"stagnationCheck" yaml:"stagnation_check"`
}
