// Package completion decides when an audit session is done. Tiered score
// thresholds unlock progressively lower bars as loops accumulate; a hard
// stop bounds every session; the stagnation analyzer catches sessions that
// loop without progress and outranks both.
package completion

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DRCubix/gansauditor/internal/types"
)

// ErrInvalidCriteria wraps criteria validation failures from NewEvaluator.
var ErrInvalidCriteria = errors.New("invalid completion criteria")

// Stable completion reasons. Names are part of the wire contract and do not
// track the configured numbers.
const (
	ReasonTier1              = "score_95_at_10"
	ReasonTier2              = "score_90_at_15"
	ReasonTier3              = "score_85_at_20"
	ReasonHardStop           = "max_loops_reached"
	ReasonStagnationDetected = "stagnation_detected"
	ReasonInProgress         = "in_progress"
)

// DefaultCriteria returns the production termination policy.
func DefaultCriteria() types.CompletionCriteria {
	return types.CompletionCriteria{
		Tier1:    types.CompletionTier{Score: 95, MaxLoops: 10},
		Tier2:    types.CompletionTier{Score: 90, MaxLoops: 15},
		Tier3:    types.CompletionTier{Score: 85, MaxLoops: 20},
		HardStop: types.HardStop{MaxLoops: 25},
		StagnationCheck: types.StagnationCheck{
			StartLoop:           10,
			SimilarityThreshold: 0.95,
		},
	}
}

// Result is one completion evaluation.
type Result struct {
	IsComplete        bool   `json:"isComplete"`
	Reason            string `json:"reason"`
	NextThoughtNeeded bool   `json:"nextThoughtNeeded"`
	Message           string `json:"message"`
}

// StatusInfo describes the currently applicable tier for progress reporting.
type StatusInfo struct {
	CurrentTier     int    `json:"currentTier"` // 1, 2, or 3
	TargetScore     int    `json:"targetScore"`
	MinLoops        int    `json:"minLoops"`
	LoopsRemaining  int    `json:"loopsRemaining"` // until hard stop
	ScoreGap        int    `json:"scoreGap"`       // to the target, 0 when met
	Message         string `json:"message"`
	ThresholdPassed bool   `json:"thresholdPassed"`
}

// TerminationReport is the final assessment rendered when a session must
// stop regardless of score.
type TerminationReport struct {
	ShouldTerminate bool     `json:"shouldTerminate"`
	Reason          string   `json:"reason"`
	FinalAssessment string   `json:"finalAssessment,omitempty"`
	FailureRate     float64  `json:"failureRate"`
	CriticalIssues  []string `json:"criticalIssues,omitempty"`
}

// Evaluator applies CompletionCriteria to (score, loop, stagnation)
// observations. Stateless after construction, safe for concurrent callers.
type Evaluator struct {
	criteria types.CompletionCriteria
	logger   *zap.Logger
}

// NewEvaluator validates criteria and builds an evaluator. Invalid criteria
// are fatal for the instance.
func NewEvaluator(criteria types.CompletionCriteria, logger *zap.Logger) (*Evaluator, error) {
	if issues := ValidateCriteria(criteria); len(issues) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCriteria, strings.Join(issues, "; "))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{criteria: criteria, logger: logger}, nil
}

// Criteria returns the policy the evaluator was built with.
func (e *Evaluator) Criteria() types.CompletionCriteria {
	return e.criteria
}

// Evaluate decides completion for one observation. Priority order:
// stagnation, hard stop, tiers 1..3, in progress. Stagnation outranking the
// hard stop on the same loop is deliberate: a session that is provably
// looping should say so.
func (e *Evaluator) Evaluate(score, loop int, stagnation *types.StagnationResult) Result {
	c := e.criteria

	if stagnation != nil && stagnation.IsStagnant && loop >= c.StagnationCheck.StartLoop {
		return Result{
			IsComplete: true,
			Reason:     ReasonStagnationDetected,
			Message: fmt.Sprintf(
				"Stagnation detected at loop %d (similarity %.2f): %s",
				loop, stagnation.SimilarityScore, stagnation.Recommendation),
		}
	}

	if loop >= c.HardStop.MaxLoops {
		return Result{
			IsComplete: true,
			Reason:     ReasonHardStop,
			Message: fmt.Sprintf(
				"Hard stop: %d loops reached (limit %d) with score %d%%",
				loop, c.HardStop.MaxLoops, score),
		}
	}

	tiers := []struct {
		tier   types.CompletionTier
		reason string
	}{
		{c.Tier1, ReasonTier1},
		{c.Tier2, ReasonTier2},
		{c.Tier3, ReasonTier3},
	}
	for _, t := range tiers {
		if score >= t.tier.Score && loop >= t.tier.MaxLoops {
			return Result{
				IsComplete: true,
				Reason:     t.reason,
				Message: fmt.Sprintf(
					"Completed: score %d%% meets %d%% threshold at loop %d",
					score, t.tier.Score, loop),
			}
		}
	}

	return Result{
		Reason:            ReasonInProgress,
		NextThoughtNeeded: true,
		Message:           e.progressMessage(score, loop),
	}
}

// progressMessage explains what is still missing: loops when the score
// already clears the current target, score otherwise.
func (e *Evaluator) progressMessage(score, loop int) string {
	target, minLoops := e.currentTarget(loop)
	if score >= target {
		return fmt.Sprintf(
			"score %d%% meets threshold, minimum loops not reached (%d of %d)",
			score, loop, minLoops)
	}
	remaining := e.criteria.HardStop.MaxLoops - loop
	return fmt.Sprintf(
		"score %d%% needs %d%% improvement to reach %d%% threshold (%d loops remaining)",
		score, target-score, target, remaining)
}

// currentTarget picks the tier currently in force: tier 1 until tier 2's
// loop bar, then tier 2 until tier 3's, then tier 3.
func (e *Evaluator) currentTarget(loop int) (score, minLoops int) {
	c := e.criteria
	switch {
	case loop < c.Tier2.MaxLoops:
		return c.Tier1.Score, c.Tier1.MaxLoops
	case loop < c.Tier3.MaxLoops:
		return c.Tier2.Score, c.Tier2.MaxLoops
	default:
		return c.Tier3.Score, c.Tier3.MaxLoops
	}
}

// Status reports the currently applicable tier and remaining headroom.
func (e *Evaluator) Status(score, loop int) StatusInfo {
	c := e.criteria
	target, minLoops := e.currentTarget(loop)

	tier := 1
	switch {
	case loop >= c.Tier3.MaxLoops:
		tier = 3
	case loop >= c.Tier2.MaxLoops:
		tier = 2
	}

	gap := target - score
	if gap < 0 {
		gap = 0
	}
	remaining := c.HardStop.MaxLoops - loop
	if remaining < 0 {
		remaining = 0
	}
	return StatusInfo{
		CurrentTier:     tier,
		TargetScore:     target,
		MinLoops:        minLoops,
		LoopsRemaining:  remaining,
		ScoreGap:        gap,
		ThresholdPassed: score >= target,
		Message:         e.progressMessage(score, loop),
	}
}

// ShouldTerminate renders the termination report for a session. The final
// assessment is produced only when the session must actually stop.
func (e *Evaluator) ShouldTerminate(session *types.SessionState) TerminationReport {
	if session == nil {
		return TerminationReport{}
	}
	c := e.criteria
	loop := session.CurrentLoop

	stagnant := session.StagnationInfo != nil &&
		session.StagnationInfo.IsStagnant &&
		loop >= c.StagnationCheck.StartLoop

	report := TerminationReport{
		FailureRate:    failureRate(session.History),
		CriticalIssues: criticalIssues(lastReview(session)),
	}

	switch {
	case stagnant:
		report.ShouldTerminate = true
		report.Reason = ReasonStagnationDetected
	case loop >= c.HardStop.MaxLoops:
		report.ShouldTerminate = true
		report.Reason = ReasonHardStop
	default:
		report.Reason = ReasonInProgress
		return report
	}

	report.FinalAssessment = e.renderAssessment(session, report)
	return report
}

func (e *Evaluator) renderAssessment(session *types.SessionState, report TerminationReport) string {
	review := lastReview(session)
	score := 0
	verdict := "none"
	if review != nil {
		score = review.Overall
		verdict = string(review.Verdict)
	}

	recommendation := "Address the remaining findings before merging."
	switch {
	case report.Reason == ReasonStagnationDetected:
		recommendation = "Iteration has stalled; change approach or seek a human review."
	case review != nil && review.Verdict == types.VerdictPass:
		recommendation = "Final candidate passed; safe to proceed."
	case review != nil && review.Verdict == types.VerdictReject:
		recommendation = "Final candidate was rejected; substantial rework is needed."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s terminated after %d loops.\n", session.ID, session.CurrentLoop)
	fmt.Fprintf(&b, "Final score: %d%% (verdict: %s).\n", score, verdict)
	fmt.Fprintf(&b, "Failure rate: %.1f%% of audits were rejected.\n", report.FailureRate)
	if n := len(report.CriticalIssues); n > 0 {
		fmt.Fprintf(&b, "Unresolved critical issues: %d.\n", n)
	}
	b.WriteString(recommendation)
	return b.String()
}

func lastReview(session *types.SessionState) *types.Review {
	if session.LastGan != nil {
		return session.LastGan
	}
	if n := len(session.History); n > 0 {
		return &session.History[n-1].Review
	}
	return nil
}

func failureRate(history []types.HistoryEntry) float64 {
	if len(history) == 0 {
		return 0
	}
	rejects := 0
	for _, h := range history {
		if h.Review.Verdict == types.VerdictReject {
			rejects++
		}
	}
	return float64(rejects) / float64(len(history)) * 100
}

// criticalIssues collects inline comments flagged Critical or Security in
// the last review, plus its summary when the verdict is reject.
func criticalIssues(review *types.Review) []string {
	if review == nil {
		return nil
	}
	var issues []string
	for _, c := range review.Detail.Inline {
		if strings.Contains(c.Comment, "Critical") || strings.Contains(c.Comment, "Security") {
			issues = append(issues, fmt.Sprintf("%s:%d %s", c.Path, c.Line, c.Comment))
		}
	}
	if review.Verdict == types.VerdictReject && review.Detail.Summary != "" {
		issues = append(issues, review.Detail.Summary)
	}
	return issues
}

// ValidateCriteria returns every violated invariant. Message strings are
// stable; callers match on them.
func ValidateCriteria(c types.CompletionCriteria) []string {
	var errs []string

	check := func(name string, tier types.CompletionTier) {
		if tier.Score < 0 || tier.Score > 100 {
			errs = append(errs, fmt.Sprintf("%s score must be between 0 and 100", name))
		}
		if tier.MaxLoops < 1 {
			errs = append(errs, fmt.Sprintf("%s maxLoops must be at least 1", name))
		}
	}
	check("tier1", c.Tier1)
	check("tier2", c.Tier2)
	check("tier3", c.Tier3)

	if c.HardStop.MaxLoops < 1 {
		errs = append(errs, "hardStop maxLoops must be at least 1")
	}
	if c.Tier2.MaxLoops < c.Tier1.MaxLoops {
		errs = append(errs, "tier2 maxLoops must be >= tier1 maxLoops")
	}
	if c.Tier3.MaxLoops < c.Tier2.MaxLoops {
		errs = append(errs, "tier3 maxLoops must be >= tier2 maxLoops")
	}
	if c.HardStop.MaxLoops < c.Tier3.MaxLoops {
		errs = append(errs, "hardStop maxLoops must be >= tier3 maxLoops")
	}
	if c.Tier1.Score < c.Tier2.Score {
		errs = append(errs, "tier1 score must be >= tier2 score")
	}
	if c.Tier2.Score < c.Tier3.Score {
		errs = append(errs, "tier2 score must be >= tier3 score")
	}
	if c.StagnationCheck.StartLoop < 1 {
		errs = append(errs, "stagnationCheck startLoop must be at least 1")
	}
	if t := c.StagnationCheck.SimilarityThreshold; t < 0 || t > 1 {
		errs = append(errs, "stagnationCheck similarityThreshold must be between 0 and 1")
	}
	return errs
}
