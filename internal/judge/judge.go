// Package judge defines the external scoring collaborator and its
// implementations. The orchestrator core only sees the Judge interface;
// everything that talks to a model, a subprocess, or a network lives here.
package judge

import (
	"context"

	"github.com/DRCubix/gansauditor/internal/types"
)

// RubricDimension is one weighted scoring axis.
type RubricDimension struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Rubric is the weighted dimension set a judge scores against.
type Rubric struct {
	Dimensions []RubricDimension `json:"dimensions"`
}

// Budget caps the judge's effort for one request.
type Budget struct {
	MaxCycles  int `json:"maxCycles"`
	Candidates int `json:"candidates"`
	Threshold  int `json:"threshold"`
}

// Request is everything a judge needs to score one candidate.
type Request struct {
	Task        string `json:"task"`
	Candidate   string `json:"candidate"`
	ContextPack string `json:"contextPack"`
	Rubric      Rubric `json:"rubric"`
	Budget      Budget `json:"budget"`
}

// Judge scores candidates. Implementations may be remote and slow; every
// method takes a context and honors cancellation.
type Judge interface {
	Audit(ctx context.Context, req *Request) (*types.Review, error)
	IsAvailable(ctx context.Context) bool
	Version(ctx context.Context) (string, error)
}

// DefaultRubric returns the standard audit dimensions and weights.
func DefaultRubric() Rubric {
	return Rubric{Dimensions: []RubricDimension{
		{Name: "correctness_completeness", Weight: 0.30},
		{Name: "tests", Weight: 0.20},
		{Name: "style_conventions", Weight: 0.15},
		{Name: "security", Weight: 0.15},
		{Name: "performance", Weight: 0.10},
		{Name: "docs_comments", Weight: 0.10},
	}}
}

// BudgetFromConfig derives a request budget from session settings.
func BudgetFromConfig(cfg types.SessionConfig) Budget {
	return Budget{
		MaxCycles:  cfg.MaxCycles,
		Candidates: cfg.Candidates,
		Threshold:  cfg.Threshold,
	}
}

// VerdictForScore maps an overall score to a verdict against a threshold.
// Scores within 15 points below the bar earn a revise; further below,
// reject.
func VerdictForScore(score, threshold int) types.Verdict {
	switch {
	case score >= threshold:
		return types.VerdictPass
	case score >= threshold-15:
		return types.VerdictRevise
	default:
		return types.VerdictReject
	}
}
