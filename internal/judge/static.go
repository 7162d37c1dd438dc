package judge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DRCubix/gansauditor/internal/analysis"
	"github.com/DRCubix/gansauditor/internal/types"
)

// Static scores candidates from deterministic rule analysis alone. Always
// available, fully offline, and the fallback member of every ensemble.
type Static struct {
	logger *zap.Logger
}

// NewStatic builds the offline judge.
func NewStatic(logger *zap.Logger) *Static {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Static{logger: logger}
}

// Audit scores the candidate from pattern findings. The per-dimension
// scores are derived from the relevant rule categories so the same
// candidate always earns the same review.
func (s *Static) Audit(ctx context.Context, req *Request) (*types.Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("nil judge request")
	}

	report := analysis.Analyze(req.Candidate)
	overall := analysis.Score(report)

	dimensions := make([]types.DimensionScore, 0, len(req.Rubric.Dimensions))
	for _, d := range req.Rubric.Dimensions {
		dimensions = append(dimensions, types.DimensionScore{
			Name:  d.Name,
			Score: dimensionScore(d.Name, req.Candidate, overall),
		})
	}

	inline := make([]types.InlineComment, 0, len(report.Findings))
	for _, f := range report.Findings {
		inline = append(inline, types.InlineComment{
			Path:    "candidate",
			Line:    f.Line,
			Comment: f.Message,
		})
	}

	review := &types.Review{
		Overall:    overall,
		Dimensions: dimensions,
		Verdict:    VerdictForScore(overall, req.Budget.Threshold),
		Detail: types.ReviewDetail{
			Summary: analysis.Summary(report),
			Inline:  inline,
		},
		Iterations: 1,
		JudgeCards: []types.JudgeCard{{
			Model: "static",
			Score: float64(overall),
			Notes: fmt.Sprintf("%d rule findings", len(report.Findings)),
		}},
	}

	s.logger.Debug("static judge scored candidate",
		zap.Int("overall", overall),
		zap.Int("findings", len(report.Findings)))
	return review, nil
}

// dimensionScore specializes the overall score per rubric axis using the
// category-filtered rule reports.
func dimensionScore(name, candidate string, overall int) float64 {
	switch name {
	case "security":
		return float64(analysis.Score(analysis.AnalyzeCategory(candidate, analysis.CategorySecurity)))
	case "style_conventions":
		return float64(analysis.Score(analysis.AnalyzeCategory(candidate, analysis.CategoryStyle)))
	case "performance":
		return float64(analysis.Score(analysis.AnalyzeCategory(candidate, analysis.CategoryRuntime)))
	case "correctness_completeness":
		return float64(analysis.Score(analysis.AnalyzeCategory(candidate, analysis.CategoryBug)))
	default:
		return float64(overall)
	}
}

// IsAvailable is always true; the static judge has no dependencies.
func (s *Static) IsAvailable(ctx context.Context) bool { return true }

// Version identifies the rule tables in use.
func (s *Static) Version(ctx context.Context) (string, error) {
	return "static/1.0", nil
}
