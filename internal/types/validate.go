package types

import (
	"fmt"
	"math"
)

// ValidateReview flags structural problems in a review without rejecting
// it. Malformed reviews (non-finite scores included) must remain storable;
// callers log the findings and carry on.
func ValidateReview(r *Review) []string {
	if r == nil {
		return []string{"review is nil"}
	}
	var issues []string
	if r.Overall < 0 || r.Overall > 100 {
		issues = append(issues, fmt.Sprintf("overall score %d outside [0,100]", r.Overall))
	}
	for _, d := range r.Dimensions {
		if math.IsNaN(d.Score) || math.IsInf(d.Score, 0) {
			issues = append(issues, fmt.Sprintf("dimension %q has non-finite score", d.Name))
			continue
		}
		if d.Score < 0 || d.Score > 100 {
			issues = append(issues, fmt.Sprintf("dimension %q score %g outside [0,100]", d.Name, d.Score))
		}
	}
	if !r.Verdict.Valid() {
		issues = append(issues, fmt.Sprintf("unknown verdict %q", r.Verdict))
	}
	if r.Iterations < 1 {
		issues = append(issues, fmt.Sprintf("iterations %d must be >= 1", r.Iterations))
	}
	if len(r.JudgeCards) == 0 {
		issues = append(issues, "judge_cards must not be empty")
	}
	return issues
}
