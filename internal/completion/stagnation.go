package completion

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/DRCubix/gansauditor/internal/types"
)

// stagnationWindow is how many recent iterations the detector compares.
const stagnationWindow = 5

// Progress patterns the detector can name. These feed the deterministic
// suggestion table, so the strings are stable.
const (
	PatternIdentical      = "identical_submissions"
	PatternCosmeticOnly   = "cosmetic_changes_only"
	PatternReverting      = "reverting_changes"
	PatternDecliningScore = "declining_scores"
	PatternRepeatedIssues = "repeated_issues"
)

var alternativeSuggestions = map[string]string{
	PatternIdentical:      "The same candidate keeps being resubmitted; apply the reviewer's inline comments before the next attempt.",
	PatternCosmeticOnly:   "Recent changes are cosmetic; address the substance of the findings instead of reformatting.",
	PatternReverting:      "Changes are being applied and then undone; pick one approach and commit to it.",
	PatternDecliningScore: "Scores are declining; revert to the highest-scoring iteration and branch from there.",
	PatternRepeatedIssues: "The same findings recur every loop; fix the root cause rather than its symptoms.",
}

// StagnationDetector measures similarity between recent candidate
// iterations and decides whether a session is looping without progress.
// Safe for concurrent callers; the diff engine is stateless per call.
type StagnationDetector struct {
	check  types.StagnationCheck
	dmp    *diffmatchpatch.DiffMatchPatch
	logger *zap.Logger
}

// NewStagnationDetector builds a detector for one stagnation policy.
func NewStagnationDetector(check types.StagnationCheck, logger *zap.Logger) *StagnationDetector {
	if check.StartLoop < 1 {
		check.StartLoop = 1
	}
	if check.SimilarityThreshold <= 0 || check.SimilarityThreshold > 1 {
		check.SimilarityThreshold = 0.95
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // accuracy over latency; inputs are bounded
	return &StagnationDetector{check: check, dmp: dmp, logger: logger}
}

// Detect analyzes the session's iterations. currentLoop is the loop number
// the decision applies to (normally len(iterations) counted from session
// start).
func (d *StagnationDetector) Detect(iterations []types.IterationData, currentLoop int) *types.StagnationResult {
	result := &types.StagnationResult{
		DetectedAtLoop: currentLoop,
		Recommendation: "Progress looks healthy; continue iterating.",
	}
	if len(iterations) < 2 || currentLoop < d.check.StartLoop {
		result.ProgressAnalysis = "Not enough iterations for stagnation analysis."
		return result
	}

	window := iterations
	if len(window) > stagnationWindow {
		window = window[len(window)-stagnationWindow:]
	}

	progression := make([]float64, 0, len(window)-1)
	sum := 0.0
	for i := 1; i < len(window); i++ {
		sim := d.Similarity(window[i-1].Code, window[i].Code)
		progression = append(progression, sim)
		sum += sim
	}
	avg := sum / float64(len(progression))

	result.SimilarityScore = avg
	result.SimilarityProgression = progression
	result.Patterns = d.classify(window, progression)
	result.ProgressAnalysis = d.describe(window, avg)

	if avg >= d.check.SimilarityThreshold {
		result.IsStagnant = true
		result.Recommendation = "Iterations are nearly identical; stop repeating and change approach."
		result.AlternativeSuggestions = d.suggestions(result.Patterns)
		d.logger.Debug("stagnation detected",
			zap.Int("loop", currentLoop),
			zap.Float64("similarity", avg),
			zap.Strings("patterns", result.Patterns))
	}
	return result
}

// Similarity is 1 - normalizedLevenshtein over normalized code. Whitespace
// runs are collapsed and case is folded so cosmetic edits score as
// near-identical.
func (d *StagnationDetector) Similarity(a, b string) float64 {
	na, nb := normalizeForSimilarity(a), normalizeForSimilarity(b)
	if na == nb {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}
	diffs := d.dmp.DiffMain(na, nb, false)
	distance := d.dmp.DiffLevenshtein(diffs)
	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	return 1 - float64(distance)/float64(longest)
}

func normalizeForSimilarity(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// classify names the failure modes visible in the window.
func (d *StagnationDetector) classify(window []types.IterationData, progression []float64) []string {
	var patterns []string

	identical := true
	for _, sim := range progression {
		if sim < 1 {
			identical = false
			break
		}
	}
	if identical {
		patterns = append(patterns, PatternIdentical)
	} else {
		cosmetic := true
		for i := 1; i < len(window); i++ {
			if window[i-1].Code == window[i].Code {
				continue
			}
			if normalizeForSimilarity(window[i-1].Code) != normalizeForSimilarity(window[i].Code) {
				cosmetic = false
				break
			}
		}
		if cosmetic {
			patterns = append(patterns, PatternCosmeticOnly)
		}
	}

	// A -> B -> A: any iteration matching its grandparent but not its parent.
	for i := 2; i < len(window); i++ {
		back := normalizeForSimilarity(window[i-2].Code)
		cur := normalizeForSimilarity(window[i].Code)
		prev := normalizeForSimilarity(window[i-1].Code)
		if cur == back && cur != prev {
			patterns = append(patterns, PatternReverting)
			break
		}
	}

	declines := 0
	for i := 1; i < len(window); i++ {
		if window[i].AuditResult.Overall < window[i-1].AuditResult.Overall {
			declines++
		}
	}
	if declines >= 2 || (len(window) == 2 && declines == 1) {
		patterns = append(patterns, PatternDecliningScore)
	}

	if repeatedIssue(window) {
		patterns = append(patterns, PatternRepeatedIssues)
	}
	return patterns
}

// repeatedIssue reports whether any inline comment text recurs in every
// review of the window.
func repeatedIssue(window []types.IterationData) bool {
	if len(window) < 2 {
		return false
	}
	first := window[0].AuditResult.Detail.Inline
	for _, c := range first {
		everywhere := true
		for _, it := range window[1:] {
			found := false
			for _, other := range it.AuditResult.Detail.Inline {
				if other.Comment == c.Comment {
					found = true
					break
				}
			}
			if !found {
				everywhere = false
				break
			}
		}
		if everywhere {
			return true
		}
	}
	return false
}

func (d *StagnationDetector) describe(window []types.IterationData, avg float64) string {
	first := window[0].AuditResult.Overall
	last := window[len(window)-1].AuditResult.Overall
	trend := "flat"
	if last > first {
		trend = "improving"
	} else if last < first {
		trend = "declining"
	}
	return fmt.Sprintf(
		"Last %d iterations average %.0f%% similarity; score trend %s (%d%% -> %d%%).",
		len(window), avg*100, trend, first, last)
}

func (d *StagnationDetector) suggestions(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if s, ok := alternativeSuggestions[p]; ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = append(out, "Break the problem into smaller changes and address one finding per iteration.")
	}
	return out
}
