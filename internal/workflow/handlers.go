package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/DRCubix/gansauditor/internal/analysis"
	"github.com/DRCubix/gansauditor/internal/judge"
	"github.com/DRCubix/gansauditor/internal/types"
)

// Deps are the collaborators the default handlers close over. The engine
// itself stays free of I/O; everything external arrives here.
type Deps struct {
	// Judge produces the VERDICT step's review. Required.
	Judge judge.Judge
	// Config supplies threshold and budget knobs.
	Config types.SessionConfig
	// ContextPack is the pre-built context string handed to the judge.
	ContextPack string
}

// Input keys the default handlers read from the pipeline inputs map.
const (
	InputTask      = "task"
	InputCandidate = "candidate"
)

var (
	testFuncRe  = regexp.MustCompile(`\b(func Test\w+|def test_\w+|it\(|describe\(|#\[test\])`)
	assertionRe = regexp.MustCompile(`\b(assert|require|expect|t\.Error|t\.Fatal)\b`)
)

// RegisterDefaultHandlers binds the standard handler for every default
// audit step onto the engine.
func RegisterDefaultHandlers(e *Engine, deps Deps) error {
	if deps.Judge == nil {
		return fmt.Errorf("workflow deps require a judge")
	}

	e.RegisterHandler(StepInit, initHandler(deps))
	e.RegisterHandler(StepRepro, reproHandler())
	e.RegisterHandler(StepStatic, analysisHandler(analysis.CategorySecurity, analysis.CategoryBug, "static_findings", "static_score"))
	e.RegisterHandler(StepTests, testsHandler())
	e.RegisterHandler(StepDynamic, analysisHandler(analysis.CategoryRuntime, "", "dynamic_findings", "dynamic_score"))
	e.RegisterHandler(StepConform, analysisHandler(analysis.CategoryStyle, "", "conformity_findings", "conformity_score"))
	e.RegisterHandler(StepTrace, traceHandler())
	e.RegisterHandler(StepVerdict, verdictHandler(deps))
	return nil
}

func initHandler(deps Deps) Handler {
	return func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
		task, _ := types.ExtractString(inputs, InputTask)
		if task == "" {
			task = deps.Config.Task
		}
		candidate, ok := types.ExtractString(inputs, InputCandidate)
		if !ok || strings.TrimSpace(candidate) == "" {
			return nil, fmt.Errorf("no candidate code provided to the workflow")
		}
		return &HandlerResult{Outputs: map[string]any{
			"task":      task,
			"candidate": candidate,
			"constraints": map[string]any{
				"threshold": deps.Config.Threshold,
				"maxCycles": deps.Config.MaxCycles,
				"scope":     string(deps.Config.Scope),
			},
		}}, nil
	}
}

func reproHandler() Handler {
	return func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
		candidate, _ := types.ExtractString(inputs, InputCandidate)
		entryPoints := findEntryPoints(candidate)

		evidence := []EvidenceItem{}
		if len(entryPoints) == 0 {
			evidence = append(evidence, EvidenceItem{
				Type:        "reproduction",
				Severity:    SeverityMinor,
				Description: "No recognizable entry points; reproduction is inferred from the whole fragment",
			})
		}
		return &HandlerResult{
			Outputs: map[string]any{
				"reproduction": fmt.Sprintf("invoke %d identified entry point(s) with representative inputs", len(entryPoints)),
				"entry_points": entryPoints,
			},
			Evidence: evidence,
		}, nil
	}
}

// analysisHandler builds a handler over one or two rule categories. The
// second category may be empty.
func analysisHandler(primary, secondary analysis.Category, findingsKey, scoreKey string) Handler {
	return func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
		candidate, _ := types.ExtractString(inputs, InputCandidate)

		report := analysis.AnalyzeCategory(candidate, primary)
		if secondary != "" {
			extra := analysis.AnalyzeCategory(candidate, secondary)
			report.Findings = append(report.Findings, extra.Findings...)
		}

		evidence := make([]EvidenceItem, 0, len(report.Findings))
		for _, f := range report.Findings {
			evidence = append(evidence, EvidenceItem{
				Type:        string(f.Category),
				Severity:    EvidenceSeverity(f.Severity),
				Description: f.Message,
				Location:    fmt.Sprintf("candidate:%d", f.Line),
			})
		}
		return &HandlerResult{
			Outputs: map[string]any{
				findingsKey: report.Findings,
				scoreKey:    analysis.Score(report),
			},
			Evidence: evidence,
		}, nil
	}
}

func testsHandler() Handler {
	return func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
		candidate, _ := types.ExtractString(inputs, InputCandidate)

		hasTests := testFuncRe.MatchString(candidate)
		hasAssertions := assertionRe.MatchString(candidate)

		var evidence []EvidenceItem
		if !hasTests {
			evidence = append(evidence, EvidenceItem{
				Type:        "tests",
				Severity:    SeverityMajor,
				Description: "Candidate carries no test functions",
			})
		} else if !hasAssertions {
			evidence = append(evidence, EvidenceItem{
				Type:        "tests",
				Severity:    SeverityMinor,
				Description: "Tests present but no assertions detected",
			})
		}
		return &HandlerResult{
			Outputs: map[string]any{
				"test_signals": map[string]any{
					"hasTests":      hasTests,
					"hasAssertions": hasAssertions,
				},
				"has_tests": hasTests,
			},
			Evidence: evidence,
		}, nil
	}
}

func traceHandler() Handler {
	return func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
		task, _ := types.ExtractString(inputs, InputTask)
		candidate, _ := types.ExtractString(inputs, InputCandidate)

		// Crude lexical traceability: task words that reappear in code
		// identifiers count as traced.
		words := significantWords(task)
		traced := 0
		lower := strings.ToLower(candidate)
		for _, w := range words {
			if strings.Contains(lower, w) {
				traced++
			}
		}
		coverage := 1.0
		if len(words) > 0 {
			coverage = float64(traced) / float64(len(words))
		}

		var evidence []EvidenceItem
		if coverage < 0.25 && len(words) >= 4 {
			evidence = append(evidence, EvidenceItem{
				Type:        "traceability",
				Severity:    SeverityMinor,
				Description: "Little lexical overlap between the task and the candidate",
			})
		}
		return &HandlerResult{
			Outputs: map[string]any{
				"traceability": map[string]any{
					"taskTerms": len(words),
					"traced":    traced,
					"coverage":  coverage,
				},
			},
			Evidence: evidence,
		}, nil
	}
}

func verdictHandler(deps Deps) Handler {
	return func(ctx context.Context, step Step, inputs map[string]any) (*HandlerResult, error) {
		task, _ := types.ExtractString(inputs, InputTask)
		if task == "" {
			task = deps.Config.Task
		}
		candidate, _ := types.ExtractString(inputs, InputCandidate)

		review, err := deps.Judge.Audit(ctx, &judge.Request{
			Task:        task,
			Candidate:   candidate,
			ContextPack: deps.ContextPack,
			Rubric:      judge.DefaultRubric(),
			Budget:      judge.BudgetFromConfig(deps.Config),
		})
		if err != nil {
			return nil, err
		}

		var evidence []EvidenceItem
		if review.Verdict != types.VerdictPass {
			sev := SeverityMajor
			if review.Verdict == types.VerdictReject {
				sev = SeverityCritical
			}
			evidence = append(evidence, EvidenceItem{
				Type:        "verdict",
				Severity:    sev,
				Description: fmt.Sprintf("Judge verdict %s at %d%%", review.Verdict, review.Overall),
			})
		}
		return &HandlerResult{
			Outputs: map[string]any{
				"review":  review,
				"verdict": string(review.Verdict),
			},
			Evidence: evidence,
		}, nil
	}
}

var entryPointRe = regexp.MustCompile(`\bfunc\s+([A-Z]\w*|main)\s*\(|\bdef\s+(\w+)\s*\(|\bexport\s+(default\s+)?function\s+(\w+)`)

func findEntryPoints(code string) []string {
	matches := entryPointRe.FindAllStringSubmatch(code, -1)
	var out []string
	for _, m := range matches {
		for _, g := range m[1:] {
			if g != "" && g != "default " {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

func significantWords(task string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(task)) {
		w = strings.Trim(w, ".,;:!?()\"'")
		if len(w) >= 5 {
			out = append(out, w)
		}
	}
	return out
}
