// Package analysis performs deterministic, offline inspection of candidate
// code. Rule tables cover security hazards, bug smells, style issues, and
// runtime hazards; findings feed the workflow's STATIC/DYNAMIC/CONFORM
// steps and the static judge's scoring. No I/O, no process launches.
package analysis

import (
	"fmt"
	"regexp"
	"strings"
)

// Category groups findings by the concern a rule inspects.
type Category string

const (
	CategorySecurity Category = "security"
	CategoryBug      Category = "bug"
	CategoryStyle    Category = "style"
	CategoryRuntime  Category = "runtime"
)

// Severity ranks a finding. Values align with workflow evidence severities.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityMajor    Severity = "Major"
	SeverityMinor    Severity = "Minor"
)

// Finding is one rule match against the candidate.
type Finding struct {
	RuleID     string   `json:"ruleId"`
	Category   Category `json:"category"`
	Severity   Severity `json:"severity"`
	Line       int      `json:"line"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
	Snippet    string   `json:"snippet,omitempty"`
}

type rule struct {
	pattern    *regexp.Regexp
	id         string
	category   Category
	severity   Severity
	message    string
	suggestion string
}

var securityRules = []rule{
	{
		pattern:    regexp.MustCompile(`(?i)(execute|query|raw)\s*\(\s*["'][^"']*["']\s*\+|fmt\.Sprintf\s*\(\s*["'][^"']*%[sv][^"']*["']`),
		id:         "SEC001",
		category:   CategorySecurity,
		severity:   SeverityCritical,
		message:    "Security: possible SQL injection via string concatenation in query",
		suggestion: "Use parameterized queries",
	},
	{
		pattern:    regexp.MustCompile(`(?i)(exec\.Command|os\.system|subprocess\.|child_process\.exec)\s*\([^)]*\+`),
		id:         "SEC002",
		category:   CategorySecurity,
		severity:   SeverityCritical,
		message:    "Security: possible command injection from concatenated input",
		suggestion: "Pass arguments separately and validate inputs",
	},
	{
		pattern:    regexp.MustCompile(`(?i)(password|secret|api_key|apikey|token|credential)\s*[:=]{1,2}\s*["'][^"']{8,}["']`),
		id:         "SEC003",
		category:   CategorySecurity,
		severity:   SeverityCritical,
		message:    "Security: hardcoded secret",
		suggestion: "Load secrets from the environment or a secret manager",
	},
	{
		pattern:    regexp.MustCompile(`(?i)(innerHTML|outerHTML|document\.write)\s*=`),
		id:         "SEC004",
		category:   CategorySecurity,
		severity:   SeverityMajor,
		message:    "Security: unsafe DOM write, possible XSS",
		suggestion: "Use textContent or sanitize the HTML",
	},
	{
		pattern:    regexp.MustCompile(`(?i)\b(md5|sha1|des|rc4)\b\s*[.(]|\bcrypto/(md5|sha1|des|rc4)\b`),
		id:         "SEC005",
		category:   CategorySecurity,
		severity:   SeverityMajor,
		message:    "Security: weak cryptographic primitive",
		suggestion: "Use SHA-256 or stronger",
	},
	{
		pattern:    regexp.MustCompile(`(?i)(pickle\.loads|yaml\.load\(|unserialize\(|\beval\()`),
		id:         "SEC006",
		category:   CategorySecurity,
		severity:   SeverityCritical,
		message:    "Security: unsafe deserialization or eval",
		suggestion: "Use a safe loader or validate input first",
	},
}

var bugRules = []rule{
	{
		pattern:    regexp.MustCompile(`\b_\s*=\s*\w+(\.\w+)*\(`),
		id:         "BUG001",
		category:   CategoryBug,
		severity:   SeverityMajor,
		message:    "Discarded return value may hide an error",
		suggestion: "Handle or explicitly document the ignored result",
	},
	{
		pattern:    regexp.MustCompile(`==\s*(nil|null|None)\s*\)\s*{\s*return\s*}`),
		id:         "BUG002",
		category:   CategoryBug,
		severity:   SeverityMinor,
		message:    "Silent nil return drops the failure",
		suggestion: "Return an error or log before returning",
	},
	{
		pattern:    regexp.MustCompile(`(?i)catch\s*\([^)]*\)\s*{\s*}`),
		id:         "BUG003",
		category:   CategoryBug,
		severity:   SeverityMajor,
		message:    "Empty catch block swallows exceptions",
		suggestion: "Handle, log, or rethrow",
	},
	{
		pattern:    regexp.MustCompile(`\bfor\s*\(\s*;;\s*\)|\bfor\s*{\s*}$`),
		id:         "BUG004",
		category:   CategoryBug,
		severity:   SeverityMajor,
		message:    "Possible unbounded loop with no exit condition",
		suggestion: "Add a termination condition or context check",
	},
}

var styleRules = []rule{
	{
		pattern:    regexp.MustCompile(`.{121,}`),
		id:         "STY001",
		category:   CategoryStyle,
		severity:   SeverityMinor,
		message:    "Line exceeds 120 characters",
		suggestion: "Wrap long lines",
	},
	{
		pattern:    regexp.MustCompile(`[ \t]+$`),
		id:         "STY002",
		category:   CategoryStyle,
		severity:   SeverityMinor,
		message:    "Trailing whitespace",
		suggestion: "Strip trailing whitespace",
	},
	{
		pattern:    regexp.MustCompile(`(?i)\b(TODO|FIXME|HACK|XXX)\b`),
		id:         "STY003",
		category:   CategoryStyle,
		severity:   SeverityMinor,
		message:    "Unresolved marker comment",
		suggestion: "Resolve or file an issue",
	},
	{
		pattern:    regexp.MustCompile(`^\t{6,}|^ {24,}`),
		id:         "STY004",
		category:   CategoryStyle,
		severity:   SeverityMinor,
		message:    "Deep nesting suggests the function should be split",
		suggestion: "Extract helpers to flatten control flow",
	},
}

var runtimeRules = []rule{
	{
		pattern:    regexp.MustCompile(`(?i)(console\.log|fmt\.Print|println!|print\()`),
		id:         "RUN001",
		category:   CategoryRuntime,
		severity:   SeverityMinor,
		message:    "Debug output left in code",
		suggestion: "Route through the logger or remove",
	},
	{
		pattern:    regexp.MustCompile(`\bgo\s+func\s*\(`),
		id:         "RUN002",
		category:   CategoryRuntime,
		severity:   SeverityMinor,
		message:    "Unsupervised goroutine launch",
		suggestion: "Track lifetime with a WaitGroup or errgroup",
	},
	{
		pattern:    regexp.MustCompile(`(?i)time\.Sleep\s*\(`),
		id:         "RUN003",
		category:   CategoryRuntime,
		severity:   SeverityMinor,
		message:    "Sleep-based synchronization is fragile",
		suggestion: "Synchronize on channels, conditions, or contexts",
	},
	{
		pattern:    regexp.MustCompile(`(?i)context\.TODO\(\)`),
		id:         "RUN004",
		category:   CategoryRuntime,
		severity:   SeverityMinor,
		message:    "context.TODO left in place",
		suggestion: "Thread a real context from the caller",
	},
}

// Report is a full analysis pass over one candidate.
type Report struct {
	Findings []Finding `json:"findings"`
	Lines    int       `json:"lines"`
}

// Count returns how many findings carry the given severity.
func (r *Report) Count(sev Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}

// ByCategory filters findings to one category.
func (r *Report) ByCategory(cat Category) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Category == cat {
			out = append(out, f)
		}
	}
	return out
}

// Analyze runs every rule table against the candidate.
func Analyze(code string) *Report {
	return analyze(code, securityRules, bugRules, styleRules, runtimeRules)
}

// AnalyzeCategory runs only the rules of one category.
func AnalyzeCategory(code string, cat Category) *Report {
	switch cat {
	case CategorySecurity:
		return analyze(code, securityRules)
	case CategoryBug:
		return analyze(code, bugRules)
	case CategoryStyle:
		return analyze(code, styleRules)
	case CategoryRuntime:
		return analyze(code, runtimeRules)
	default:
		return &Report{}
	}
}

func analyze(code string, tables ...[]rule) *Report {
	lines := strings.Split(code, "\n")
	report := &Report{Lines: len(lines)}

	for lineNum, line := range lines {
		for _, table := range tables {
			for _, ru := range table {
				if !ru.pattern.MatchString(line) {
					continue
				}
				report.Findings = append(report.Findings, Finding{
					RuleID:     ru.id,
					Category:   ru.category,
					Severity:   ru.severity,
					Line:       lineNum + 1,
					Message:    ru.message,
					Suggestion: ru.suggestion,
					Snippet:    strings.TrimSpace(line),
				})
			}
		}
	}
	return report
}

// Score converts a report into a 0-100 quality score. Deterministic:
// critical findings cost 25 points, major 10, minor 2, floored at zero.
func Score(report *Report) int {
	score := 100
	score -= report.Count(SeverityCritical) * 25
	score -= report.Count(SeverityMajor) * 10
	score -= report.Count(SeverityMinor) * 2
	if score < 0 {
		score = 0
	}
	return score
}

// Summary renders a one-line digest of the report.
func Summary(report *Report) string {
	if len(report.Findings) == 0 {
		return "No findings; candidate is clean."
	}
	return fmt.Sprintf("%d findings (%d critical, %d major, %d minor) across %d lines",
		len(report.Findings),
		report.Count(SeverityCritical),
		report.Count(SeverityMajor),
		report.Count(SeverityMinor),
		report.Lines)
}
