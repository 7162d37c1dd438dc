package auditor

import (
	"regexp"
	"strings"

	"github.com/DRCubix/gansauditor/internal/fingerprint"
	"github.com/DRCubix/gansauditor/internal/types"
)

// Inline config block language tags. The first matching fenced block wins.
var configLangs = map[string]bool{
	"gan-config": true,
	"json":       true,
}

// ExtractInlineConfig parses the first gan-config or json fenced block in
// the thought text. Empty blocks and unrepairable JSON yield nil rather
// than an error: a broken inline config falls back to session defaults.
func ExtractInlineConfig(text string) *types.SessionConfigPatch {
	for _, block := range fingerprint.Blocks(text) {
		if !configLangs[strings.ToLower(block.Lang)] {
			continue
		}
		body := strings.TrimSpace(block.Body)
		if body == "" {
			return nil
		}
		var patch types.SessionConfigPatch
		if err := types.DecodeLenient(body, &patch); err != nil {
			return nil
		}
		if patch.Empty() {
			return nil
		}
		return &patch
	}
	return nil
}

var codeIndicators = []*regexp.Regexp{
	regexp.MustCompile(`\bfunction\s+\w+`),
	regexp.MustCompile(`\bclass\s+\w+`),
	regexp.MustCompile(`\bimport\s+`),
	regexp.MustCompile(`\bexport\s+default\s+function\b`),
	regexp.MustCompile(`\b(const|let|var)\s+\w+\s*=`),
	regexp.MustCompile(`\binterface\s+\w+`),
	regexp.MustCompile(`\bfunc\s+\w*\s*\(`),
	regexp.MustCompile(`/\*[\s\S]*?\*/`),
	regexp.MustCompile(`//[^\n]*`),
}

// IsAuditRequired reports whether the thought carries anything worth
// judging: a fenced block, inline backticks, or code-shaped text. Blank
// input and pure prose are skipped.
func IsAuditRequired(thought *types.Thought) bool {
	if thought == nil {
		return false
	}
	text := strings.TrimSpace(thought.Text)
	if text == "" {
		return false
	}
	if strings.Contains(text, "```") || strings.Contains(text, "`") {
		return true
	}
	for _, re := range codeIndicators {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
