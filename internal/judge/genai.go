package judge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/DRCubix/gansauditor/internal/types"
)

// GenAI scores candidates with a Gemini model. Responses are requested as
// JSON and decoded leniently because models occasionally emit almost-JSON.
type GenAI struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGenAI creates a Gemini-backed judge.
func NewGenAI(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAI{client: client, model: model, logger: logger}, nil
}

// genaiResponse is the JSON shape the prompt asks the model for. It mirrors
// the Review wire format with tolerant numeric types.
type genaiResponse struct {
	Overall    float64 `json:"overall"`
	Dimensions []struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	} `json:"dimensions"`
	Verdict string `json:"verdict"`
	Review  struct {
		Summary string `json:"summary"`
		Inline  []struct {
			Path    string  `json:"path"`
			Line    float64 `json:"line"`
			Comment string  `json:"comment"`
		} `json:"inline"`
		Citations []string `json:"citations"`
	} `json:"review"`
	ProposedDiff *string `json:"proposed_diff"`
}

// Audit prompts the model and converts its response to a Review.
func (g *GenAI) Audit(ctx context.Context, req *Request) (*types.Review, error) {
	if req == nil {
		return nil, fmt.Errorf("nil judge request")
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buildPrompt(req), genai.RoleUser),
	}
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("GenAI audit failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return nil, fmt.Errorf("GenAI returned an empty response")
	}

	var parsed genaiResponse
	if err := types.DecodeLenient(text, &parsed); err != nil {
		return nil, fmt.Errorf("GenAI response was not parseable JSON: %w", err)
	}
	return g.toReview(req, &parsed), nil
}

func (g *GenAI) toReview(req *Request, parsed *genaiResponse) *types.Review {
	overall := clampScore(int(parsed.Overall))

	dims := make([]types.DimensionScore, 0, len(parsed.Dimensions))
	for _, d := range parsed.Dimensions {
		dims = append(dims, types.DimensionScore{Name: d.Name, Score: d.Score})
	}
	if len(dims) == 0 {
		for _, d := range req.Rubric.Dimensions {
			dims = append(dims, types.DimensionScore{Name: d.Name, Score: float64(overall)})
		}
	}

	verdict := types.Verdict(parsed.Verdict)
	if !verdict.Valid() {
		verdict = VerdictForScore(overall, req.Budget.Threshold)
	}

	inline := make([]types.InlineComment, 0, len(parsed.Review.Inline))
	for _, c := range parsed.Review.Inline {
		inline = append(inline, types.InlineComment{
			Path:    c.Path,
			Line:    int(c.Line),
			Comment: c.Comment,
		})
	}

	summary := strings.TrimSpace(parsed.Review.Summary)
	if summary == "" {
		summary = fmt.Sprintf("Model %s scored the candidate %d%%.", g.model, overall)
	}

	return &types.Review{
		Overall:    overall,
		Dimensions: dims,
		Verdict:    verdict,
		Detail: types.ReviewDetail{
			Summary:   summary,
			Inline:    inline,
			Citations: parsed.Review.Citations,
		},
		ProposedDiff: parsed.ProposedDiff,
		Iterations:   1,
		JudgeCards: []types.JudgeCard{{
			Model: g.model,
			Score: float64(overall),
		}},
	}
}

// IsAvailable probes the API with a version lookup.
func (g *GenAI) IsAvailable(ctx context.Context) bool {
	_, err := g.Version(ctx)
	return err == nil
}

// Version reports the configured model identifier.
func (g *GenAI) Version(ctx context.Context) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("GenAI client not initialized")
	}
	return "genai/" + g.model, nil
}

func buildPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString("You are a strict code reviewer. Score the candidate code below.\n\n")
	fmt.Fprintf(&b, "Task: %s\n\n", req.Task)
	if req.ContextPack != "" {
		fmt.Fprintf(&b, "Context:\n%s\n\n", req.ContextPack)
	}
	fmt.Fprintf(&b, "Candidate:\n%s\n\n", req.Candidate)
	b.WriteString("Score each dimension 0-100 with these weights:\n")
	for _, d := range req.Rubric.Dimensions {
		fmt.Fprintf(&b, "- %s (weight %.2f)\n", d.Name, d.Weight)
	}
	fmt.Fprintf(&b, "\nThe pass threshold is %d.\n", req.Budget.Threshold)
	b.WriteString(`Respond with a single JSON object: {"overall": int, ` +
		`"dimensions": [{"name": string, "score": int}], ` +
		`"verdict": "pass"|"revise"|"reject", ` +
		`"review": {"summary": string, "inline": [{"path": string, "line": int, "comment": string}], "citations": []}, ` +
		`"proposed_diff": string|null}`)
	return b.String()
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
