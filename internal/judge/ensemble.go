package judge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DRCubix/gansauditor/internal/types"
)

// Ensemble fans one request out to several member judges and aggregates
// their reviews. A member failure drops its vote; the ensemble fails only
// when every member does.
type Ensemble struct {
	members map[string]Judge
	order   []string
	logger  *zap.Logger
}

// NewEnsemble builds an ensemble over named members. Iteration order is
// fixed at construction so aggregation is deterministic.
func NewEnsemble(members map[string]Judge, logger *zap.Logger) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("ensemble requires at least one member judge")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	order := make([]string, 0, len(members))
	for name := range members {
		order = append(order, name)
	}
	sort.Strings(order)
	return &Ensemble{members: members, order: order, logger: logger}, nil
}

type memberResult struct {
	name   string
	review *types.Review
	err    error
}

// Audit gathers every member's review concurrently and merges them.
func (e *Ensemble) Audit(ctx context.Context, req *Request) (*types.Review, error) {
	results := make([]memberResult, len(e.order))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range e.order {
		i, name := i, name
		g.Go(func() error {
			review, err := e.members[name].Audit(gctx, req)
			results[i] = memberResult{name: name, review: review, err: err}
			// Member failures are recorded, not propagated; they would
			// cancel the siblings.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var valid []memberResult
	var failures []string
	for _, r := range results {
		if r.err != nil || r.review == nil {
			e.logger.Warn("ensemble member failed",
				zap.String("member", r.name),
				zap.Error(r.err))
			failures = append(failures, fmt.Sprintf("%s: %v", r.name, r.err))
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("all ensemble members failed: %s", strings.Join(failures, "; "))
	}
	return e.aggregate(req, valid), nil
}

// aggregate averages member scores and keeps every judge card. Dimension
// scores are averaged per name; the verdict comes from the merged overall
// against the budget threshold.
func (e *Ensemble) aggregate(req *Request, results []memberResult) *types.Review {
	total := 0
	dimSums := make(map[string]float64)
	dimCounts := make(map[string]int)
	var dimOrder []string
	var cards []types.JudgeCard
	var inline []types.InlineComment
	var citations []string
	var summaries []string

	for _, r := range results {
		total += r.review.Overall
		for _, d := range r.review.Dimensions {
			if _, seen := dimSums[d.Name]; !seen {
				dimOrder = append(dimOrder, d.Name)
			}
			dimSums[d.Name] += d.Score
			dimCounts[d.Name]++
		}
		for _, card := range r.review.JudgeCards {
			cards = append(cards, card)
		}
		inline = append(inline, r.review.Detail.Inline...)
		citations = append(citations, r.review.Detail.Citations...)
		if s := strings.TrimSpace(r.review.Detail.Summary); s != "" {
			summaries = append(summaries, fmt.Sprintf("[%s] %s", r.name, s))
		}
	}

	overall := total / len(results)
	dims := make([]types.DimensionScore, 0, len(dimOrder))
	for _, name := range dimOrder {
		dims = append(dims, types.DimensionScore{
			Name:  name,
			Score: dimSums[name] / float64(dimCounts[name]),
		})
	}

	return &types.Review{
		Overall:    overall,
		Dimensions: dims,
		Verdict:    VerdictForScore(overall, req.Budget.Threshold),
		Detail: types.ReviewDetail{
			Summary: fmt.Sprintf("Ensemble of %d judges scored %d%%. %s",
				len(results), overall, strings.Join(summaries, " ")),
			Inline:    inline,
			Citations: citations,
		},
		Iterations: 1,
		JudgeCards: cards,
	}
}

// IsAvailable is true when any member is.
func (e *Ensemble) IsAvailable(ctx context.Context) bool {
	var wg sync.WaitGroup
	available := make([]bool, len(e.order))
	for i, name := range e.order {
		wg.Add(1)
		go func(i int, j Judge) {
			defer wg.Done()
			available[i] = j.IsAvailable(ctx)
		}(i, e.members[name])
	}
	wg.Wait()
	for _, ok := range available {
		if ok {
			return true
		}
	}
	return false
}

// Version lists member versions in deterministic order.
func (e *Ensemble) Version(ctx context.Context) (string, error) {
	parts := make([]string, 0, len(e.order))
	for _, name := range e.order {
		v, err := e.members[name].Version(ctx)
		if err != nil {
			v = "unavailable"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, v))
	}
	return "ensemble[" + strings.Join(parts, ",") + "]", nil
}
