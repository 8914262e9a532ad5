// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gap decides what a second search round should cover. It asks the
// gap-analysis stage for missing aspects and candidate searches, then turns
// the candidates into at most budget-remaining plan items that do not repeat
// any query already issued in the session.
package gap

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

// CategoryGap labels plan items produced by the gap round.
const CategoryGap = "gap"

// Analyzer produces the GapReport for a session.
type Analyzer struct {
	Backend stage.Backend
	Logger  *zap.Logger
}

// Analyze inspects the evidence gathered so far and returns the gap report.
// It does not call the stage when remaining is zero or less. A stage failure
// is returned as-is; the caller decides whether it is fatal.
func (a *Analyzer) Analyze(ctx context.Context, query string, snap evidence.Snapshot, remaining int) (types.GapReport, error) {
	if remaining <= 0 {
		return types.GapReport{}, nil
	}

	in := stage.GapInput{
		Query:     query,
		Issued:    snap.Issued,
		Evidence:  stage.Digests(snap.Results),
		Remaining: remaining,
	}
	for _, u := range snap.Unresolved {
		in.Unresolved = append(in.Unresolved, u.PlanItemID)
	}

	out, err := stage.AnalyzeGaps(ctx, a.Backend, in)
	if err != nil {
		return types.GapReport{}, fmt.Errorf("analyzing gaps: %w", err)
	}

	items := Select(out.Suggestions, snap.Issued, remaining)
	report := types.GapReport{
		MissingAspects:      out.MissingAspects,
		AdditionalPlanItems: items,
	}
	if len(report.MissingAspects) == 0 {
		report.MissingAspects = aspectsOf(out.Suggestions)
	}

	a.logger().Info("Gap analysis complete",
		zap.Int("missing_aspects", len(report.MissingAspects)),
		zap.Int("suggestions", len(out.Suggestions)),
		zap.Int("selected", len(items)),
		zap.Int("remaining", remaining),
	)
	return report, nil
}

func (a *Analyzer) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// Select orders suggestions by relevance (highest first), breaking ties by
// the priority of the related issued item (highest priority, i.e. lowest
// number, first) and then by suggestion order. Suggestions whose query
// matches an issued query or an earlier suggestion after normalization are
// dropped, and only then is the list capped at remaining. Selected items get
// IDs g1..gn, round 2, and priorities after every issued item.
func Select(suggestions []stage.GapSuggestion, issued []types.SearchPlanItem, remaining int) []types.SearchPlanItem {
	if remaining <= 0 || len(suggestions) == 0 {
		return nil
	}

	priority := make(map[string]int, len(issued))
	usedIDs := make(map[string]bool, len(issued))
	seen := make(map[string]bool, len(issued)+len(suggestions))
	maxPriority := 0
	for _, it := range issued {
		priority[it.ID] = it.Priority
		usedIDs[it.ID] = true
		seen[evidence.NormalizeQuery(it.QueryText)] = true
		maxPriority = max(maxPriority, it.Priority)
	}

	related := func(s stage.GapSuggestion) int {
		if p, ok := priority[s.RelatedItemID]; ok {
			return p
		}
		return math.MaxInt
	}

	ordered := append([]stage.GapSuggestion(nil), suggestions...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Relevance != ordered[j].Relevance {
			return ordered[i].Relevance > ordered[j].Relevance
		}
		return related(ordered[i]) < related(ordered[j])
	})

	var kept []stage.GapSuggestion
	for _, s := range ordered {
		key := evidence.NormalizeQuery(s.QueryText)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, s)
	}
	if len(kept) > remaining {
		kept = kept[:remaining]
	}

	items := make([]types.SearchPlanItem, 0, len(kept))
	n := 0
	for i, s := range kept {
		var id string
		for {
			n++
			id = fmt.Sprintf("g%d", n)
			if !usedIDs[id] {
				break
			}
		}
		rationale := s.Rationale
		if rationale == "" && s.Aspect != "" {
			rationale = "fills missing aspect: " + s.Aspect
		}
		items = append(items, types.SearchPlanItem{
			ID:        id,
			QueryText: strings.TrimSpace(s.QueryText),
			Priority:  maxPriority + i + 1,
			Rationale: rationale,
			Category:  CategoryGap,
			Round:     2,
		})
	}
	return items
}

func aspectsOf(suggestions []stage.GapSuggestion) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range suggestions {
		a := strings.TrimSpace(s.Aspect)
		if a == "" || seen[strings.ToLower(a)] {
			continue
		}
		seen[strings.ToLower(a)] = true
		out = append(out, a)
	}
	return out
}
