// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package credibility scores search results by combining a source-type
// heuristic with the verdicts of the fact-check stage, and orders scored
// evidence for inclusion in the report.
package credibility

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

// DefaultThreshold is the score below which evidence is flagged low-confidence.
const DefaultThreshold = 0.2

// Score weights. The heuristic part depends only on the source type; the
// verification part is the verdict weight scaled by the checker's confidence.
const (
	heuristicWeight    = 0.6
	verificationWeight = 0.4
)

var verdictWeights = map[types.Verdict]float64{
	types.VerdictVerified:      1.0,
	types.VerdictPartiallyTrue: 0.75,
	types.VerdictUnverified:    0.5,
	types.VerdictDisputed:      0.25,
	types.VerdictFalse:         0.0,
}

// Scorer assigns one CredibilityAssessment per search result.
type Scorer struct {
	Backend stage.Backend

	// Threshold flags assessments scoring below it as low-confidence.
	Threshold float64

	// FactCheck calls the fact-check stage. When false, scores come from
	// the source-type heuristic alone and nothing is marked verified.
	FactCheck bool

	Logger *zap.Logger
}

// Score returns one assessment per result, in the same order. A result
// with no usable verdict gets score 0 and verified false; that never aborts
// the batch. Only a failure of the fact-check call itself is returned.
func (s *Scorer) Score(ctx context.Context, query string, results []types.SearchResult) ([]types.CredibilityAssessment, error) {
	if len(results) == 0 {
		return nil, nil
	}
	if !s.FactCheck {
		return s.heuristic(results), nil
	}

	out, err := stage.FactCheck(ctx, s.Backend, stage.FactCheckInput{
		Query:    query,
		Evidence: stage.Digests(results),
	})
	if err != nil {
		return nil, fmt.Errorf("fact checking %d result(s): %w", len(results), err)
	}

	byID := make(map[string]stage.Verification, len(out.Verifications))
	for _, v := range out.Verifications {
		if _, dup := byID[v.ResultID]; !dup {
			byID[v.ResultID] = v
		}
	}

	assessments := make([]types.CredibilityAssessment, len(results))
	missing := 0
	for i, r := range results {
		v, ok := byID[r.ID]
		if !ok || !v.Usable() {
			missing++
			assessments[i] = s.fallback(r, v, ok)
			continue
		}
		assessments[i] = s.assess(r, v)
	}
	if missing > 0 {
		s.logger().Warn("Fact check left results without a usable verdict",
			zap.Int("results", len(results)), zap.Int("defaulted", missing))
	}
	s.countLow(assessments)
	return assessments, nil
}

func (s *Scorer) assess(r types.SearchResult, v stage.Verification) types.CredibilityAssessment {
	st := sourceType(r, v.SourceType)
	base := BaseScore(st)
	score := clamp(heuristicWeight*base + verificationWeight*verdictWeights[v.Verdict]*v.Confidence)

	rationale := fmt.Sprintf("%s source (%.2f); fact check %s at confidence %.2f", st, base, v.Verdict, v.Confidence)
	if v.Rationale != "" {
		rationale += ": " + v.Rationale
	}
	return types.CredibilityAssessment{
		SearchResultID: r.ID,
		Score:          score,
		Rationale:      rationale,
		Verified:       v.Verdict == types.VerdictVerified,
		Verdict:        v.Verdict,
		SourceType:     st,
		LowConfidence:  score < s.Threshold,
	}
}

func (s *Scorer) fallback(r types.SearchResult, v stage.Verification, present bool) types.CredibilityAssessment {
	reason := "no verdict returned"
	if present {
		reason = fmt.Sprintf("unusable verdict %q at confidence %.2f", v.Verdict, v.Confidence)
	}
	return types.CredibilityAssessment{
		SearchResultID: r.ID,
		Score:          0,
		Rationale:      "default low confidence: " + reason,
		Verified:       false,
		SourceType:     sourceType(r, ""),
		LowConfidence:  0 < s.Threshold,
	}
}

func (s *Scorer) heuristic(results []types.SearchResult) []types.CredibilityAssessment {
	out := make([]types.CredibilityAssessment, len(results))
	for i, r := range results {
		st := sourceType(r, "")
		score := BaseScore(st)
		out[i] = types.CredibilityAssessment{
			SearchResultID: r.ID,
			Score:          score,
			Rationale:      fmt.Sprintf("%s source; fact check disabled", st),
			SourceType:     st,
			LowConfidence:  score < s.Threshold,
		}
	}
	s.countLow(out)
	return out
}

func (s *Scorer) countLow(assessments []types.CredibilityAssessment) {
	for _, a := range assessments {
		if a.LowConfidence {
			metrics.LowConfidenceItems.Inc()
		}
	}
}

func (s *Scorer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// sourceType prefers the type reported by the search stage, then the
// fact checker's, then classifies the URL.
func sourceType(r types.SearchResult, checked types.SourceType) types.SourceType {
	switch {
	case r.SourceType != "":
		return r.SourceType
	case checked != "":
		return checked
	}
	return Classify(r.SourceURL)
}

func clamp(x float64) float64 {
	return min(max(x, 0), 1)
}

// Rank orders evidence for inclusion in the report: verified first, then by
// score descending, then by plan item priority ascending. The sort is
// stable, so equal entries keep their evidence-store order.
func Rank(entries []types.EvidenceEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Assessment.Verified != b.Assessment.Verified {
			return a.Assessment.Verified
		}
		if a.Assessment.Score != b.Assessment.Score {
			return a.Assessment.Score > b.Assessment.Score
		}
		return a.PlanPriority < b.PlanPriority
	})
}
