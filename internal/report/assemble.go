// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report merges scored evidence into the context handed to the
// writer stage and turns the writer's output into the final report.
package report

import (
	"github.com/pdiddy/deep-research/internal/credibility"
	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Assemble builds the writer's context from a snapshot of the evidence
// store. It is deterministic: evidence is ordered by credibility.Rank and
// citations are numbered 1..n in that order, one per distinct source URL,
// the first occurrence of a URL fixing its number.
//
// A result without an assessment is included with a zero score and flagged
// low-confidence.
func Assemble(snap evidence.Snapshot, req types.ResearchRequest, missingAspects []string) types.ReportContext {
	items := make(map[string]types.SearchPlanItem, len(snap.Issued))
	for _, it := range snap.Issued {
		items[it.ID] = it
	}

	entries := make([]types.EvidenceEntry, 0, len(snap.Results))
	for _, r := range snap.Results {
		a, ok := snap.Assessments[r.ID]
		if !ok {
			a = types.CredibilityAssessment{
				SearchResultID: r.ID,
				Rationale:      "not assessed",
				LowConfidence:  true,
			}
		}
		it := items[r.PlanItemID]
		entries = append(entries, types.EvidenceEntry{
			Result:       r,
			Assessment:   a,
			PlanPriority: it.Priority,
			PlanQuery:    it.QueryText,
		})
	}
	credibility.Rank(entries)

	var citations []types.Citation
	index := make(map[string]int)
	for i := range entries {
		key := credibility.URLKey(entries[i].Result.SourceURL)
		n, ok := index[key]
		if !ok {
			n = len(citations) + 1
			index[key] = n
			citations = append(citations, types.Citation{
				Index:     n,
				SourceURL: entries[i].Result.SourceURL,
				Title:     entries[i].Result.Title,
			})
		}
		entries[i].CitationIndex = n
	}

	return types.ReportContext{
		Request:        req,
		Evidence:       entries,
		Citations:      citations,
		Unresolved:     snap.Unresolved,
		MissingAspects: missingAspects,
	}
}

// LowConfidenceCount counts entries flagged low-confidence.
func LowConfidenceCount(rc types.ReportContext) int {
	n := 0
	for _, e := range rc.Evidence {
		if e.Assessment.LowConfidence {
			n++
		}
	}
	return n
}
