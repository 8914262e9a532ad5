// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

func issuedItems() []types.SearchPlanItem {
	return []types.SearchPlanItem{
		{ID: "p1", QueryText: "EV battery market size", Priority: 1},
		{ID: "p2", QueryText: "EV battery supply chain", Priority: 2},
		{ID: "p3", QueryText: "EV battery recycling", Priority: 3},
	}
}

func queries(items []types.SearchPlanItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.QueryText
	}
	return out
}

func TestSelectCapsAtRemaining(t *testing.T) {
	sugg := []stage.GapSuggestion{
		{QueryText: "a", Relevance: 0.9},
		{QueryText: "b", Relevance: 0.8},
		{QueryText: "c", Relevance: 0.7},
	}
	items := Select(sugg, issuedItems(), 2)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"a", "b"}, queries(items))
}

func TestSelectOrdersByRelevanceThenRelatedPriority(t *testing.T) {
	sugg := []stage.GapSuggestion{
		{QueryText: "low", Relevance: 0.3, RelatedItemID: "p1"},
		{QueryText: "tie-p3", Relevance: 0.8, RelatedItemID: "p3"},
		{QueryText: "tie-p1", Relevance: 0.8, RelatedItemID: "p1"},
		{QueryText: "tie-none", Relevance: 0.8},
		{QueryText: "top", Relevance: 0.95, RelatedItemID: "p2"},
	}
	items := Select(sugg, issuedItems(), 10)
	assert.Equal(t, []string{"top", "tie-p1", "tie-p3", "tie-none", "low"}, queries(items))
}

func TestSelectDropsDuplicatesBeforeCap(t *testing.T) {
	sugg := []stage.GapSuggestion{
		{QueryText: "  ev BATTERY   market size ", Relevance: 0.99}, // duplicates p1
		{QueryText: "solid state cells", Relevance: 0.9},
		{QueryText: "Solid State Cells", Relevance: 0.85}, // duplicates previous suggestion
		{QueryText: "battery prices 2025", Relevance: 0.8},
	}
	items := Select(sugg, issuedItems(), 2)
	assert.Equal(t, []string{"solid state cells", "battery prices 2025"}, queries(items),
		"duplicates are removed first so the cap keeps two fresh queries")
}

func TestSelectAssignsIDsAndPriorities(t *testing.T) {
	issued := append(issuedItems(), types.SearchPlanItem{ID: "g1", QueryText: "earlier gap", Priority: 4})
	sugg := []stage.GapSuggestion{
		{QueryText: "x", Relevance: 0.5, Aspect: "pricing"},
		{QueryText: "y", Relevance: 0.4, Rationale: "regulation is missing"},
	}
	items := Select(sugg, issued, 2)
	require.Len(t, items, 2)

	assert.Equal(t, "g2", items[0].ID, "existing IDs are skipped")
	assert.Equal(t, "g3", items[1].ID)
	assert.Equal(t, 5, items[0].Priority)
	assert.Equal(t, 6, items[1].Priority)
	assert.Equal(t, 2, items[0].Round)
	assert.Equal(t, CategoryGap, items[0].Category)
	assert.Equal(t, "fills missing aspect: pricing", items[0].Rationale)
	assert.Equal(t, "regulation is missing", items[1].Rationale)
}

func TestSelectNothingRemaining(t *testing.T) {
	assert.Empty(t, Select([]stage.GapSuggestion{{QueryText: "a", Relevance: 1}}, issuedItems(), 0))
}

func TestAnalyzeSkipsStageWithoutBudget(t *testing.T) {
	called := false
	a := &Analyzer{Backend: stage.BackendFunc(func(context.Context, stage.Kind, stage.Payload) (stage.Payload, error) {
		called = true
		return &stage.GapOutput{}, nil
	})}

	report, err := a.Analyze(context.Background(), "q", evidence.Snapshot{Issued: issuedItems()}, 0)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Empty(t, report.AdditionalPlanItems)
}

func TestAnalyzeTwoAspectsTwoRemaining(t *testing.T) {
	var got *stage.GapInput
	a := &Analyzer{Backend: stage.BackendFunc(func(_ context.Context, _ stage.Kind, in stage.Payload) (stage.Payload, error) {
		got = in.(*stage.GapInput)
		return &stage.GapOutput{
			MissingAspects: []string{"pricing", "regulation"},
			Suggestions: []stage.GapSuggestion{
				{Aspect: "pricing", QueryText: "EV battery pack prices", Relevance: 0.9, RelatedItemID: "p1"},
				{Aspect: "pricing", QueryText: "cell cost per kWh", Relevance: 0.7, RelatedItemID: "p1"},
				{Aspect: "regulation", QueryText: "EU battery regulation", Relevance: 0.8, RelatedItemID: "p2"},
			},
		}, nil
	})}

	snap := evidence.Snapshot{
		Issued: issuedItems(),
		Results: []types.SearchResult{
			{ID: "r1", PlanItemID: "p1", SourceURL: "https://a.example", Snippet: "s"},
		},
		Unresolved: []types.SearchError{{PlanItemID: "p3"}},
	}
	report, err := a.Analyze(context.Background(), "EV batteries", snap, 2)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, 2, got.Remaining)
	assert.Equal(t, []string{"p3"}, got.Unresolved)
	require.Len(t, got.Evidence, 1)
	assert.Equal(t, "r1", got.Evidence[0].ResultID)

	assert.Equal(t, []string{"pricing", "regulation"}, report.MissingAspects)
	require.Len(t, report.AdditionalPlanItems, 2, "never more than the remaining budget")
	assert.Equal(t, []string{"EV battery pack prices", "EU battery regulation"}, queries(report.AdditionalPlanItems))
}

func TestAnalyzeDerivesAspectsFromSuggestions(t *testing.T) {
	a := &Analyzer{Backend: stage.BackendFunc(func(context.Context, stage.Kind, stage.Payload) (stage.Payload, error) {
		return &stage.GapOutput{Suggestions: []stage.GapSuggestion{
			{Aspect: "Pricing", QueryText: "a", Relevance: 0.5},
			{Aspect: "pricing", QueryText: "b", Relevance: 0.5},
		}}, nil
	})}
	report, err := a.Analyze(context.Background(), "q", evidence.Snapshot{Issued: issuedItems()}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pricing"}, report.MissingAspects)
}

func TestAnalyzeStageFailure(t *testing.T) {
	a := &Analyzer{Backend: stage.BackendFunc(func(context.Context, stage.Kind, stage.Payload) (stage.Payload, error) {
		return nil, stage.Errorf(stage.CodeModel, "overloaded")
	})}
	_, err := a.Analyze(context.Background(), "q", evidence.Snapshot{Issued: issuedItems()}, 2)

	var be *stage.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, stage.CodeModel, be.Code)
}
