// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pdiddy/deep-research/pkg/types"
)

// PlanInput asks the planner for an initial set of searches.
type PlanInput struct {
	Request types.ResearchRequest `json:"request"`

	// MaxItems is the depth budget; the planner should not exceed it.
	MaxItems int `json:"max_items"`
}

func (*PlanInput) Kind() Kind { return KindPlan }

func (in *PlanInput) Validate() error {
	if err := in.Request.Validate(); err != nil {
		return err
	}
	if in.MaxItems <= 0 {
		return errors.New("max_items must be positive")
	}
	return nil
}

// PlanOutput is the planner's proposed search plan.
type PlanOutput struct {
	Items []types.SearchPlanItem `json:"items"`
}

func (*PlanOutput) Kind() Kind { return KindPlan }

// Validate rejects items with empty query text or a non-positive priority.
// An empty plan is valid here; the orchestrator treats it as a planning failure.
func (out *PlanOutput) Validate() error {
	for i, item := range out.Items {
		if strings.TrimSpace(item.QueryText) == "" {
			return fmt.Errorf("plan item %d: empty query_text", i)
		}
		if item.Priority < 1 {
			return fmt.Errorf("plan item %d: priority must be >= 1, got %d", i, item.Priority)
		}
	}
	return nil
}

// SearchInput runs one plan item.
type SearchInput struct {
	Item     types.SearchPlanItem `json:"item"`
	Language types.Language       `json:"language,omitempty"`
}

func (*SearchInput) Kind() Kind { return KindSearch }

func (in *SearchInput) Validate() error {
	if in.Item.ID == "" {
		return errors.New("plan item has no id")
	}
	if strings.TrimSpace(in.Item.QueryText) == "" {
		return errors.New("plan item has empty query_text")
	}
	return nil
}

// SearchHit is one source returned by the search stage.
type SearchHit struct {
	URL        string           `json:"url"`
	Title      string           `json:"title,omitempty"`
	Snippet    string           `json:"snippet"`
	Content    string           `json:"content,omitempty"`
	SourceType types.SourceType `json:"source_type,omitempty"`
}

// SearchOutput holds the hits for one plan item. Zero hits is a valid,
// successful search.
type SearchOutput struct {
	Hits []SearchHit `json:"hits"`
}

func (*SearchOutput) Kind() Kind { return KindSearch }

func (out *SearchOutput) Validate() error {
	for i, h := range out.Hits {
		if strings.TrimSpace(h.URL) == "" {
			return fmt.Errorf("hit %d: empty url", i)
		}
	}
	return nil
}

// EvidenceDigest is a compact view of one result passed to the reasoning
// stages.
type EvidenceDigest struct {
	ResultID   string           `json:"result_id"`
	PlanItemID string           `json:"plan_item_id"`
	URL        string           `json:"url"`
	Title      string           `json:"title,omitempty"`
	Snippet    string           `json:"snippet"`
	SourceType types.SourceType `json:"source_type,omitempty"`
}

// Digests converts results into the compact form passed to reasoning stages.
func Digests(results []types.SearchResult) []EvidenceDigest {
	out := make([]EvidenceDigest, 0, len(results))
	for _, r := range results {
		out = append(out, EvidenceDigest{
			ResultID:   r.ID,
			PlanItemID: r.PlanItemID,
			URL:        r.SourceURL,
			Title:      r.Title,
			Snippet:    r.Snippet,
			SourceType: r.SourceType,
		})
	}
	return out
}

// GapInput asks the gap analyzer what the first round missed.
type GapInput struct {
	Query      string                 `json:"query"`
	Issued     []types.SearchPlanItem `json:"issued"`
	Evidence   []EvidenceDigest       `json:"evidence"`
	Unresolved []string               `json:"unresolved,omitempty"`
	Remaining  int                    `json:"remaining"`
}

func (*GapInput) Kind() Kind { return KindGapAnalyze }

func (in *GapInput) Validate() error {
	if strings.TrimSpace(in.Query) == "" {
		return errors.New("query is empty")
	}
	if in.Remaining <= 0 {
		return errors.New("remaining budget must be positive")
	}
	return nil
}

// GapSuggestion proposes one follow-up search.
type GapSuggestion struct {
	// Aspect names the missing aspect the search addresses.
	Aspect    string `json:"aspect"`
	QueryText string `json:"query_text"`
	Rationale string `json:"rationale,omitempty"`

	// Relevance is how directly the search addresses the aspect, in [0,1].
	Relevance float64 `json:"relevance"`

	// RelatedItemID names the nearest issued plan item, if any.
	RelatedItemID string `json:"related_item_id,omitempty"`
}

// GapOutput lists missing aspects and suggested searches.
type GapOutput struct {
	MissingAspects []string        `json:"missing_aspects"`
	Suggestions    []GapSuggestion `json:"suggestions"`
}

func (*GapOutput) Kind() Kind { return KindGapAnalyze }

func (out *GapOutput) Validate() error {
	for i, s := range out.Suggestions {
		if strings.TrimSpace(s.QueryText) == "" {
			return fmt.Errorf("suggestion %d: empty query_text", i)
		}
		if s.Relevance < 0 || s.Relevance > 1 {
			return fmt.Errorf("suggestion %d: relevance %v outside [0,1]", i, s.Relevance)
		}
	}
	return nil
}

// FactCheckInput asks for a verdict on each piece of evidence.
type FactCheckInput struct {
	Query    string           `json:"query"`
	Evidence []EvidenceDigest `json:"evidence"`
}

func (*FactCheckInput) Kind() Kind { return KindFactCheck }

func (in *FactCheckInput) Validate() error {
	seen := make(map[string]bool, len(in.Evidence))
	for i, e := range in.Evidence {
		if e.ResultID == "" {
			return fmt.Errorf("evidence %d: empty result_id", i)
		}
		if seen[e.ResultID] {
			return fmt.Errorf("evidence %d: duplicate result_id %s", i, e.ResultID)
		}
		seen[e.ResultID] = true
	}
	return nil
}

// Verification is the fact-check verdict for one result.
type Verification struct {
	ResultID string        `json:"result_id"`
	Verdict  types.Verdict `json:"verdict"`

	// Confidence is the checker's confidence in the verdict, in [0,1].
	Confidence float64          `json:"confidence"`
	Rationale  string           `json:"rationale,omitempty"`
	SourceType types.SourceType `json:"source_type,omitempty"`
}

// FactCheckOutput holds verdicts keyed by result ID. Results without a
// verification, or with an unusable one, are scored at the default low
// confidence by the scorer rather than rejected here.
type FactCheckOutput struct {
	Verifications []Verification `json:"verifications"`
}

func (*FactCheckOutput) Kind() Kind { return KindFactCheck }

func (out *FactCheckOutput) Validate() error { return nil }

// WriteInput hands the assembled context to the writer.
type WriteInput struct {
	Context types.ReportContext `json:"context"`
}

func (*WriteInput) Kind() Kind { return KindWrite }

func (in *WriteInput) Validate() error {
	return in.Context.Request.Validate()
}

// WriteOutput is the written report.
type WriteOutput struct {
	Title             string   `json:"title"`
	Summary           string   `json:"summary"`
	Content           string   `json:"content"`
	KeyFindings       []string `json:"key_findings,omitempty"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`
}

func (*WriteOutput) Kind() Kind { return KindWrite }

func (out *WriteOutput) Validate() error {
	if strings.TrimSpace(out.Content) == "" {
		return errors.New("report content is empty")
	}
	return nil
}

// Usable reports whether v carries a known verdict and an in-range confidence.
func (v Verification) Usable() bool {
	return v.Verdict.Valid() && v.Confidence >= 0 && v.Confidence <= 1
}

// NewOutput returns an empty output payload for kind, for decoders that
// fill it from JSON.
func NewOutput(kind Kind) (Payload, error) {
	switch kind {
	case KindPlan:
		return &PlanOutput{}, nil
	case KindSearch:
		return &SearchOutput{}, nil
	case KindGapAnalyze:
		return &GapOutput{}, nil
	case KindFactCheck:
		return &FactCheckOutput{}, nil
	case KindWrite:
		return &WriteOutput{}, nil
	}
	return nil, Unsupported(kind)
}
