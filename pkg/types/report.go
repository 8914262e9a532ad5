// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Verdict is the fact-check outcome for one search result.
type Verdict string

const (
	VerdictVerified      Verdict = "verified"
	VerdictPartiallyTrue Verdict = "partially_true"
	VerdictUnverified    Verdict = "unverified"
	VerdictDisputed      Verdict = "disputed"
	VerdictFalse         Verdict = "false"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictVerified, VerdictPartiallyTrue, VerdictUnverified, VerdictDisputed, VerdictFalse:
		return true
	}
	return false
}

// CredibilityAssessment scores one search result. There is exactly one per
// result and it is never modified after creation.
type CredibilityAssessment struct {
	// SearchResultID references the assessed result.
	SearchResultID string `json:"search_result_id" yaml:"search_result_id"`

	// Score is the confidence in the evidence, between 0.0 and 1.0.
	Score float64 `json:"score" yaml:"score"`

	// Rationale explains the score.
	Rationale string `json:"rationale" yaml:"rationale"`

	// Verified is true when the fact check confirmed the evidence.
	Verified bool `json:"verified" yaml:"verified"`

	// Verdict is the fact-check verdict, empty if none was available.
	Verdict Verdict `json:"verdict,omitempty" yaml:"verdict,omitempty"`

	// SourceType is the classification used for the heuristic part of the score.
	SourceType SourceType `json:"source_type" yaml:"source_type"`

	// LowConfidence flags scores below the configured threshold. Such items
	// stay in the evidence set for auditability.
	LowConfidence bool `json:"low_confidence" yaml:"low_confidence"`
}

// EvidenceEntry pairs a result with its assessment and the priority of the
// plan item that produced it.
type EvidenceEntry struct {
	Result       SearchResult          `json:"result" yaml:"result"`
	Assessment   CredibilityAssessment `json:"assessment" yaml:"assessment"`
	PlanPriority int                   `json:"plan_priority" yaml:"plan_priority"`
	PlanQuery    string                `json:"plan_query" yaml:"plan_query"`

	// CitationIndex is the 1-based citation number for the entry's source URL.
	CitationIndex int `json:"citation_index" yaml:"citation_index"`
}

// Citation is one numbered source in the report.
type Citation struct {
	Index     int    `json:"index" yaml:"index"`
	SourceURL string `json:"source_url" yaml:"source_url"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
}

// ReportContext is the merged, ordered input handed to the writer stage.
type ReportContext struct {
	Request    ResearchRequest `json:"request" yaml:"request"`
	Evidence   []EvidenceEntry `json:"evidence" yaml:"evidence"`
	Citations  []Citation      `json:"citations" yaml:"citations"`
	Unresolved []SearchError   `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`

	// MissingAspects carries the gap analyzer's findings, if a gap round ran.
	MissingAspects []string `json:"missing_aspects,omitempty" yaml:"missing_aspects,omitempty"`
}

// ResearchReport is the final artifact of a successful session.
type ResearchReport struct {
	SessionID string `json:"session_id" yaml:"session_id"`

	Title   string `json:"title" yaml:"title"`
	Summary string `json:"summary" yaml:"summary"`

	// Content is the report prose in Markdown.
	Content string `json:"content" yaml:"content"`

	// Citations lists cited source URLs in citation-number order.
	Citations []string `json:"citations" yaml:"citations"`

	Style    Style    `json:"style" yaml:"style"`
	Language Language `json:"language" yaml:"language"`

	KeyFindings       []string `json:"key_findings,omitempty" yaml:"key_findings,omitempty"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty" yaml:"follow_up_questions,omitempty"`

	// Unresolved lists plan items whose searches failed.
	Unresolved []SearchError `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`

	// LowConfidence counts evidence items scored below the threshold.
	LowConfidence int `json:"low_confidence" yaml:"low_confidence"`

	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
}
