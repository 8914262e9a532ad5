// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// SearchPlanItem is one search the session intends to run. The planner
// produces the first round; the gap analyzer may add a second.
type SearchPlanItem struct {
	// ID identifies the item within the session (e.g. "p1", "g2").
	ID string `json:"id" yaml:"id"`

	// QueryText is the search string sent to the search stage.
	QueryText string `json:"query_text" yaml:"query_text"`

	// Priority ranks the item; 1 is the highest priority. Higher-priority
	// items are executed and filled first.
	Priority int `json:"priority" yaml:"priority"`

	// Rationale explains why the search matters to the query.
	Rationale string `json:"rationale" yaml:"rationale"`

	// Category labels the angle the search covers (background, data, news,
	// examples, risks, gap).
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	// Round is 1 for planner items and 2 for gap-fill items.
	Round int `json:"round" yaml:"round"`
}

// SourceType classifies where a search result came from.
type SourceType string

const (
	SourceOfficial SourceType = "official"
	SourceAcademic SourceType = "academic"
	SourceNews     SourceType = "news"
	SourceBlog     SourceType = "blog"
	SourceForum    SourceType = "forum"
	SourceUnknown  SourceType = "unknown"
)

// SearchResult is one piece of evidence returned for a plan item. Results
// are created by the search coordinator and never modified afterwards.
type SearchResult struct {
	// ID is a stable identifier derived from the plan item and source URL.
	ID string `json:"id" yaml:"id"`

	// PlanItemID references the plan item that produced this result.
	PlanItemID string `json:"plan_item_id" yaml:"plan_item_id"`

	// SourceURL is the location the evidence came from.
	SourceURL string `json:"source_url" yaml:"source_url"`

	// Title is the page or document title, if known.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Snippet is a short excerpt relevant to the plan item.
	Snippet string `json:"snippet" yaml:"snippet"`

	// RawContent is the fetched body text, if the search stage provided it.
	RawContent string `json:"raw_content,omitempty" yaml:"raw_content,omitempty"`

	// SourceType is the source classification reported by the search stage,
	// or empty when the scorer should classify the URL itself.
	SourceType SourceType `json:"source_type,omitempty" yaml:"source_type,omitempty"`

	// FetchedAt records when the result was received.
	FetchedAt time.Time `json:"fetched_at" yaml:"fetched_at"`
}

// SearchError records a plan item whose search failed after all retries.
type SearchError struct {
	PlanItemID string `json:"plan_item_id" yaml:"plan_item_id"`
	Cause      error  `json:"-" yaml:"-"`
	Attempts   int    `json:"attempts" yaml:"attempts"`

	// Message mirrors Cause for serialization.
	Message string `json:"message" yaml:"message"`
}

// NewSearchError builds a SearchError and captures the cause's message.
func NewSearchError(planItemID string, cause error, attempts int) *SearchError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &SearchError{PlanItemID: planItemID, Cause: cause, Attempts: attempts, Message: msg}
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %s failed after %d attempt(s): %s", e.PlanItemID, e.Attempts, e.Message)
}

func (e *SearchError) Unwrap() error { return e.Cause }

// GapReport lists what the first round missed and the plan items chosen
// to fill it. It is consumed by the second search round and discarded.
type GapReport struct {
	MissingAspects      []string         `json:"missing_aspects" yaml:"missing_aspects"`
	AdditionalPlanItems []SearchPlanItem `json:"additional_plan_items" yaml:"additional_plan_items"`
}
