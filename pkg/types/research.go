// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the deep-research pipeline:
// the research request, search plan, evidence, credibility assessments,
// progress events, and the final report.
package types

import (
	"fmt"
	"regexp"
	"strings"
)

// Depth selects how much searching a session may do. Each depth maps to a
// maximum number of search plan items across all rounds.
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// depthBudgets maps each depth to its search-item budget.
var depthBudgets = map[Depth]int{
	DepthQuick:    3,
	DepthStandard: 5,
	DepthDeep:     10,
}

// Budget returns the maximum number of search plan items a session at this
// depth may issue. Unknown depths have a zero budget.
func (d Depth) Budget() int {
	return depthBudgets[d]
}

// ParseDepth converts a case-insensitive name into a Depth.
func ParseDepth(s string) (Depth, error) {
	d := Depth(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := depthBudgets[d]; !ok {
		return "", fmt.Errorf("unknown depth %q: use quick, standard, or deep", s)
	}
	return d, nil
}

// Style selects the register of the written report.
type Style string

const (
	StyleAcademic  Style = "academic"
	StyleBusiness  Style = "business"
	StyleNews      Style = "news"
	StyleExecutive Style = "executive"
)

// ParseStyle converts a case-insensitive name into a Style.
func ParseStyle(s string) (Style, error) {
	st := Style(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StyleAcademic, StyleBusiness, StyleNews, StyleExecutive:
		return st, nil
	}
	return "", fmt.Errorf("unknown style %q: use academic, business, news, or executive", s)
}

// CitationStyle selects how the writer formats references.
type CitationStyle string

const (
	CitationAPA     CitationStyle = "apa"
	CitationMLA     CitationStyle = "mla"
	CitationChicago CitationStyle = "chicago"
	CitationNone    CitationStyle = "none"
)

// ParseCitationStyle converts a case-insensitive name into a CitationStyle.
func ParseCitationStyle(s string) (CitationStyle, error) {
	cs := CitationStyle(strings.ToLower(strings.TrimSpace(s)))
	switch cs {
	case CitationAPA, CitationMLA, CitationChicago, CitationNone:
		return cs, nil
	}
	return "", fmt.Errorf("unknown citation style %q: use apa, mla, chicago, or none", s)
}

// Language is a locale tag such as "en", "ja", or "zh-TW".
type Language string

// languagePattern accepts a primary subtag with optional region/script subtags.
var languagePattern = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z0-9]{2,8})*$`)

// Valid reports whether the tag is well formed.
func (l Language) Valid() bool {
	return languagePattern.MatchString(string(l))
}

// ResearchRequest describes one research session. It is never modified
// after the session starts.
type ResearchRequest struct {
	// Query is the natural-language research question.
	Query string `json:"query" yaml:"query"`

	// Depth bounds the total number of search plan items.
	Depth Depth `json:"depth" yaml:"depth"`

	// Style selects the report register.
	Style Style `json:"style" yaml:"style"`

	// Language is the locale tag the report is written in.
	Language Language `json:"language" yaml:"language"`

	// CitationStyle selects the reference format. Empty means APA.
	CitationStyle CitationStyle `json:"citation_style,omitempty" yaml:"citation_style,omitempty"`
}

// Validate checks that the request is complete and uses known enum values.
func (r ResearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("query is empty")
	}
	if r.Depth.Budget() == 0 {
		return fmt.Errorf("unknown depth %q", r.Depth)
	}
	if _, err := ParseStyle(string(r.Style)); err != nil {
		return err
	}
	if !r.Language.Valid() {
		return fmt.Errorf("invalid language tag %q", r.Language)
	}
	if r.CitationStyle != "" {
		if _, err := ParseCitationStyle(string(r.CitationStyle)); err != nil {
			return err
		}
	}
	return nil
}

// WithDefaults fills empty optional fields: standard depth, business style,
// English, and APA citations.
func (r ResearchRequest) WithDefaults() ResearchRequest {
	if r.Depth == "" {
		r.Depth = DepthStandard
	}
	if r.Style == "" {
		r.Style = StyleBusiness
	}
	if r.Language == "" {
		r.Language = "en"
	}
	if r.CitationStyle == "" {
		r.CitationStyle = CitationAPA
	}
	return r
}
