// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package backend

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Heuristic is a deterministic reasoning backend for offline runs. It plans
// facet searches, finds gaps from unresolved items and uncovered query terms,
// checks facts by cross-source corroboration, and writes a Markdown report
// from the ranked evidence. It does not serve the search stage.
type Heuristic struct {
	// Now dates recency hints in planned queries; defaults to time.Now.
	Now func() time.Time
}

// Invoke serves every reasoning stage.
func (h *Heuristic) Invoke(ctx context.Context, kind stage.Kind, input stage.Payload) (stage.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch in := input.(type) {
	case *stage.PlanInput:
		return h.plan(in), nil
	case *stage.GapInput:
		return h.analyzeGaps(in), nil
	case *stage.FactCheckInput:
		return h.factCheck(in), nil
	case *stage.WriteInput:
		return h.write(in), nil
	}
	return nil, stage.Unsupported(kind)
}

func (h *Heuristic) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// facet is one angle of a research question.
type facet struct {
	category  string
	format    string
	rationale string

	// dated facets append the current year as a recency hint.
	dated bool
}

func (f facet) query(topic string, year int) string {
	if f.dated {
		return fmt.Sprintf(f.format, topic, year)
	}
	return fmt.Sprintf(f.format, topic)
}

// facets are planned in order; the first five match the planner categories.
var facets = []facet{
	{"background", "%s background and definitions", "context, definitions, and history", false},
	{"data", "%s statistics and market data", "quantitative evidence and studies", false},
	{"news", "%s latest developments %d", "recent developments", true},
	{"examples", "%s case studies and real-world applications", "concrete examples", false},
	{"risks", "%s limitations challenges and criticisms", "limitations and counterpoints", false},
	{"comparison", "%s compared with alternatives", "how it compares with alternatives", false},
	{"policy", "%s regulation and policy", "regulatory and policy context", false},
	{"experts", "%s expert analysis and opinion", "expert assessment", false},
	{"outlook", "%s future outlook and forecasts", "where things are heading", false},
	{"methods", "%s research methods and evaluation", "how claims are measured", false},
}

// plan proposes one query per facet. Budgets above three leave a fifth of
// the slots free for the gap round.
func (h *Heuristic) plan(in *stage.PlanInput) *stage.PlanOutput {
	n := in.MaxItems
	if n > 3 {
		n -= n / 5
	}
	if n > len(facets) {
		n = len(facets)
	}
	topic := topicOf(in.Request.Query)
	year := h.now().Year()

	out := &stage.PlanOutput{}
	for i := 0; i < n; i++ {
		f := facets[i]
		out.Items = append(out.Items, types.SearchPlanItem{
			ID:        fmt.Sprintf("p%d", i+1),
			QueryText: f.query(topic, year),
			Priority:  facetPriority(i),
			Rationale: "covers " + f.rationale,
			Category:  f.category,
		})
	}
	return out
}

func facetPriority(i int) int {
	switch {
	case i < 2:
		return 1
	case i < 5:
		return 2
	}
	return 3
}

// topicOf strips question punctuation from a query.
func topicOf(query string) string {
	return strings.TrimRight(strings.TrimSpace(query), "?!. ")
}

// analyzeGaps suggests retries for unresolved items, searches for query
// terms no evidence mentions, and facets the plan did not cover.
func (h *Heuristic) analyzeGaps(in *stage.GapInput) *stage.GapOutput {
	out := &stage.GapOutput{}
	topic := topicOf(in.Query)

	byID := make(map[string]types.SearchPlanItem, len(in.Issued))
	covered := make(map[string]bool, len(in.Issued))
	for _, it := range in.Issued {
		byID[it.ID] = it
		covered[it.Category] = true
	}

	for _, id := range in.Unresolved {
		it, ok := byID[id]
		if !ok {
			continue
		}
		aspect := it.Category
		if aspect == "" {
			aspect = it.QueryText
		}
		out.Suggestions = append(out.Suggestions, stage.GapSuggestion{
			Aspect:        aspect,
			QueryText:     it.QueryText + " overview",
			Rationale:     "the earlier search for this aspect failed",
			Relevance:     0.9,
			RelatedItemID: id,
		})
	}

	var seen strings.Builder
	for _, e := range in.Evidence {
		seen.WriteString(strings.ToLower(e.Title))
		seen.WriteByte(' ')
		seen.WriteString(strings.ToLower(e.Snippet))
		seen.WriteByte(' ')
	}
	text := seen.String()
	for _, term := range keywords(in.Query) {
		if strings.Contains(text, term) {
			continue
		}
		out.Suggestions = append(out.Suggestions, stage.GapSuggestion{
			Aspect:    term,
			QueryText: fmt.Sprintf("%s %s explained", topic, term),
			Rationale: fmt.Sprintf("no evidence mentions %q", term),
			Relevance: 0.7,
		})
	}

	for _, f := range facets {
		if covered[f.category] {
			continue
		}
		out.Suggestions = append(out.Suggestions, stage.GapSuggestion{
			Aspect:    f.category,
			QueryText: f.query(topic, h.now().Year()),
			Rationale: "the plan did not cover " + f.rationale,
			Relevance: 0.5,
		})
	}

	for _, s := range out.Suggestions {
		out.MissingAspects = appendUnique(out.MissingAspects, s.Aspect)
	}
	return out
}

// factCheck rates each result by how many other hosts corroborate it: two or
// more sharing at least two keywords verify it, one partially verifies it.
func (h *Heuristic) factCheck(in *stage.FactCheckInput) *stage.FactCheckOutput {
	type doc struct {
		host  string
		terms map[string]bool
	}
	docs := make([]doc, len(in.Evidence))
	for i, e := range in.Evidence {
		terms := make(map[string]bool)
		for _, k := range keywords(e.Title + " " + e.Snippet) {
			terms[k] = true
		}
		docs[i] = doc{host: hostOf(e.URL), terms: terms}
	}

	out := &stage.FactCheckOutput{}
	for i, e := range in.Evidence {
		hosts := make(map[string]bool)
		for j, other := range docs {
			if i == j || other.host == docs[i].host {
				continue
			}
			shared := 0
			for k := range docs[i].terms {
				if other.terms[k] {
					shared++
				}
			}
			if shared >= 2 {
				hosts[other.host] = true
			}
		}

		v := stage.Verification{ResultID: e.ResultID}
		switch {
		case len(docs[i].terms) == 0:
			v.Verdict, v.Confidence = types.VerdictUnverified, 0.3
			v.Rationale = "no checkable content"
		case len(hosts) >= 2:
			v.Verdict, v.Confidence = types.VerdictVerified, 0.8
			v.Rationale = fmt.Sprintf("corroborated by %d other sources", len(hosts))
		case len(hosts) == 1:
			v.Verdict, v.Confidence = types.VerdictPartiallyTrue, 0.6
			v.Rationale = "corroborated by one other source"
		default:
			v.Verdict, v.Confidence = types.VerdictUnverified, 0.5
			v.Rationale = "no corroborating source"
		}
		out.Verifications = append(out.Verifications, v)
	}
	return out
}

// styleSections are the headings used for the lead, findings, and closing
// sections of each report style.
var styleSections = map[types.Style][3]string{
	types.StyleAcademic:  {"Abstract", "Findings", "Discussion"},
	types.StyleBusiness:  {"Executive Summary", "Key Findings", "Recommendations"},
	types.StyleNews:      {"What We Know", "Key Developments", "What Comes Next"},
	types.StyleExecutive: {"Bottom Line", "Key Facts", "Next Steps"},
}

const maxFindings = 7

// write renders the ranked evidence as a Markdown report. Each finding cites
// its source with the entry's citation number.
func (h *Heuristic) write(in *stage.WriteInput) *stage.WriteOutput {
	rc := in.Context
	req := rc.Request
	sections, ok := styleSections[req.Style]
	if !ok {
		sections = styleSections[types.StyleBusiness]
	}
	topic := topicOf(req.Query)

	var findings []string
	cited := make(map[int]bool)
	lowConfidence := 0
	for _, e := range rc.Evidence {
		if e.Assessment.LowConfidence {
			lowConfidence++
		}
		if len(findings) == maxFindings || cited[e.CitationIndex] || e.CitationIndex == 0 {
			continue
		}
		text := strings.TrimSpace(e.Result.Snippet)
		if text == "" {
			text = strings.TrimSpace(e.Result.Title)
		}
		if text == "" {
			continue
		}
		finding := fmt.Sprintf("%s [%d]", strings.TrimRight(text, "."), e.CitationIndex)
		if e.Assessment.LowConfidence {
			finding += " (low confidence)"
		}
		cited[e.CitationIndex] = true
		findings = append(findings, finding)
	}

	summary := fmt.Sprintf("This report draws on %d source(s) gathered for %q.", len(rc.Citations), topic)
	if len(rc.Citations) == 0 {
		summary = fmt.Sprintf("No usable sources were found for %q.", topic)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", topic)
	fmt.Fprintf(&b, "## %s\n\n%s\n\n", sections[0], summary)

	fmt.Fprintf(&b, "## %s\n\n", sections[1])
	if len(findings) == 0 {
		b.WriteString("The searches returned no evidence to report.\n\n")
	}
	for _, f := range findings {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	if len(findings) > 0 {
		b.WriteString("\n")
	}

	if lowConfidence > 0 || len(rc.Unresolved) > 0 || len(rc.MissingAspects) > 0 {
		b.WriteString("## Reliability\n\n")
		if lowConfidence > 0 {
			fmt.Fprintf(&b, "- %d evidence item(s) could not be corroborated and are marked low confidence.\n", lowConfidence)
		}
		for _, u := range rc.Unresolved {
			fmt.Fprintf(&b, "- Search %s could not be completed: %s\n", u.PlanItemID, u.Message)
		}
		if len(rc.MissingAspects) > 0 {
			fmt.Fprintf(&b, "- Aspects with thin coverage: %s\n", strings.Join(rc.MissingAspects, ", "))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## %s\n\n", sections[2])
	b.WriteString("Review the cited sources directly before acting on these findings.\n")

	if len(rc.Citations) > 0 {
		b.WriteString("\n## Sources\n\n")
		for _, c := range rc.Citations {
			fmt.Fprintf(&b, "%s\n", formatCitation(c, req.CitationStyle))
		}
	}

	var followUps []string
	for _, a := range rc.MissingAspects {
		followUps = append(followUps, fmt.Sprintf("What does current evidence say about %s?", a))
	}
	if len(followUps) == 0 {
		followUps = append(followUps, fmt.Sprintf("What has changed about %s in the last year?", topic))
	}

	keyFindings := make([]string, 0, len(findings))
	for i, f := range findings {
		if i == 5 {
			break
		}
		keyFindings = append(keyFindings, f)
	}

	return &stage.WriteOutput{
		Title:             topic,
		Summary:           summary,
		Content:           b.String(),
		KeyFindings:       keyFindings,
		FollowUpQuestions: followUps,
	}
}

func formatCitation(c types.Citation, style types.CitationStyle) string {
	title := c.Title
	if title == "" {
		title = hostOf(c.SourceURL)
	}
	switch style {
	case types.CitationMLA:
		return fmt.Sprintf("[%d] \"%s.\" %s.", c.Index, title, c.SourceURL)
	case types.CitationChicago:
		return fmt.Sprintf("[%d] %s. %s.", c.Index, title, c.SourceURL)
	case types.CitationNone:
		return fmt.Sprintf("[%d] %s", c.Index, c.SourceURL)
	}
	return fmt.Sprintf("[%d] %s. (n.d.). Retrieved from %s", c.Index, title, c.SourceURL)
}

var stopwords = map[string]bool{
	"about": true, "after": true, "also": true, "and": true, "are": true, "been": true,
	"being": true, "between": true, "does": true, "from": true, "have": true, "how": true,
	"into": true, "more": true, "most": true, "over": true, "should": true, "some": true,
	"than": true, "that": true, "their": true, "there": true, "these": true, "they": true,
	"this": true, "those": true, "what": true, "when": true, "where": true, "which": true,
	"while": true, "will": true, "with": true, "would": true, "your": true,
}

// keywords returns the distinct lowercase words of s that are four or more
// characters long and not stopwords, sorted.
func keywords(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	set := make(map[string]bool)
	for _, w := range words {
		w = strings.Trim(w, "-")
		if len([]rune(w)) < 4 || stopwords[w] {
			continue
		}
		set[w] = true
	}
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
