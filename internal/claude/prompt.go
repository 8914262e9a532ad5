// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package claude

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		return string(b), err
	},
}

var planPromptTmpl = template.Must(template.New("plan").Funcs(funcs).Parse(`You are a strategic research planner. Design a search strategy for the research question below.

Output at most {{.MaxItems}} search queries. Each must cover a distinct angle and carry a category:
- background: definitions, context, history
- data: statistics, market data, reports, studies
- news: latest developments
- examples: case studies, real-world applications
- risks: limitations, challenges, criticisms

Assign priorities: 1 = essential for answering the question, 2 = important supporting information, 3 = nice-to-have context.
At least one query must include a recency hint such as "latest" or the current year. Avoid near-duplicate queries.
{{if ne .Language "en"}}The report will be written in {{.Language}}; search in English primarily and add local-language queries where they help.
{{end}}
Respond with a JSON object and nothing else:
{"items": [{"id": "p1", "query_text": "...", "priority": 1, "rationale": "...", "category": "background"}]}

Research question: {{.Query}}
`))

var gapPromptTmpl = template.Must(template.New("gap_analyze").Funcs(funcs).Parse(`You are a research gap analyst. Compare the research question with the evidence gathered so far and identify important aspects the evidence does not cover.

Research question: {{.Query}}

Searches already issued:
{{json .Issued}}

Evidence gathered:
{{json .Evidence}}
{{if .Unresolved}}
Searches that failed (plan item IDs): {{json .Unresolved}}
{{end}}
Suggest follow-up searches for the missing aspects. Only {{.Remaining}} more searches can run, so rank suggestions by relevance (0.0 to 1.0) and do not repeat queries already issued. Set related_item_id to the issued item a suggestion extends, if any.

Respond with a JSON object and nothing else:
{"missing_aspects": ["..."], "suggestions": [{"aspect": "...", "query_text": "...", "rationale": "...", "relevance": 0.8, "related_item_id": "p2"}]}
`))

var factCheckPromptTmpl = template.Must(template.New("fact_check").Funcs(funcs).Parse(`You are a fact checker. For each piece of evidence below, judge whether its claims are supported, using cross-source agreement, source authority, and internal consistency.

Research question: {{.Query}}

Evidence:
{{json .Evidence}}

For every result_id give one verdict: "verified", "partially_true", "unverified", "disputed", or "false", a confidence between 0.0 and 1.0, a short rationale, and the source_type ("official", "academic", "news", "blog", "forum", or "unknown").

Respond with a JSON object and nothing else:
{"verifications": [{"result_id": "...", "verdict": "verified", "confidence": 0.8, "rationale": "...", "source_type": "news"}]}
`))

var writePromptTmpl = template.Must(template.New("write").Funcs(funcs).Parse(`You are a senior research writer. Write a well-structured report that answers the research question using only the evidence below.

Research question: {{.Context.Request.Query}}

{{.StyleGuide}}

{{.LanguageInstruction}}

Citation style: {{.CitationStyle}}. Cite evidence inline with its citation number in square brackets, e.g. [1] or [2, 3]. Only use the numbers listed under Citations. End with a Sources section listing each citation.
{{if .LowConfidence}}
{{.LowConfidence}} evidence item(s) are marked low_confidence. Include a Reliability section that separates well-supported findings from those needing verification.
{{end}}{{if .Context.Unresolved}}
Some searches failed; note where coverage is limited:
{{json .Context.Unresolved}}
{{end}}{{if .Context.MissingAspects}}
Aspects with thin coverage: {{json .Context.MissingAspects}}
{{end}}
Do not invent facts or citations. Flag conflicting information.

Citations:
{{json .Context.Citations}}

Evidence (ranked, most credible first):
{{json .Context.Evidence}}

Respond with a JSON object and nothing else:
{"title": "...", "summary": "2-3 sentence summary", "content": "full report in Markdown", "key_findings": ["..."], "follow_up_questions": ["..."]}
`))

var styleGuides = map[types.Style]string{
	types.StyleAcademic: `Academic style: formal, objective tone; hedged language ("suggests", "indicates"); sections Abstract, Introduction, Findings, Discussion, Conclusion; extensive citations.`,
	types.StyleBusiness: `Business style: professional but accessible; lead with key insights; sections Executive Summary, Key Findings, Analysis, Recommendations; bullet points and actionable takeaways.`,
	types.StyleNews:     `News style: inverted pyramid; engaging lead paragraph; short paragraphs; attribution for every claim; objective tone for a general audience.`,
	types.StyleExecutive: `Executive style: ultra-concise; bottom line first; bullet points for key facts; no jargon; strategic implications and clear next steps.`,
}

var languageInstructions = map[types.Language]string{
	"en":    "Write the report in English.",
	"zh-TW": "用繁體中文撰寫報告。",
	"zh-CN": "用简体中文撰写报告。",
	"ja":    "レポートは日本語で作成してください。",
	"ko":    "보고서를 한국어로 작성하세요.",
}

func languageInstruction(l types.Language) string {
	if s, ok := languageInstructions[l]; ok {
		return s
	}
	return fmt.Sprintf("Write the report in the language with locale tag %q.", l)
}

// renderPrompt executes the template for the input's stage.
func renderPrompt(input stage.Payload) (string, error) {
	var buf bytes.Buffer
	var err error
	switch in := input.(type) {
	case *stage.PlanInput:
		err = planPromptTmpl.Execute(&buf, struct {
			Query    string
			Language types.Language
			MaxItems int
		}{in.Request.Query, in.Request.Language, in.MaxItems})
	case *stage.GapInput:
		err = gapPromptTmpl.Execute(&buf, in)
	case *stage.FactCheckInput:
		err = factCheckPromptTmpl.Execute(&buf, in)
	case *stage.WriteInput:
		low := 0
		for _, e := range in.Context.Evidence {
			if e.Assessment.LowConfidence {
				low++
			}
		}
		err = writePromptTmpl.Execute(&buf, struct {
			Context             types.ReportContext
			StyleGuide          string
			LanguageInstruction string
			CitationStyle       string
			LowConfidence       int
		}{
			Context:             in.Context,
			StyleGuide:          styleGuides[in.Context.Request.Style],
			LanguageInstruction: languageInstruction(in.Context.Request.Language),
			CitationStyle:       citationStyleName(in.Context.Request.CitationStyle),
			LowConfidence:       low,
		})
	default:
		return "", stage.Unsupported(input.Kind())
	}
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func citationStyleName(cs types.CitationStyle) string {
	switch cs {
	case types.CitationMLA:
		return "MLA"
	case types.CitationChicago:
		return "Chicago"
	case types.CitationNone:
		return "numbered links only"
	}
	return "APA"
}
