// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export writes a finished research report to disk as Markdown,
// JSON, YAML, or a Word document. The format is picked from the file
// extension.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/pkg/types"
)

// Exporter writes a report to path.
type Exporter interface {
	Format() string
	Export(rep *types.ResearchReport, path string) error
}

// ForPath returns the exporter for the extension of path.
func ForPath(path string) (Exporter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return Markdown{}, nil
	case ".json":
		return JSON{}, nil
	case ".yaml", ".yml":
		return YAML{}, nil
	case ".docx":
		return Docx{}, nil
	case "":
		return nil, fmt.Errorf("export path %q has no extension: use .md, .json, .yaml, or .docx", path)
	}
	return nil, fmt.Errorf("unsupported export format %q: use .md, .json, .yaml, or .docx", filepath.Ext(path))
}

// Markdown exports the rendered report text.
type Markdown struct{}

func (Markdown) Format() string { return "markdown" }

func (Markdown) Export(rep *types.ResearchReport, path string) error {
	return writeFile(path, []byte(RenderMarkdown(rep)))
}

// JSON exports the report structure, indented.
type JSON struct{}

func (JSON) Format() string { return "json" }

func (JSON) Export(rep *types.ResearchReport, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// YAML exports the report structure.
type YAML struct{}

func (YAML) Format() string { return "yaml" }

func (YAML) Export(rep *types.ResearchReport, path string) error {
	data, err := yaml.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// RenderMarkdown renders the report as a Markdown document: title, summary,
// the report body, then the key findings, follow-up questions, and failed
// searches. A numbered source list is appended unless the body already has
// one.
func RenderMarkdown(rep *types.ResearchReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rep.Title)
	if rep.Summary != "" {
		fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(strings.TrimSpace(rep.Summary), "\n", "\n> "))
	}
	b.WriteString(strings.TrimSpace(rep.Content))
	b.WriteString("\n")

	if len(rep.KeyFindings) > 0 && !hasHeading(rep.Content, "key findings") {
		b.WriteString("\n## Key Findings\n\n")
		for _, f := range rep.KeyFindings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(rep.FollowUpQuestions) > 0 {
		b.WriteString("\n## Follow-up Questions\n\n")
		for _, q := range rep.FollowUpQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	if len(rep.Unresolved) > 0 {
		b.WriteString("\n## Searches That Failed\n\n")
		for _, u := range rep.Unresolved {
			fmt.Fprintf(&b, "- %s: %s (after %d attempts)\n", u.PlanItemID, u.Message, u.Attempts)
		}
	}
	if len(rep.Citations) > 0 && !hasHeading(rep.Content, "sources") && !hasHeading(rep.Content, "references") {
		b.WriteString("\n## Sources\n\n")
		for i, c := range rep.Citations {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
		}
	}
	if rep.LowConfidence > 0 {
		fmt.Fprintf(&b, "\n_%d source(s) were rated low confidence._\n", rep.LowConfidence)
	}
	return b.String()
}

// hasHeading reports whether text has a Markdown heading whose text is name,
// ignoring case.
func hasHeading(text, name string) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(strings.TrimLeft(line, "#")), name) {
			return true
		}
	}
	return false
}
