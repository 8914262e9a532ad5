// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gingfrederik/docx"

	"github.com/pdiddy/deep-research/pkg/types"
)

const (
	titleSize   = 20
	headingSize = 16
	metaSize    = 10
	linkColor   = "0000FF"
	mutedColor  = "808080"
)

// Docx exports a Word document. Markdown structure is flattened: headings
// become larger runs, list items become bulleted paragraphs, and emphasis
// markers are dropped.
type Docx struct{}

func (Docx) Format() string { return "docx" }

func (Docx) Export(rep *types.ResearchReport, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	f := docx.NewFile()
	f.AddParagraph().AddText(rep.Title).Size(titleSize)

	meta := fmt.Sprintf("Style: %s | Language: %s", rep.Style, rep.Language)
	if !rep.GeneratedAt.IsZero() {
		meta += " | Generated: " + rep.GeneratedAt.Format("2006-01-02 15:04 MST")
	}
	run := f.AddParagraph().AddText(meta)
	run.Size(metaSize)
	run.Color(mutedColor)

	if rep.Summary != "" {
		f.AddParagraph()
		f.AddParagraph().AddText(plain(rep.Summary))
	}
	f.AddParagraph()

	for _, block := range blocks(rep.Content) {
		switch {
		case block.heading:
			f.AddParagraph().AddText(block.text).Size(headingSize)
		case block.item:
			f.AddParagraph().AddText("• " + block.text)
		default:
			f.AddParagraph().AddText(block.text)
		}
	}

	if len(rep.Citations) > 0 && !hasHeading(rep.Content, "sources") && !hasHeading(rep.Content, "references") {
		f.AddParagraph()
		f.AddParagraph().AddText("Sources").Size(headingSize)
		for i, c := range rep.Citations {
			r := f.AddParagraph().AddText(fmt.Sprintf("[%d] %s", i+1, c))
			r.Size(metaSize)
			r.Color(linkColor)
		}
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

type block struct {
	text    string
	heading bool
	item    bool
}

// blocks splits Markdown into headings, list items, and paragraphs. Lines
// of a paragraph are joined with spaces.
func blocks(md string) []block {
	var (
		out  []block
		para []string
	)
	flush := func() {
		if len(para) > 0 {
			out = append(out, block{text: plain(strings.Join(para, " "))})
			para = nil
		}
	}
	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "#"):
			flush()
			out = append(out, block{text: plain(strings.TrimLeft(trimmed, "# ")), heading: true})
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			flush()
			out = append(out, block{text: plain(trimmed[2:]), item: true})
		default:
			para = append(para, trimmed)
		}
	}
	flush()
	return out
}

var emphasis = strings.NewReplacer("**", "", "__", "", "`", "")

func plain(s string) string {
	return strings.TrimSpace(emphasis.Replace(s))
}
