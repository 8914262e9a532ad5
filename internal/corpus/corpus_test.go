// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package corpus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/deep-research/internal/sources"
	"github.com/pdiddy/deep-research/pkg/types"
)

// --- test helpers ---

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(types.CorpusConfig{Dir: filepath.Join(t.TempDir(), "db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const storageNote = `---
url: https://www.iea.org/reports/grid-scale-storage
title: Grid-Scale Storage
published: 2025-03-01T00:00:00Z
---
# Ignored heading

Battery storage capacity additions doubled in 2024, led by China and the United States.
`

const heatPumpNote = `# Heat pumps in cold climates

Modern cold-climate heat pumps keep a coefficient of performance above 2 at -15C.
`

func ingest(t *testing.T, s *Store, dir string) (IngestSummary, string) {
	t.Helper()
	var buf strings.Builder
	sum, err := s.Ingest(context.Background(), dir, &buf)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return sum, buf.String()
}

// --- Ingest ---

func TestIngestIndexesMarkdownAndText(t *testing.T) {
	s := testStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "storage.md", storageNote)
	writeFile(t, dir, "notes/heat-pumps.txt", heatPumpNote)
	writeFile(t, dir, "image.png", "not text")
	writeFile(t, dir, ".hidden/secret.md", "# Hidden\n\nbattery")

	sum, out := ingest(t, s, dir)
	if sum.Indexed != 2 || sum.Failed != 0 || sum.Total() != 2 {
		t.Errorf("summary = %+v, want 2 indexed", sum)
	}
	if !strings.Contains(out, "indexed storage.md") {
		t.Errorf("output missing progress line:\n%s", out)
	}

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 2 {
		t.Errorf("Documents = %d, want 2", st.Documents)
	}
	if st.BySource[types.SourceOfficial] != 1 || st.BySource[types.SourceUnknown] != 1 {
		t.Errorf("BySource = %v", st.BySource)
	}
}

func TestIngestIsIncremental(t *testing.T) {
	s := testStore(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "storage.md", storageNote)
	writeFile(t, dir, "heat.md", heatPumpNote)
	ingest(t, s, dir)

	sum, _ := ingest(t, s, dir)
	if sum.Skipped != 2 || sum.Indexed != 0 || sum.Updated != 0 {
		t.Errorf("second run = %+v, want 2 skipped", sum)
	}

	writeFile(t, dir, "storage.md", strings.Replace(storageNote, "doubled", "tripled", 1))
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	sum, _ = ingest(t, s, dir)
	if sum.Updated != 1 || sum.Skipped != 1 {
		t.Errorf("after edit = %+v, want 1 updated 1 skipped", sum)
	}
	results, err := s.Search(context.Background(), "tripled", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("search after update = %d results, want 1", len(results))
	}
}

func TestIngestRemovesDeletedFiles(t *testing.T) {
	s := testStore(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "heat.md", heatPumpNote)
	writeFile(t, dir, "storage.md", storageNote)
	ingest(t, s, dir)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	sum, _ := ingest(t, s, dir)
	if sum.Removed != 1 {
		t.Errorf("Removed = %d, want 1", sum.Removed)
	}
	results, _ := s.Search(context.Background(), "heat pumps", 5)
	if len(results) != 0 {
		t.Errorf("deleted document still found: %+v", results)
	}
}

func TestIngestCountsBadFiles(t *testing.T) {
	s := testStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "empty.md", "   \n")
	writeFile(t, dir, "bad.md", "---\ntitle: [unclosed\n---\nbody\n")
	writeFile(t, dir, "ok.md", heatPumpNote)

	sum, out := ingest(t, s, dir)
	if sum.Failed != 2 || sum.Indexed != 1 {
		t.Errorf("summary = %+v, want 2 failed 1 indexed", sum)
	}
	if !strings.Contains(out, "failed  empty.md") {
		t.Errorf("output:\n%s", out)
	}
}

func TestIngestMissingDir(t *testing.T) {
	s := testStore(t)
	if _, err := s.Ingest(context.Background(), filepath.Join(t.TempDir(), "nope"), &strings.Builder{}); err == nil {
		t.Error("expected error for missing directory")
	}
}

// --- Search ---

func TestSearchRanksAndMapsFields(t *testing.T) {
	s := testStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "storage.md", storageNote)
	writeFile(t, dir, "heat.md", heatPumpNote)
	ingest(t, s, dir)

	results, err := s.Search(context.Background(), "battery storage", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	r := results[0]
	if r.URL != "https://www.iea.org/reports/grid-scale-storage" {
		t.Errorf("URL = %q", r.URL)
	}
	if r.Title != "Grid-Scale Storage" {
		t.Errorf("Title = %q, want front matter title", r.Title)
	}
	if r.SourceType != types.SourceOfficial {
		t.Errorf("SourceType = %q", r.SourceType)
	}
	if r.Published.Year() != 2025 {
		t.Errorf("Published = %v", r.Published)
	}
	if r.Score != 1 {
		t.Errorf("Score = %f, want 1 for best result", r.Score)
	}
	if !strings.Contains(r.Snippet, "doubled") {
		t.Errorf("Snippet = %q", r.Snippet)
	}
}

func TestSearchIgnoresOperators(t *testing.T) {
	s := testStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "heat.md", heatPumpNote)
	ingest(t, s, dir)

	results, err := s.Search(context.Background(), `heat AND "pumps" NEAR(-`, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Heat pumps in cold climates" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	s := testStore(t)
	results, err := s.Search(context.Background(), " ? ", 5)
	if err != nil || results != nil {
		t.Errorf("Search(blank) = %v, %v", results, err)
	}
}

func TestProvider(t *testing.T) {
	s := testStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "heat.md", heatPumpNote)
	ingest(t, s, dir)

	var p sources.Provider = &Provider{Store: s}
	if p.Name() != "corpus" {
		t.Errorf("Name = %q", p.Name())
	}
	hits, err := p.Search(context.Background(), sources.Query{Text: "cold climate heat pump", Limit: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want 1", len(hits))
	}
	if !strings.HasPrefix(hits[0].URL, "file://") {
		t.Errorf("URL = %q, want file link", hits[0].URL)
	}
	if !strings.Contains(hits[0].Content, "coefficient of performance") {
		t.Errorf("Content = %q, want full text", hits[0].Content)
	}
}

// --- helpers ---

func TestSplitFrontMatter(t *testing.T) {
	fm, body, err := splitFrontMatter([]byte("---\nurl: https://x.example\nsource_type: Blog\n---\nhello\n"))
	if err != nil {
		t.Fatal(err)
	}
	if fm.URL != "https://x.example" || string(body) != "hello\n" {
		t.Errorf("fm = %+v, body = %q", fm, body)
	}
	if got := sourceType(fm.SourceType, fm.URL); got != types.SourceBlog {
		t.Errorf("sourceType = %q, want blog", got)
	}

	_, body, _ = splitFrontMatter([]byte("no header"))
	if string(body) != "no header" {
		t.Errorf("body = %q", body)
	}
}

func TestSearchTerms(t *testing.T) {
	got := strings.Join(searchTerms(`EU "AI Act" OR a-b AI`), ",")
	if got != "eu,ai,act,or" {
		t.Errorf("searchTerms = %q", got)
	}
}

func TestExcerpt(t *testing.T) {
	content := strings.Repeat("filler ", 30) + "needle here" + strings.Repeat(" tail", 60)
	got := excerpt(content, []string{"needle"})
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") || !strings.Contains(got, "needle") {
		t.Errorf("excerpt = %q", got)
	}
}
