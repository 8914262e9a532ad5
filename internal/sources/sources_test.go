// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

// --- Mock provider ---

type mockProvider struct {
	name string
	hits []Hit
	err  error

	seen Query
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Search(_ context.Context, q Query) ([]Hit, error) {
	m.seen = q
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Hit, len(m.hits))
	copy(out, m.hits)
	return out, nil
}

func searchInput(text string) *stage.SearchInput {
	return &stage.SearchInput{
		Item:     types.SearchPlanItem{ID: "p1", QueryText: text, Priority: 1},
		Language: "en",
	}
}

func invoke(t *testing.T, s *Searcher, text string) *stage.SearchOutput {
	t.Helper()
	out, err := s.Invoke(context.Background(), stage.KindSearch, searchInput(text))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	return out.(*stage.SearchOutput)
}

// --- Searcher.Invoke ---

func TestSearcherRejectsOtherKinds(t *testing.T) {
	s := &Searcher{Providers: []Provider{&mockProvider{name: "a"}}}
	_, err := s.Invoke(context.Background(), stage.KindPlan, &stage.PlanInput{})
	if !errors.Is(err, stage.ErrUnsupportedKind) {
		t.Errorf("err = %v, want ErrUnsupportedKind", err)
	}
}

func TestSearcherNoProviders(t *testing.T) {
	_, err := (&Searcher{}).Invoke(context.Background(), stage.KindSearch, searchInput("x"))
	var be *stage.BackendError
	if !errors.As(err, &be) || be.Code != stage.CodeTransport {
		t.Errorf("err = %v, want transport BackendError", err)
	}
}

func TestSearcherContinuesAfterProviderFailure(t *testing.T) {
	good := &mockProvider{name: "good", hits: []Hit{
		{URL: "https://arxiv.org/abs/1706.03762", Title: "Attention", Score: 0.9, SourceType: types.SourceAcademic},
	}}
	bad := &mockProvider{name: "bad", err: errors.New("connection refused")}
	s := &Searcher{Providers: []Provider{bad, good}}

	out := invoke(t, s, "attention")
	if len(out.Hits) != 1 {
		t.Fatalf("len(Hits) = %d, want 1", len(out.Hits))
	}
	if out.Hits[0].SourceType != types.SourceAcademic {
		t.Errorf("SourceType = %q", out.Hits[0].SourceType)
	}
}

func TestSearcherAllProvidersFail(t *testing.T) {
	s := &Searcher{Providers: []Provider{
		&mockProvider{name: "a", err: errors.New("boom")},
		&mockProvider{name: "b", err: errors.New("bang")},
	}}
	_, err := s.Invoke(context.Background(), stage.KindSearch, searchInput("x"))
	var be *stage.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BackendError", err)
	}
	if be.Code != stage.CodeTransport {
		t.Errorf("Code = %q, want %q", be.Code, stage.CodeTransport)
	}
	if !strings.Contains(be.Error(), "a: boom") || !strings.Contains(be.Error(), "b: bang") {
		t.Errorf("error %q should name both providers", be.Error())
	}
}

func TestSearcherZeroHitsIsSuccess(t *testing.T) {
	s := &Searcher{Providers: []Provider{&mockProvider{name: "empty"}}}
	out := invoke(t, s, "nothing matches")
	if len(out.Hits) != 0 {
		t.Errorf("len(Hits) = %d, want 0", len(out.Hits))
	}
}

func TestSearcherDedupAndRank(t *testing.T) {
	a := &mockProvider{name: "a", hits: []Hit{
		{URL: "https://example.com/low", Title: "Low", Score: 0.2},
		{URL: "https://www.Example.com/high/", Title: "High", Score: 0.5},
	}}
	b := &mockProvider{name: "b", hits: []Hit{
		{URL: "https://example.com/high", Title: "High duplicate", Score: 0.9, Snippet: "longer snippet here"},
	}}
	s := &Searcher{Providers: []Provider{a, b}}

	out := invoke(t, s, "q")
	if len(out.Hits) != 2 {
		t.Fatalf("len(Hits) = %d, want 2: %+v", len(out.Hits), out.Hits)
	}
	if out.Hits[0].Title != "High" {
		t.Errorf("first hit = %q, want merged High", out.Hits[0].Title)
	}
	if out.Hits[0].Snippet != "longer snippet here" {
		t.Errorf("Snippet = %q, want merged longer snippet", out.Hits[0].Snippet)
	}
}

func TestSearcherMaxResults(t *testing.T) {
	var hits []Hit
	for i := 0; i < 12; i++ {
		hits = append(hits, Hit{URL: fmt.Sprintf("https://example.com/%d", i), Title: fmt.Sprintf("Result %d", i), Score: float64(i) / 12})
	}
	p := &mockProvider{name: "many", hits: hits}
	s := &Searcher{Providers: []Provider{p}, MaxResults: 3}

	out := invoke(t, s, "q")
	if len(out.Hits) != 3 {
		t.Fatalf("len(Hits) = %d, want 3", len(out.Hits))
	}
	if out.Hits[0].URL != "https://example.com/11" {
		t.Errorf("top hit = %q, want highest score", out.Hits[0].URL)
	}
	if p.seen.Limit != 6 {
		t.Errorf("provider Limit = %d, want twice MaxResults", p.seen.Limit)
	}
	if p.seen.Text != "q" || p.seen.Language != "en" {
		t.Errorf("provider query = %+v", p.seen)
	}
}

func TestSearcherCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Searcher{Providers: []Provider{&mockProvider{name: "a"}}}
	_, err := s.Invoke(ctx, stage.KindSearch, searchInput("x"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// --- New ---

func TestNewProviders(t *testing.T) {
	cfg := types.SearchConfig{Providers: []string{"arxiv", " OpenAlex ", "rss"}, RSSFeeds: []string{"https://example.com/feed"}, FetchContent: true}
	s, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var names []string
	for _, p := range s.Providers {
		names = append(names, p.Name())
	}
	if got := strings.Join(names, ","); got != "arxiv,openalex,rss" {
		t.Errorf("providers = %q", got)
	}
	if s.Fetcher == nil {
		t.Error("Fetcher should be set when FetchContent is on")
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  types.SearchConfig
		want string
	}{
		{"none", types.SearchConfig{}, "no search providers"},
		{"unknown", types.SearchConfig{Providers: []string{"bing"}}, "unknown search provider"},
		{"rss without feeds", types.SearchConfig{Providers: []string{"rss"}}, "no rss_feeds"},
		{"corpus not open", types.SearchConfig{Providers: []string{"corpus"}}, "no corpus is open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Options{Config: tt.cfg})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestNewUsesCorpus(t *testing.T) {
	corpus := &mockProvider{name: "corpus"}
	s, err := New(Options{Config: types.SearchConfig{Providers: []string{"corpus"}}, Corpus: corpus})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(s.Providers) != 1 || s.Providers[0] != Provider(corpus) {
		t.Errorf("Providers = %v, want the corpus", s.Providers)
	}
}

// --- helpers ---

func TestDeduplicateByTitle(t *testing.T) {
	hits := []Hit{
		{URL: "https://a.example/1", Title: "Attention Is All You Need!", Provider: "arxiv"},
		{URL: "https://b.example/2", Title: "attention is all you need", Provider: "openalex"},
		{URL: "", Title: "No URL"},
	}
	got, removed := deduplicate(hits)
	if len(got) != 1 || removed != 2 {
		t.Fatalf("deduplicate = %d hits, %d removed; want 1, 2", len(got), removed)
	}
	if got[0].Provider != "arxiv,openalex" {
		t.Errorf("Provider = %q, want both providers", got[0].Provider)
	}
}

func TestApplyRecencyBias(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	hits := []Hit{
		{Score: 0.5, Published: now.AddDate(0, -1, 0)},
		{Score: 0.5, Published: now.AddDate(-5, 0, 0)},
		{Score: 0.5},
		{Score: 0.95, Published: now},
	}
	applyRecencyBias(hits, now, recencyWindow)
	if hits[0].Score <= 0.5 {
		t.Errorf("recent hit score = %f, want boosted", hits[0].Score)
	}
	if hits[1].Score != 0.5 || hits[2].Score != 0.5 {
		t.Errorf("old or undated hits changed: %f, %f", hits[1].Score, hits[2].Score)
	}
	if hits[3].Score != 1.0 {
		t.Errorf("score = %f, want capped at 1", hits[3].Score)
	}
}

func TestPositionScore(t *testing.T) {
	if got := positionScore(0, 1); got != 1.0 {
		t.Errorf("positionScore(0,1) = %f", got)
	}
	if got := positionScore(0, 10); got != 1.0 {
		t.Errorf("positionScore(0,10) = %f", got)
	}
	if got := positionScore(9, 10); math.Abs(got-0.1) > 1e-9 {
		t.Errorf("positionScore(9,10) = %f, want 0.1", got)
	}
}

func TestNormalizeTitle(t *testing.T) {
	if got := normalizeTitle("  BERT: Pre-training   of Deep\tTransformers "); got != "bert pretraining of deep transformers" {
		t.Errorf("normalizeTitle = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("truncate = %q, want abcde...", got)
	}
}
