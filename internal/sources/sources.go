// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sources serves the search stage. A Searcher fans one plan item out
// to every configured provider (arXiv, OpenAlex, RSS feeds, the local
// corpus), merges and ranks the hits, and optionally fetches page text.
package sources

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/deep-research/internal/credibility"
	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

// DefaultMaxResults caps hits kept per plan item.
const DefaultMaxResults = 5

// recencyWindow is how far back a publication date earns a ranking boost.
const recencyWindow = 2 * 365 * 24 * time.Hour

// Query is what a provider searches for.
type Query struct {
	Text     string
	Language types.Language

	// Limit is the most hits the provider should return.
	Limit int
}

// Hit is one provider result.
type Hit struct {
	URL        string
	Title      string
	Snippet    string
	Content    string
	SourceType types.SourceType
	Published  time.Time

	// Score is the provider's relevance in [0,1].
	Score    float64
	Provider string
}

// Provider searches a single source. Each source (arXiv, OpenAlex, RSS,
// corpus) implements this interface.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Hit, error)
}

// Searcher is the search-stage backend.
type Searcher struct {
	Providers  []Provider
	MaxResults int

	// Fetcher, when set, downloads page text for hits without content.
	Fetcher *Fetcher
	Logger  *zap.Logger

	// Now anchors the recency boost; defaults to time.Now.
	Now func() time.Time
}

// Options configure New.
type Options struct {
	Config types.SearchConfig
	Logger *zap.Logger

	// Corpus is the local corpus provider, used when "corpus" is listed.
	Corpus Provider
}

// New builds a Searcher with the providers named in the configuration.
// Unknown provider names are an error.
func New(opts Options) (*Searcher, error) {
	cfg := opts.Config
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	limiter := httputil.NewHostLimiter(cfg.RequestsPerMinute)
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Searcher{MaxResults: cfg.MaxResultsPerItem, Logger: logger}
	for _, name := range cfg.Providers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "arxiv":
			s.Providers = append(s.Providers, &Arxiv{Client: client, Limiter: limiter, UserAgent: cfg.UserAgent})
		case "openalex":
			s.Providers = append(s.Providers, &OpenAlex{Client: client, Limiter: limiter, UserAgent: cfg.UserAgent, Email: cfg.OpenAlexEmail})
		case "rss":
			if len(cfg.RSSFeeds) == 0 {
				return nil, errors.New("rss provider enabled but no rss_feeds configured")
			}
			s.Providers = append(s.Providers, &RSS{Client: client, Limiter: limiter, UserAgent: cfg.UserAgent, Feeds: cfg.RSSFeeds})
		case "corpus":
			if opts.Corpus == nil {
				return nil, errors.New("corpus provider enabled but no corpus is open")
			}
			s.Providers = append(s.Providers, opts.Corpus)
		default:
			return nil, fmt.Errorf("unknown search provider %q: use arxiv, openalex, rss, or corpus", name)
		}
	}
	if len(s.Providers) == 0 {
		return nil, errors.New("no search providers configured")
	}
	if cfg.FetchContent {
		s.Fetcher = &Fetcher{Client: client, Limiter: limiter, UserAgent: cfg.UserAgent}
	}
	return s, nil
}

// Invoke runs one plan item against every provider. A provider failure is
// logged and the others still count; only when every provider fails does
// the search fail.
func (s *Searcher) Invoke(ctx context.Context, kind stage.Kind, input stage.Payload) (stage.Payload, error) {
	in, ok := input.(*stage.SearchInput)
	if kind != stage.KindSearch || !ok {
		return nil, stage.Unsupported(kind)
	}
	if len(s.Providers) == 0 {
		return nil, stage.Errorf(stage.CodeTransport, "no search providers configured")
	}

	limit := s.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	q := Query{Text: in.Item.QueryText, Language: in.Language, Limit: limit * 2}

	type providerResult struct {
		hits []Hit
		err  error
	}
	results := make([]providerResult, len(s.Providers))
	var g errgroup.Group
	for i, p := range s.Providers {
		i, p := i, p
		g.Go(func() error {
			hits, err := p.Search(ctx, q)
			for j := range hits {
				hits[j].Provider = p.Name()
			}
			results[i] = providerResult{hits: hits, err: err}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []Hit
	var failures []string
	for i, r := range results {
		name := s.Providers[i].Name()
		if r.err != nil {
			metrics.ProviderRequests.WithLabelValues(name, metrics.OutcomeError).Inc()
			failures = append(failures, fmt.Sprintf("%s: %v", name, r.err))
			s.logger().Warn("Search provider failed",
				zap.String("provider", name),
				zap.String("item", in.Item.ID),
				zap.Error(r.err),
			)
			continue
		}
		metrics.ProviderRequests.WithLabelValues(name, metrics.OutcomeSuccess).Inc()
		all = append(all, r.hits...)
	}
	if len(failures) == len(s.Providers) {
		return nil, stage.Errorf(stage.CodeTransport, "all search providers failed: %s", strings.Join(failures, "; "))
	}

	merged, removed := deduplicate(all)
	applyRecencyBias(merged, s.now(), recencyWindow)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}

	if s.Fetcher != nil {
		s.Fetcher.FillContent(ctx, merged, s.logger())
	}

	s.logger().Debug("Search item finished",
		zap.String("item", in.Item.ID),
		zap.Int("hits", len(merged)),
		zap.Int("duplicates_removed", removed),
		zap.Int("provider_failures", len(failures)),
	)

	out := &stage.SearchOutput{Hits: make([]stage.SearchHit, 0, len(merged))}
	for _, h := range merged {
		out.Hits = append(out.Hits, stage.SearchHit{
			URL:        h.URL,
			Title:      h.Title,
			Snippet:    h.Snippet,
			Content:    h.Content,
			SourceType: h.SourceType,
		})
	}
	return out, nil
}

func (s *Searcher) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Searcher) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// deduplicate merges hits that share a normalized URL or a normalized title.
// Hits without a URL are dropped.
func deduplicate(hits []Hit) ([]Hit, int) {
	seen := make(map[string]int) // dedup key → index in deduped
	var deduped []Hit
	removed := 0

	for _, h := range hits {
		if strings.TrimSpace(h.URL) == "" {
			removed++
			continue
		}
		urlKey := "url:" + credibility.URLKey(h.URL)
		if idx, ok := seen[urlKey]; ok {
			mergeInto(&deduped[idx], h)
			removed++
			continue
		}

		titleKey := "title:" + normalizeTitle(h.Title)
		if titleKey != "title:" {
			if idx, ok := seen[titleKey]; ok {
				mergeInto(&deduped[idx], h)
				removed++
				continue
			}
		}

		idx := len(deduped)
		deduped = append(deduped, h)
		seen[urlKey] = idx
		if titleKey != "title:" {
			seen[titleKey] = idx
		}
	}
	return deduped, removed
}

// mergeInto fills empty fields of dst from src and keeps the higher score.
func mergeInto(dst *Hit, src Hit) {
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if len(src.Snippet) > len(dst.Snippet) {
		dst.Snippet = src.Snippet
	}
	if dst.Content == "" {
		dst.Content = src.Content
	}
	if dst.SourceType == "" {
		dst.SourceType = src.SourceType
	}
	if dst.Published.IsZero() {
		dst.Published = src.Published
	}
	if src.Score > dst.Score {
		dst.Score = src.Score
	}
	if src.Provider != "" && !strings.Contains(dst.Provider, src.Provider) {
		dst.Provider = dst.Provider + "," + src.Provider
	}
}

// normalizeTitle returns a lowercased, punctuation-stripped version of the title.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// applyRecencyBias boosts scores for hits published within the window.
func applyRecencyBias(hits []Hit, now time.Time, window time.Duration) {
	for i := range hits {
		if hits[i].Published.IsZero() {
			continue
		}
		age := now.Sub(hits[i].Published)
		if age >= 0 && age <= window {
			boost := 0.2 * (1.0 - float64(age)/float64(window))
			hits[i].Score = math.Min(1.0, hits[i].Score+boost)
		}
	}
}

// positionScore scores the i-th of total results from 1.0 down to 0.1, for
// providers that return results already in relevance order.
func positionScore(i, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(i)/float64(total-1)*0.9
}

// truncate shortens s to at most max runes, ending with an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-3])) + "..."
}
