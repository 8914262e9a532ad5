// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pdiddy/deep-research/internal/sources"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Result is one corpus match.
type Result struct {
	Path       string           `json:"path" yaml:"path"`
	URL        string           `json:"url" yaml:"url"`
	Title      string           `json:"title" yaml:"title"`
	Snippet    string           `json:"snippet" yaml:"snippet"`
	Content    string           `json:"-" yaml:"-"`
	SourceType types.SourceType `json:"source_type" yaml:"source_type"`
	Published  time.Time        `json:"published,omitempty" yaml:"published,omitempty"`

	// Score is the relevance in (0,1], best first.
	Score float64 `json:"score" yaml:"score"`
}

// Search returns documents matching any query term, best first. With FTS5
// results are ranked by bm25; without it, by the number of matching terms.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = s.maxResults
	}
	if s.fts {
		return s.searchFTS(ctx, terms, limit)
	}
	return s.searchLike(ctx, terms, limit)
}

func (s *Store) searchFTS(ctx context.Context, terms []string, limit int) ([]Result, error) {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.path, d.url, d.title, d.source_type, d.published, d.content,
			snippet(documents_fts, 1, '', '', '...', 32), documents_fts.rank
		FROM documents_fts
		JOIN documents d ON d.rowid = documents_fts.rowid
		WHERE documents_fts MATCH ?
		ORDER BY documents_fts.rank
		LIMIT ?`,
		strings.Join(quoted, " OR "), limit)
	if err != nil {
		return nil, fmt.Errorf("querying corpus: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r         Result
			st        string
			published sql.NullString
			rank      float64
		)
		if err := rows.Scan(&r.Path, &r.URL, &r.Title, &st, &published, &r.Content, &r.Snippet, &rank); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.SourceType = types.SourceType(st)
		r.Published = parsePublished(published)
		r.Snippet = strings.Join(strings.Fields(r.Snippet), " ")
		// bm25 ranks are negative, more negative is better.
		r.Score = -rank
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	normalizeScores(results)
	return results, nil
}

func (s *Store) searchLike(ctx context.Context, terms []string, limit int) ([]Result, error) {
	var (
		where []string
		args  []any
	)
	for _, t := range terms {
		where = append(where, `(lower(title) LIKE ? ESCAPE '\' OR lower(content) LIKE ? ESCAPE '\')`)
		pattern := "%" + likeEscape(t) + "%"
		args = append(args, pattern, pattern)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, url, title, source_type, published, content FROM documents WHERE `+strings.Join(where, " OR "),
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying corpus: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r         Result
			st        string
			published sql.NullString
		)
		if err := rows.Scan(&r.Path, &r.URL, &r.Title, &st, &published, &r.Content); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.SourceType = types.SourceType(st)
		r.Published = parsePublished(published)
		text := strings.ToLower(r.Title + " " + r.Content)
		for _, t := range terms {
			r.Score += float64(strings.Count(text, t))
		}
		r.Snippet = excerpt(r.Content, terms)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	normalizeScores(results)
	return results, nil
}

// searchTerms lowercases the query and keeps its letter and digit runs, so
// that FTS5 operators in user text are never interpreted.
func searchTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, f := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(f)) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

// normalizeScores scales scores so the best result is 1.
func normalizeScores(results []Result) {
	best := 0.0
	for _, r := range results {
		if r.Score > best {
			best = r.Score
		}
	}
	if best <= 0 {
		for i := range results {
			results[i].Score = 1
		}
		return
	}
	for i := range results {
		results[i].Score /= best
	}
}

// excerpt returns about 200 characters of content around the first term.
func excerpt(content string, terms []string) string {
	lower := strings.ToLower(content)
	start := 0
	for _, t := range terms {
		if i := strings.Index(lower, t); i >= 0 && i <= len(content) {
			start = i
			break
		}
	}
	r := []rune(content[:start])
	from := len(r) - 60
	if from < 0 {
		from = 0
	}
	all := []rune(content)
	to := from + 200
	if to > len(all) {
		to = len(all)
	}
	out := strings.Join(strings.Fields(string(all[from:to])), " ")
	if from > 0 {
		out = "..." + out
	}
	if to < len(all) {
		out += "..."
	}
	return out
}

func parsePublished(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Provider exposes a Store as a search-stage source.
type Provider struct {
	Store *Store
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "corpus" }

// Search returns corpus documents as hits, with the full document text as
// content.
func (p *Provider) Search(ctx context.Context, q sources.Query) ([]sources.Hit, error) {
	results, err := p.Store.Search(ctx, q.Text, q.Limit)
	if err != nil {
		return nil, err
	}
	hits := make([]sources.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, sources.Hit{
			URL:        r.URL,
			Title:      r.Title,
			Snippet:    r.Snippet,
			Content:    r.Content,
			SourceType: r.SourceType,
			Published:  r.Published,
			Score:      r.Score,
		})
	}
	return hits, nil
}
