// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/pdiddy/deep-research/internal/credibility"
	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

// RSS searches a fixed list of feeds. Feeds are not queryable, so items are
// pulled and matched locally against the query's keywords.
type RSS struct {
	Client    *http.Client
	Limiter   *httputil.HostLimiter
	UserAgent string
	Feeds     []string
}

// Name returns the provider identifier.
func (r *RSS) Name() string { return "rss" }

// Search fetches every feed and returns items whose title or description
// mention at least one query keyword, best matches first. Individual feed
// failures are skipped; if every feed fails the search fails.
func (r *RSS) Search(ctx context.Context, q Query) ([]Hit, error) {
	keywords := queryKeywords(q.Text)
	if len(keywords) == 0 {
		return nil, nil
	}

	parser := gofeed.NewParser()
	var hits []Hit
	var errs []error
	for _, feedURL := range r.Feeds {
		feed, err := r.fetch(ctx, parser, feedURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("feed %s: %w", feedURL, err))
			continue
		}
		for _, it := range feed.Items {
			link := strings.TrimSpace(it.Link)
			if link == "" {
				continue
			}
			title := strings.TrimSpace(it.Title)
			desc := plainText(it.Description)
			matched := matchCount(strings.ToLower(title+" "+desc), keywords)
			if matched == 0 {
				continue
			}

			h := Hit{
				URL:        link,
				Title:      title,
				Snippet:    truncate(desc, snippetLength),
				SourceType: feedSourceType(link),
				Score:      float64(matched) / float64(len(keywords)),
			}
			if it.PublishedParsed != nil {
				h.Published = *it.PublishedParsed
			} else if it.UpdatedParsed != nil {
				h.Published = *it.UpdatedParsed
			}
			hits = append(hits, h)
		}
	}
	if len(errs) == len(r.Feeds) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Published.After(hits[j].Published)
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (r *RSS) fetch(ctx context.Context, parser *gofeed.Parser, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}
	resp, err := r.Limiter.Do(ctx, r.client(), req, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return parser.Parse(resp.Body)
}

func (r *RSS) client() *http.Client {
	if r.Client == nil {
		return &http.Client{Timeout: 15 * time.Second}
	}
	return r.Client
}

// feedSourceType classifies the item link, treating unclassified feed items
// as news.
func feedSourceType(link string) types.SourceType {
	if st := credibility.Classify(link); st != types.SourceUnknown {
		return st
	}
	return types.SourceNews
}

// queryKeywords returns the lowercase query words of three or more letters.
func queryKeywords(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, `.,;:!?"'()[]`)
		if len([]rune(w)) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func matchCount(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

// plainText strips markup from a feed description.
func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
