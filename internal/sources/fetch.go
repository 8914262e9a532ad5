// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/deep-research/internal/httputil"
)

const (
	// maxContentRunes bounds the page text kept per hit.
	maxContentRunes = 8000
	maxPageBytes    = 2 << 20
	fetchParallel   = 4
)

// Fetcher downloads HTML pages and extracts their readable text.
type Fetcher struct {
	Client    *http.Client
	Limiter   *httputil.HostLimiter
	UserAgent string
}

// FillContent sets Content on every hit that has none. Fetch failures are
// logged at debug and leave the hit unchanged.
func (f *Fetcher) FillContent(ctx context.Context, hits []Hit, logger *zap.Logger) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallel)
	for i := range hits {
		i := i
		if hits[i].Content != "" {
			continue
		}
		g.Go(func() error {
			text, err := f.Fetch(ctx, hits[i].URL)
			if err != nil {
				logger.Debug("Page fetch failed", zap.String("url", hits[i].URL), zap.Error(err))
				return nil
			}
			hits[i].Content = text
			return nil
		})
	}
	g.Wait()
}

// Fetch returns the visible text of the page at rawURL. Non-HTML responses
// are rejected.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.Limiter.Do(ctx, f.Client, req, 0)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return "", fmt.Errorf("unsupported content type %q", ct)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("parsing page: %w", err)
	}
	return truncate(pageText(doc), maxContentRunes), nil
}

// pageText extracts paragraph-level text, preferring the article or main
// element when the page has one.
func pageText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var parts []string
	root.Find("h1, h2, h3, p, li").Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return strings.Join(strings.Fields(root.Text()), " ")
	}
	return strings.Join(parts, "\n")
}
