// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

// OpenAlex queries the OpenAlex Works API.
type OpenAlex struct {
	Client    *http.Client
	Limiter   *httputil.HostLimiter
	UserAgent string

	// Email is sent as mailto parameter for polite pool access.
	Email string
}

// Name returns the provider identifier.
func (o *OpenAlex) Name() string { return "openalex" }

// Search queries OpenAlex and returns hits in relevance order.
func (o *OpenAlex) Search(ctx context.Context, q Query) ([]Hit, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("empty OpenAlex query")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 200 {
		limit = 200
	}

	params := url.Values{
		"search":   {text},
		"per_page": {fmt.Sprintf("%d", limit)},
		"page":     {"1"},
	}
	if lang := primaryLanguage(q.Language); lang != "" && lang != "en" {
		params.Set("filter", "language:"+lang)
	}
	if o.Email != "" {
		params.Set("mailto", o.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if o.UserAgent != "" {
		req.Header.Set("User-Agent", o.UserAgent)
	}

	resp, err := o.Limiter.Do(ctx, o.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
	}

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return nil, fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	total := len(oar.Results)
	var hits []Hit
	for i, work := range oar.Results {
		link := workURL(work)
		if link == "" {
			continue
		}
		h := Hit{
			URL:        link,
			Title:      work.Title,
			Snippet:    truncate(reconstructAbstract(work.AbstractInvertedIndex), snippetLength),
			SourceType: types.SourceAcademic,
			Score:      positionScore(i, total),
		}
		if work.PublicationDate != "" {
			if t, parseErr := time.Parse("2006-01-02", work.PublicationDate); parseErr == nil {
				h.Published = t
			}
		} else if work.PublicationYear > 0 {
			h.Published = time.Date(work.PublicationYear, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		if h.Snippet == "" && len(work.Authorships) > 0 {
			h.Snippet = "By " + authorList(work.Authorships)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// workURL prefers the DOI link, then the open-access copy, then the
// OpenAlex record.
func workURL(w openAlexWork) string {
	switch {
	case w.DOI != "":
		if strings.HasPrefix(w.DOI, "http") {
			return w.DOI
		}
		return "https://doi.org/" + w.DOI
	case w.OpenAccess.OAURL != "":
		return w.OpenAccess.OAURL
	}
	return w.ID
}

func authorList(as []openAlexAuthorship) string {
	var names []string
	for _, a := range as {
		if a.Author.DisplayName != "" {
			names = append(names, a.Author.DisplayName)
		}
	}
	if len(names) > 3 {
		return strings.Join(names[:3], ", ") + " et al."
	}
	return strings.Join(names, ", ")
}

// primaryLanguage returns the primary subtag of a locale ("zh-TW" yields "zh").
func primaryLanguage(l types.Language) string {
	s, _, _ := strings.Cut(string(l), "-")
	return strings.ToLower(s)
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to a list of positions
// where that word appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	PublicationDate       string               `json:"publication_date"`
	PublicationYear       int                  `json:"publication_year"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	OpenAccess            openAlexOpenAccess   `json:"open_access"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	DisplayName string `json:"display_name"`
}

type openAlexOpenAccess struct {
	OAURL string `json:"oa_url"`
}
