// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package credibility

import (
	"net/url"
	"strings"

	"github.com/pdiddy/deep-research/pkg/types"
)

// baseScores maps each source type to its heuristic credibility in [0,1].
// The scale is the 1-5 source rating used by fact checkers divided by five.
var baseScores = map[types.SourceType]float64{
	types.SourceOfficial: 1.0,
	types.SourceAcademic: 1.0,
	types.SourceNews:     0.8,
	types.SourceBlog:     0.5,
	types.SourceForum:    0.4,
	types.SourceUnknown:  0.2,
}

// BaseScore returns the heuristic credibility of a source type.
func BaseScore(st types.SourceType) float64 {
	if s, ok := baseScores[st]; ok {
		return s
	}
	return baseScores[types.SourceUnknown]
}

// suffixRule classifies hosts ending in, or containing, a TLD pattern.
type suffixRule struct {
	Pattern  string
	Contains bool
	Type     types.SourceType
}

// domainGroup classifies a host that equals, or is a subdomain of, one of
// the listed domains.
type domainGroup struct {
	Type    types.SourceType
	Domains []string
}

// TLD rules are checked first, then domain groups, then host and path hints.
var tldRules = []suffixRule{
	{Pattern: ".gov", Type: types.SourceOfficial},
	{Pattern: ".mil", Type: types.SourceOfficial},
	{Pattern: ".int", Type: types.SourceOfficial},
	{Pattern: ".gov.", Contains: true, Type: types.SourceOfficial},
	{Pattern: ".edu", Type: types.SourceAcademic},
	{Pattern: ".edu.", Contains: true, Type: types.SourceAcademic},
	{Pattern: ".ac.", Contains: true, Type: types.SourceAcademic},
}

var domainGroups = []domainGroup{
	{
		Type: types.SourceOfficial,
		Domains: []string{
			"europa.eu", "un.org", "worldbank.org", "imf.org", "oecd.org",
			"iea.org", "bis.org", "wto.org",
		},
	},
	{
		Type: types.SourceAcademic,
		Domains: []string{
			"arxiv.org", "doi.org", "openalex.org", "semanticscholar.org",
			"nature.com", "science.org", "sciencedirect.com", "springer.com",
			"wiley.com", "ieee.org", "acm.org", "jstor.org", "plos.org",
			"ncbi.nlm.nih.gov", "researchgate.net", "ssrn.com",
		},
	},
	{
		Type: types.SourceForum,
		Domains: []string{
			"reddit.com", "stackoverflow.com", "stackexchange.com", "quora.com",
			"news.ycombinator.com", "discourse.org",
		},
	},
	{
		Type: types.SourceNews,
		Domains: []string{
			"reuters.com", "apnews.com", "bbc.com", "bbc.co.uk", "nytimes.com",
			"wsj.com", "ft.com", "bloomberg.com", "theguardian.com", "economist.com",
			"cnn.com", "npr.org", "washingtonpost.com", "cnbc.com", "nikkei.com",
			"asia.nikkei.com", "forbes.com", "techcrunch.com", "theverge.com",
		},
	},
	{
		Type: types.SourceBlog,
		Domains: []string{
			"medium.com", "substack.com", "wordpress.com", "blogspot.com",
			"tumblr.com", "dev.to", "hashnode.dev", "ghost.io",
		},
	},
}

// Classify infers a source type from a URL.
func Classify(rawURL string) types.SourceType {
	host, err := ExtractDomain(rawURL)
	if err != nil || host == "" {
		return types.SourceUnknown
	}

	for _, r := range tldRules {
		if r.Contains && strings.Contains(host, r.Pattern) {
			return r.Type
		}
		if !r.Contains && strings.HasSuffix(host, r.Pattern) {
			return r.Type
		}
	}

	for _, g := range domainGroups {
		for _, d := range g.Domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return g.Type
			}
		}
	}

	path := ""
	if u, err := url.Parse(rawURL); err == nil {
		path = strings.ToLower(u.Path)
	}
	switch {
	case strings.HasPrefix(host, "forum.") || strings.HasPrefix(host, "forums.") ||
		strings.HasPrefix(host, "community.") || strings.Contains(path, "/forum"):
		return types.SourceForum
	case strings.HasPrefix(host, "blog.") || strings.Contains(path, "/blog"):
		return types.SourceBlog
	case strings.HasPrefix(host, "news.") || strings.Contains(path, "/news/"):
		return types.SourceNews
	}
	return types.SourceUnknown
}

// ExtractDomain returns the lowercase host from a URL, without port or a
// leading "www.".
func ExtractDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www."), nil
}

// trackingParams are dropped by NormalizeURL.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "msclkid", "ref", "source",
}

// NormalizeURL lowercases scheme and host, strips "www.", the fragment,
// tracking parameters, and a trailing slash. It is used to decide whether
// two URLs name the same source.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	parsed.Fragment = ""
	if parsed.RawQuery != "" {
		q := parsed.Query()
		for _, p := range trackingParams {
			q.Del(p)
		}
		parsed.RawQuery = q.Encode()
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return parsed.String(), nil
}

// URLKey is NormalizeURL for use as a map key: a URL that does not parse is
// its own key.
func URLKey(rawURL string) string {
	if n, err := NormalizeURL(rawURL); err == nil && n != "" {
		return n
	}
	return rawURL
}
