// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make
// network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// RequestsPerMinute caps requests per host. Zero disables limiting.
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// OrchestratorConfig holds settings for the research state machine.
type OrchestratorConfig struct {
	// Concurrency is the maximum number of concurrent search calls (default 3).
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	// SearchRetries is the number of retries per failing search item.
	// Zero means the default of 1; a negative value disables retries.
	SearchRetries int `json:"search_retries" yaml:"search_retries" mapstructure:"search_retries"`

	// LowConfidenceThreshold flags evidence scored below it. Zero means the
	// default of 0.2; a negative value flags nothing.
	LowConfidenceThreshold float64 `json:"low_confidence_threshold" yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold"`

	// DisableGapRound skips the optional second search round.
	DisableGapRound bool `json:"disable_gap_round" yaml:"disable_gap_round" mapstructure:"disable_gap_round"`

	// DisableFactCheck skips the fact-check stage; evidence is then scored
	// from source-type heuristics only.
	DisableFactCheck bool `json:"disable_fact_check" yaml:"disable_fact_check" mapstructure:"disable_fact_check"`
}

// DefaultOrchestratorConfig returns the defaults used when no config file is
// present. The zero value behaves the same except for Concurrency, which an
// orchestrator raises to 1.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Concurrency:            3,
		SearchRetries:          1,
		LowConfidenceThreshold: 0.2,
	}
}

// SearchConfig holds settings for the search-stage backend.
type SearchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Providers lists enabled providers: arxiv, openalex, rss, corpus.
	Providers []string `json:"providers" yaml:"providers" mapstructure:"providers"`

	// MaxResultsPerItem caps results kept per plan item (default 5).
	MaxResultsPerItem int `json:"max_results_per_item" yaml:"max_results_per_item" mapstructure:"max_results_per_item"`

	// RSSFeeds lists feed URLs for the rss provider.
	RSSFeeds []string `json:"rss_feeds" yaml:"rss_feeds" mapstructure:"rss_feeds"`

	// FetchContent downloads each result page and stores its text.
	FetchContent bool `json:"fetch_content" yaml:"fetch_content" mapstructure:"fetch_content"`

	// OpenAlexEmail is sent as the mailto parameter for polite pool access.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`
}

// ReasoningConfig holds settings for the reasoning stages (plan, gap
// analysis, fact check, write).
type ReasoningConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Backend selects the implementation: claude or heuristic.
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Model is the AI model identifier.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxRetries is the number of HTTP 429 retries for API calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// CorpusConfig holds settings for the local SQLite document corpus.
type CorpusConfig struct {
	// Dir is the directory holding the corpus database.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// MaxResults is the default maximum number of query results (default 20).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`
}

// StreamingConfig holds settings for the Redis progress-event sink.
type StreamingConfig struct {
	// RedisAddr enables the sink when non-empty (e.g. "localhost:6379").
	RedisAddr string `json:"redis_addr" yaml:"redis_addr" mapstructure:"redis_addr"`

	// StreamPrefix prefixes the per-session stream key (default "deep-research:events").
	StreamPrefix string `json:"stream_prefix" yaml:"stream_prefix" mapstructure:"stream_prefix"`
}

// MetricsConfig holds settings for the Prometheus endpoint.
type MetricsConfig struct {
	// Addr enables the /metrics listener when non-empty (e.g. ":9090").
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// EmailConfig holds SMTP settings for report delivery.
type EmailConfig struct {
	Host     string `json:"host" yaml:"host" mapstructure:"host"`
	Port     int    `json:"port" yaml:"port" mapstructure:"port"`
	From     string `json:"from" yaml:"from" mapstructure:"from"`
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
}

// Config groups all component configurations.
type Config struct {
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator" mapstructure:"orchestrator"`
	Search       SearchConfig       `json:"search" yaml:"search" mapstructure:"search"`
	Reasoning    ReasoningConfig    `json:"reasoning" yaml:"reasoning" mapstructure:"reasoning"`
	Corpus       CorpusConfig       `json:"corpus" yaml:"corpus" mapstructure:"corpus"`
	Streaming    StreamingConfig    `json:"streaming" yaml:"streaming" mapstructure:"streaming"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Email        EmailConfig        `json:"email" yaml:"email" mapstructure:"email"`
}
