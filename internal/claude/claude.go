// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package claude implements the reasoning stages (plan, gap analysis, fact
// check, write) on the Claude Messages API. Each stage renders its own
// prompt, asks for a JSON object, and decodes the reply into the stage's
// output payload.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

const (
	anthropicVersion = "2023-06-01"
	defaultModel     = "claude-sonnet-4-5"
	defaultTimeout   = 120 * time.Second
)

// maxTokens per stage; the writer needs room for a full report.
var maxTokens = map[stage.Kind]int{
	stage.KindPlan:       2048,
	stage.KindGapAnalyze: 2048,
	stage.KindFactCheck:  4096,
	stage.KindWrite:      8192,
}

// Backend calls the Claude API for every reasoning stage.
type Backend struct {
	APIKey     string
	Model      string
	Client     *http.Client
	MaxRetries int

	// Limiter paces calls to the API host; nil means no pacing.
	Limiter *httputil.HostLimiter
	Logger  *zap.Logger
}

// New builds a Backend from the reasoning configuration.
func New(cfg types.ReasoningConfig, logger *zap.Logger) *Backend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		APIKey:     cfg.APIKey,
		Model:      model,
		Client:     &http.Client{Timeout: timeout},
		MaxRetries: cfg.MaxRetries,
		Limiter:    httputil.NewHostLimiter(cfg.RequestsPerMinute),
		Logger:     logger,
	}
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

// claudeMessage is a single message in the Claude API conversation.
type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response body from the Claude Messages API.
type claudeResponse struct {
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
}

// claudeContent is a content block in the Claude API response.
type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Invoke renders the stage prompt, calls the API, and decodes the reply.
// The search stage is not served.
func (b *Backend) Invoke(ctx context.Context, kind stage.Kind, input stage.Payload) (stage.Payload, error) {
	if kind == stage.KindSearch {
		return nil, stage.Unsupported(kind)
	}
	prompt, err := renderPrompt(input)
	if err != nil {
		return nil, fmt.Errorf("rendering %s prompt: %w", kind, err)
	}

	text, err := b.complete(ctx, kind, prompt)
	if err != nil {
		return nil, err
	}

	out, err := stage.NewOutput(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), out); err != nil {
		return nil, stage.Errorf(stage.CodeInvalidOutput, "parsing %s response JSON: %v", kind, err)
	}
	return out, nil
}

// complete sends one user message and returns the first text block.
func (b *Backend) complete(ctx context.Context, kind stage.Kind, prompt string) (string, error) {
	model := b.Model
	if model == "" {
		model = defaultModel
	}
	bodyBytes, err := json.Marshal(claudeRequest{
		Model:     model,
		MaxTokens: maxTokens[kind],
		Messages:  []claudeMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", b.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	resp, err := b.Limiter.Do(ctx, b.Client, req, b.MaxRetries)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", stage.Errorf(stage.CodeTransport, "calling Claude API: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		code := stage.CodeTransport
		if resp.StatusCode == http.StatusTooManyRequests {
			code = stage.CodeRateLimited
		}
		return "", stage.Errorf(code, "Claude API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return "", stage.Errorf(stage.CodeTransport, "decoding Claude response: %v", err)
	}
	b.logger().Debug("Claude call finished",
		zap.String("kind", string(kind)),
		zap.String("model", model),
		zap.String("stop_reason", cResp.StopReason),
		zap.Duration("elapsed", time.Since(start)),
	)

	for _, block := range cResp.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return block.Text, nil
		}
	}
	return "", stage.Errorf(stage.CodeModel, "no text content in Claude API response")
}

func (b *Backend) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

// extractJSON trims Markdown code fences and any prose around the outermost
// JSON object.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
