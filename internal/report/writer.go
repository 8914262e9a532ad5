// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Writer requests the final report from the writer stage.
type Writer struct {
	Backend stage.Backend
	Logger  *zap.Logger

	// Now stamps GeneratedAt; defaults to time.Now.
	Now func() time.Time
}

// Write invokes the writer stage once; there is no retry at this layer.
// Citation markers outside 1..len(citations) are logged, not rejected.
func (w *Writer) Write(ctx context.Context, sessionID string, rc types.ReportContext) (*types.ResearchReport, error) {
	out, err := stage.Write(ctx, w.Backend, stage.WriteInput{Context: rc})
	if err != nil {
		return nil, fmt.Errorf("writing report: %w", err)
	}

	if bad := ValidateMarkers(out.Content, len(rc.Citations)); len(bad) > 0 {
		w.logger().Warn("Report cites unknown sources",
			zap.String("session_id", sessionID),
			zap.Ints("markers", bad),
			zap.Int("citations", len(rc.Citations)),
		)
	}

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	title := strings.TrimSpace(out.Title)
	if title == "" {
		title = rc.Request.Query
	}
	urls := make([]string, len(rc.Citations))
	for i, c := range rc.Citations {
		urls[i] = c.SourceURL
	}

	return &types.ResearchReport{
		SessionID:         sessionID,
		Title:             title,
		Summary:           out.Summary,
		Content:           out.Content,
		Citations:         urls,
		Style:             rc.Request.Style,
		Language:          rc.Request.Language,
		KeyFindings:       out.KeyFindings,
		FollowUpQuestions: out.FollowUpQuestions,
		Unresolved:        rc.Unresolved,
		LowConfidence:     LowConfidenceCount(rc),
		GeneratedAt:       now().UTC(),
	}, nil
}

func (w *Writer) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

// markerPattern matches numeric citation markers: [3], [1, 2], [4; 7], [2-4].
var markerPattern = regexp.MustCompile(`\[(\d+(?:\s*[,;-]\s*\d+)*)\]`)

// Markers returns the distinct citation numbers referenced in text, sorted.
// Ranges such as [2-4] expand to each number in the range.
func Markers(text string) []int {
	seen := make(map[int]bool)
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || r == ';' }) {
			lo, hi, ok := parseRange(strings.TrimSpace(part))
			if !ok {
				continue
			}
			for n := lo; n <= hi && n-lo < 1000; n++ {
				seen[n] = true
			}
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// ValidateMarkers returns the citation numbers in text outside 1..n.
func ValidateMarkers(text string, n int) []int {
	var bad []int
	for _, m := range Markers(text) {
		if m < 1 || m > n {
			bad = append(bad, m)
		}
	}
	return bad
}

func parseRange(s string) (int, int, bool) {
	a, b, isRange := strings.Cut(s, "-")
	lo, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, false
	}
	if !isRange {
		return lo, lo, true
	}
	hi, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil || hi < lo {
		return 0, 0, false
	}
	return lo, hi, true
}
