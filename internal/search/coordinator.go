// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search runs a round of search plan items against the search stage
// with bounded concurrency and per-item failure isolation.
package search

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

// DefaultRetries is the number of retries per failing item.
const DefaultRetries = 1

// Outcome is the result of one plan item: either its results or the error
// recorded after all attempts failed.
type Outcome struct {
	ItemID   string
	Results  []types.SearchResult
	Err      *types.SearchError
	Attempts int
}

// OK reports whether the item's search succeeded. A search that returned no
// hits is a success.
func (o Outcome) OK() bool { return o.Err == nil }

// Summary counts the outcomes of a round.
type Summary struct {
	Succeeded int
	Failed    int
	Cancelled int
	Results   int
}

// Total returns the number of items in the round.
func (s Summary) Total() int { return s.Succeeded + s.Failed + s.Cancelled }

// Summarize counts outcomes.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch {
		case o.OK():
			s.Succeeded++
			s.Results += len(o.Results)
		case errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded):
			s.Cancelled++
		default:
			s.Failed++
		}
	}
	return s
}

// Coordinator fans plan items out to the search stage.
type Coordinator struct {
	Backend stage.Backend

	// Retries is the number of extra attempts for a failing item. Negative
	// values are treated as zero.
	Retries int

	// Language is forwarded to the search stage.
	Language types.Language

	Logger *zap.Logger

	// Now stamps FetchedAt; defaults to time.Now.
	Now func() time.Time
}

// Execute issues items against the store's budget and searches them with at
// most limit concurrent stage calls. Items are dispatched in priority order;
// the returned outcomes follow the order of items.
//
// Each successful item is recorded in the store exactly once. Each item
// that fails after all retries is recorded as a SearchError and does not
// affect its siblings. If ctx is cancelled, queued items are not started
// and report the context error.
//
// The only error Execute returns is a failure to issue the batch, for
// example when it would exceed the depth budget; nothing is searched then.
func (c *Coordinator) Execute(ctx context.Context, store *evidence.Store, items []types.SearchPlanItem, limit int) ([]Outcome, error) {
	if err := store.Issue(items...); err != nil {
		return nil, fmt.Errorf("issuing search items: %w", err)
	}
	if limit < 1 {
		limit = 1
	}
	log := c.logger()

	dispatch := make([]int, len(items))
	for i := range dispatch {
		dispatch[i] = i
	}
	sort.SliceStable(dispatch, func(a, b int) bool {
		return items[dispatch[a]].Priority < items[dispatch[b]].Priority
	})

	outcomes := make([]Outcome, len(items))
	var g errgroup.Group
	g.SetLimit(limit)

	for _, idx := range dispatch {
		idx := idx
		item := items[idx]
		if err := ctx.Err(); err != nil {
			outcomes[idx] = c.abandon(store, item, err)
			continue
		}
		g.Go(func() error {
			outcomes[idx] = c.run(ctx, store, item)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summarize(outcomes)
	log.Info("Search round complete",
		zap.Int("items", sum.Total()),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("cancelled", sum.Cancelled),
		zap.Int("results", sum.Results),
	)
	return outcomes, nil
}

// run searches one item with retries and records the outcome.
func (c *Coordinator) run(ctx context.Context, store *evidence.Store, item types.SearchPlanItem) Outcome {
	log := c.logger().With(zap.String("item", item.ID))

	if err := ctx.Err(); err != nil {
		return c.abandon(store, item, err)
	}
	if err := store.Begin(item.ID); err != nil {
		return c.fail(store, item, err, 0)
	}

	retries := max(c.Retries, 0)
	in := stage.SearchInput{Item: item, Language: c.Language}

	var lastErr error
	attempts := 0
	for attempts < retries+1 {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if attempts > 0 {
			metrics.SearchRetries.Inc()
		}
		attempts++

		out, err := stage.Search(ctx, c.Backend, in)
		if err == nil {
			results := c.toResults(item, out.Hits)
			if err := store.Record(item.ID, results); err != nil {
				// The slot was already filled; the store keeps the first results.
				log.Warn("Recording search results failed", zap.Error(err))
				return c.fail(store, item, err, attempts)
			}
			metrics.SearchItems.WithLabelValues(metrics.OutcomeSuccess).Inc()
			log.Debug("Search item recorded", zap.Int("results", len(results)), zap.Int("attempts", attempts))
			return Outcome{ItemID: item.ID, Results: results, Attempts: attempts}
		}

		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			lastErr = ctxErr
			break
		}
		log.Warn("Search attempt failed", zap.Int("attempt", attempts), zap.Error(err))
	}

	return c.fail(store, item, lastErr, attempts)
}

func (c *Coordinator) abandon(store *evidence.Store, item types.SearchPlanItem, cause error) Outcome {
	return c.fail(store, item, cause, 0)
}

func (c *Coordinator) fail(store *evidence.Store, item types.SearchPlanItem, cause error, attempts int) Outcome {
	se := types.NewSearchError(item.ID, cause, attempts)
	if err := store.Fail(item.ID, se); err != nil {
		c.logger().Debug("Search failure not recorded", zap.String("item", item.ID), zap.Error(err))
	}
	outcome := metrics.OutcomeError
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		outcome = metrics.OutcomeCancelled
	}
	metrics.SearchItems.WithLabelValues(outcome).Inc()
	return Outcome{ItemID: item.ID, Err: se, Attempts: attempts}
}

// toResults converts stage hits into immutable search results. Hits with a
// URL already seen for this item are dropped.
func (c *Coordinator) toResults(item types.SearchPlanItem, hits []stage.SearchHit) []types.SearchResult {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	fetched := now().UTC()

	seen := make(map[string]bool, len(hits))
	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		url := strings.TrimSpace(h.URL)
		if seen[url] {
			continue
		}
		seen[url] = true
		results = append(results, types.SearchResult{
			ID:         stableID(item.ID, url),
			PlanItemID: item.ID,
			SourceURL:  url,
			Title:      h.Title,
			Snippet:    h.Snippet,
			RawContent: h.Content,
			SourceType: h.SourceType,
			FetchedAt:  fetched,
		})
	}
	return results
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// stableID derives a result ID from the plan item and source URL.
// The ID is the first 12 hex characters of SHA-256(planItemID + "\x00" + url).
func stableID(planItemID, url string) string {
	h := sha256.New()
	h.Write([]byte(planItemID))
	h.Write([]byte{0})
	h.Write([]byte(url))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}
