// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- mock search backend ---

type mockSearch struct {
	mu       sync.Mutex
	calls    map[string]int
	order    []string
	failN    map[string]int // item ID -> number of leading failures
	hits     map[string][]stage.SearchHit
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newMockSearch() *mockSearch {
	return &mockSearch{
		calls: make(map[string]int),
		failN: make(map[string]int),
		hits:  make(map[string][]stage.SearchHit),
	}
}

func (m *mockSearch) Invoke(ctx context.Context, kind stage.Kind, input stage.Payload) (stage.Payload, error) {
	if kind != stage.KindSearch {
		return nil, stage.Unsupported(kind)
	}
	in := input.(*stage.SearchInput)

	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls[in.Item.ID]++
	call := m.calls[in.Item.ID]
	m.order = append(m.order, in.Item.ID)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if call <= m.failN[in.Item.ID] {
		return nil, stage.Errorf(stage.CodeTransport, "search %s failed (call %d)", in.Item.ID, call)
	}
	hits, ok := m.hits[in.Item.ID]
	if !ok {
		hits = []stage.SearchHit{{URL: "https://example.com/" + in.Item.ID, Snippet: "about " + in.Item.QueryText}}
	}
	return &stage.SearchOutput{Hits: hits}, nil
}

func (m *mockSearch) callCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

func plan(n int) []types.SearchPlanItem {
	items := make([]types.SearchPlanItem, n)
	for i := range items {
		items[i] = types.SearchPlanItem{
			ID:        fmt.Sprintf("p%d", i+1),
			QueryText: fmt.Sprintf("query %d", i+1),
			Priority:  i + 1,
			Round:     1,
		}
	}
	return items
}

func newCoordinator(b stage.Backend) *Coordinator {
	return &Coordinator{Backend: b, Retries: DefaultRetries, Logger: zap.NewNop()}
}

// --- tests ---

func TestExecuteAllSucceed(t *testing.T) {
	mock := newMockSearch()
	store := evidence.New(3)

	outcomes, err := newCoordinator(mock).Execute(context.Background(), store, plan(3), 3)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	for i, o := range outcomes {
		assert.Equal(t, fmt.Sprintf("p%d", i+1), o.ItemID, "outcomes follow input order")
		assert.True(t, o.OK())
		assert.Len(t, o.Results, 1)
		assert.Equal(t, 1, o.Attempts)
	}
	assert.Len(t, store.Results(), 3)
	assert.Equal(t, 0, store.Remaining())
	assert.NoError(t, store.Verify())
}

func TestExecuteRespectsConcurrencyLimit(t *testing.T) {
	mock := newMockSearch()
	mock.delay = 20 * time.Millisecond
	store := evidence.New(10)

	_, err := newCoordinator(mock).Execute(context.Background(), store, plan(10), 2)
	require.NoError(t, err)

	assert.LessOrEqual(t, mock.peak.Load(), int32(2))
	assert.Len(t, store.Results(), 10)
}

func TestExecuteDispatchesInPriorityOrder(t *testing.T) {
	mock := newMockSearch()
	items := plan(4)
	// Reverse the slice; priorities still say p1 first.
	items[0], items[1], items[2], items[3] = items[3], items[2], items[1], items[0]

	outcomes, err := newCoordinator(mock).Execute(context.Background(), evidence.New(4), items, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, mock.order)
	assert.Equal(t, "p4", outcomes[0].ItemID, "outcomes keep input order")
}

func TestExecuteRetrySucceedsOnce(t *testing.T) {
	mock := newMockSearch()
	mock.failN["p2"] = 1
	store := evidence.New(3)

	outcomes, err := newCoordinator(mock).Execute(context.Background(), store, plan(3), 3)
	require.NoError(t, err)

	assert.True(t, outcomes[1].OK())
	assert.Equal(t, 2, outcomes[1].Attempts)
	assert.Equal(t, 2, mock.callCount("p2"))
	assert.Len(t, store.ResultsFor("p2"), 1, "a retried success yields exactly one result set")
	assert.Empty(t, store.Unresolved())
}

func TestExecuteIsolatesFailures(t *testing.T) {
	mock := newMockSearch()
	mock.failN["p2"] = 5
	mock.failN["p4"] = 5
	store := evidence.New(5)

	outcomes, err := newCoordinator(mock).Execute(context.Background(), store, plan(5), 2)
	require.NoError(t, err)

	sum := Summarize(outcomes)
	assert.Equal(t, Summary{Succeeded: 3, Failed: 2, Results: 3}, sum)
	assert.Equal(t, 5, sum.Total())

	require.NotNil(t, outcomes[1].Err)
	assert.Equal(t, "p2", outcomes[1].Err.PlanItemID)
	assert.Equal(t, 2, outcomes[1].Err.Attempts, "one try plus one retry")

	var be *stage.BackendError
	assert.True(t, errors.As(outcomes[1].Err, &be))

	assert.Len(t, store.Results(), 3)
	unresolved := store.Unresolved()
	require.Len(t, unresolved, 2)
	assert.Equal(t, "p2", unresolved[0].PlanItemID)
	assert.Equal(t, "p4", unresolved[1].PlanItemID)
}

func TestExecuteZeroRetries(t *testing.T) {
	mock := newMockSearch()
	mock.failN["p1"] = 1
	c := newCoordinator(mock)
	c.Retries = 0

	outcomes, err := c.Execute(context.Background(), evidence.New(1), plan(1), 1)
	require.NoError(t, err)
	assert.False(t, outcomes[0].OK())
	assert.Equal(t, 1, mock.callCount("p1"))
}

func TestExecuteZeroHitsIsSuccess(t *testing.T) {
	mock := newMockSearch()
	mock.hits["p1"] = nil
	store := evidence.New(1)

	outcomes, err := newCoordinator(mock).Execute(context.Background(), store, plan(1), 1)
	require.NoError(t, err)
	assert.True(t, outcomes[0].OK())
	assert.Empty(t, outcomes[0].Results)

	st, _ := store.Status("p1")
	assert.Equal(t, evidence.StatusRecorded, st)
}

func TestExecuteDropsDuplicateURLs(t *testing.T) {
	mock := newMockSearch()
	mock.hits["p1"] = []stage.SearchHit{
		{URL: "https://a.example/x", Snippet: "one"},
		{URL: "https://a.example/x", Snippet: "two"},
		{URL: "https://b.example/y", Snippet: "three"},
	}
	outcomes, err := newCoordinator(mock).Execute(context.Background(), evidence.New(1), plan(1), 1)
	require.NoError(t, err)
	require.Len(t, outcomes[0].Results, 2)
	assert.Equal(t, "one", outcomes[0].Results[0].Snippet)
	assert.NotEqual(t, outcomes[0].Results[0].ID, outcomes[0].Results[1].ID)
}

func TestExecuteBudgetExceeded(t *testing.T) {
	mock := newMockSearch()
	store := evidence.New(2)

	_, err := newCoordinator(mock).Execute(context.Background(), store, plan(3), 3)
	require.ErrorIs(t, err, evidence.ErrBudgetExceeded)
	assert.Equal(t, 0, mock.callCount("p1"), "nothing is searched when issuing fails")
}

func TestExecuteCancelled(t *testing.T) {
	mock := newMockSearch()
	mock.delay = time.Second
	store := evidence.New(5)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcomes, err := newCoordinator(mock).Execute(ctx, store, plan(5), 2)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "in-flight calls are abandoned")

	sum := Summarize(outcomes)
	assert.Equal(t, 5, sum.Cancelled)
	for _, o := range outcomes {
		require.NotNil(t, o.Err)
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
	// Queued items were never sent to the backend.
	assert.Equal(t, 0, mock.callCount("p5"))
}

func TestStableID(t *testing.T) {
	a := stableID("p1", "https://a.example")
	assert.Len(t, a, 12)
	assert.Equal(t, a, stableID("p1", "https://a.example"))
	assert.NotEqual(t, a, stableID("p2", "https://a.example"))
}
