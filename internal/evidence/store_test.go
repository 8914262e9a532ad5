// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evidence

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/pkg/types"
)

func item(id string, priority int) types.SearchPlanItem {
	return types.SearchPlanItem{ID: id, QueryText: "query " + id, Priority: priority, Round: 1}
}

func result(itemID, id, url string) types.SearchResult {
	return types.SearchResult{ID: id, PlanItemID: itemID, SourceURL: url, Snippet: "s"}
}

func TestIssueEnforcesBudget(t *testing.T) {
	s := New(3)
	require.NoError(t, s.Issue(item("p1", 1), item("p2", 2)))
	assert.Equal(t, 1, s.Remaining())

	err := s.Issue(item("p3", 3), item("p4", 4))
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, 1, s.Remaining(), "rejected batch must not be partially issued")

	require.NoError(t, s.Issue(item("p3", 3)))
	assert.Equal(t, 0, s.Remaining())
	assert.ErrorIs(t, s.Issue(item("g1", 4)), ErrBudgetExceeded)
}

func TestIssueRejectsDuplicateAndEmptyIDs(t *testing.T) {
	s := New(5)
	require.NoError(t, s.Issue(item("p1", 1)))
	assert.Error(t, s.Issue(item("p1", 2)))
	assert.Error(t, s.Issue(item("p2", 2), item("p2", 3)))
	assert.Error(t, s.Issue(types.SearchPlanItem{QueryText: "no id"}))
	assert.Equal(t, 4, s.Remaining())
}

func TestRecordExactlyOnce(t *testing.T) {
	s := New(3)
	require.NoError(t, s.Issue(item("p1", 1)))
	require.NoError(t, s.Begin("p1"))

	st, _ := s.Status("p1")
	assert.Equal(t, StatusPending, st)

	require.NoError(t, s.Record("p1", []types.SearchResult{result("p1", "r1", "https://a.example")}))
	err := s.Record("p1", []types.SearchResult{result("p1", "r2", "https://b.example")})
	require.ErrorIs(t, err, ErrAlreadyRecorded)

	assert.Len(t, s.ResultsFor("p1"), 1)
	assert.ErrorIs(t, s.Begin("p1"), ErrAlreadyRecorded)
	assert.ErrorIs(t, s.Fail("p1", nil), ErrAlreadyRecorded)
}

func TestRetriedSuccessReplacesFailure(t *testing.T) {
	s := New(3)
	require.NoError(t, s.Issue(item("p1", 1)))
	require.NoError(t, s.Begin("p1"))
	require.NoError(t, s.Fail("p1", types.NewSearchError("p1", errors.New("timeout"), 1)))
	require.Len(t, s.Unresolved(), 1)

	require.NoError(t, s.Begin("p1"))
	require.NoError(t, s.Record("p1", []types.SearchResult{result("p1", "r1", "https://a.example")}))

	assert.Empty(t, s.Unresolved())
	assert.Len(t, s.Results(), 1)
}

func TestRecordRejectsForeignResults(t *testing.T) {
	s := New(3)
	require.NoError(t, s.Issue(item("p1", 1), item("p2", 2)))

	err := s.Record("p1", []types.SearchResult{result("p2", "r1", "https://a.example")})
	assert.ErrorIs(t, err, ErrNotIssued)

	err = s.Record("p9", nil)
	assert.ErrorIs(t, err, ErrNotIssued)

	require.NoError(t, s.Record("p1", []types.SearchResult{result("p1", "r1", "https://a.example")}))
	err = s.Record("p2", []types.SearchResult{result("p2", "r1", "https://b.example")})
	assert.ErrorIs(t, err, ErrAlreadyRecorded, "result IDs are unique across items")
}

func TestAssessRequiresExistingResult(t *testing.T) {
	s := New(3)
	require.NoError(t, s.Issue(item("p1", 1)))
	require.NoError(t, s.Record("p1", []types.SearchResult{result("p1", "r1", "https://a.example")}))

	assert.ErrorIs(t, s.Assess(types.CredibilityAssessment{SearchResultID: "nope"}), ErrUnknownResult)
	require.NoError(t, s.Assess(types.CredibilityAssessment{SearchResultID: "r1", Score: 0.7}))
	assert.ErrorIs(t, s.Assess(types.CredibilityAssessment{SearchResultID: "r1", Score: 0.1}), ErrAlreadyRecorded)

	a, ok := s.Assessment("r1")
	require.True(t, ok)
	assert.InDelta(t, 0.7, a.Score, 1e-9, "first assessment is never overwritten")
}

func TestResultsPriorityOrder(t *testing.T) {
	s := New(5)
	// Issue order differs from priority order; g1 ties with p2 and was issued later.
	require.NoError(t, s.Issue(item("p2", 2), item("p1", 1)))
	require.NoError(t, s.Issue(types.SearchPlanItem{ID: "g1", QueryText: "gap", Priority: 2, Round: 2}))

	// Record in an arbitrary arrival order.
	require.NoError(t, s.Record("g1", []types.SearchResult{result("g1", "g1-a", "https://g.example")}))
	require.NoError(t, s.Record("p2", []types.SearchResult{
		result("p2", "p2-a", "https://p2a.example"),
		result("p2", "p2-b", "https://p2b.example"),
	}))
	require.NoError(t, s.Record("p1", []types.SearchResult{result("p1", "p1-a", "https://p1.example")}))

	var got []string
	for _, r := range s.Results() {
		got = append(got, r.ID)
	}
	want := []string{"p1-a", "p2-a", "p2-b", "g1-a"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Results() order mismatch (-want +got):\n%s", diff)
	}
}

func TestIssuedQueriesAndSnapshotIsolation(t *testing.T) {
	s := New(3)
	require.NoError(t, s.Issue(item("p1", 1)))
	require.NoError(t, s.Record("p1", []types.SearchResult{result("p1", "r1", "https://a.example")}))

	snap := s.Snapshot()
	require.NoError(t, s.Assess(types.CredibilityAssessment{SearchResultID: "r1"}))
	require.NoError(t, s.Issue(item("p2", 2)))

	assert.Empty(t, snap.Assessments)
	assert.Len(t, snap.Issued, 1)
	assert.Equal(t, []string{"query p1", "query p2"}, s.IssuedQueries())
}

func TestVerifyCleanStore(t *testing.T) {
	s := New(3)
	require.NoError(t, s.Issue(item("p1", 1), item("p2", 2)))
	require.NoError(t, s.Record("p1", []types.SearchResult{result("p1", "r1", "https://a.example")}))
	require.NoError(t, s.Fail("p2", types.NewSearchError("p2", errors.New("boom"), 2)))
	require.NoError(t, s.Assess(types.CredibilityAssessment{SearchResultID: "r1"}))

	assert.NoError(t, s.Verify())

	sum := s.Summary()
	assert.Equal(t, Summary{Issued: 2, Recorded: 1, Failed: 1, Results: 1, Assessed: 1}, sum)
}

func TestVerifyDetectsOrphans(t *testing.T) {
	s := New(3)
	require.NoError(t, s.Issue(item("p1", 1)))
	// Corrupt the store directly to prove Verify reports it.
	s.assessments["ghost"] = types.CredibilityAssessment{SearchResultID: "ghost"}

	err := s.Verify()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownResult)
}

func TestConcurrentRecordDisjointItems(t *testing.T) {
	const n = 10
	s := New(n)
	for i := 0; i < n; i++ {
		require.NoError(t, s.Issue(item(fmt.Sprintf("p%d", i), i+1)))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			_ = s.Begin(id)
			_ = s.Record(id, []types.SearchResult{result(id, id+"-r", "https://x.example/"+id)})
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.Results(), n)
	assert.NoError(t, s.Verify())
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Solid State  Batteries", "solid state batteries"},
		{"  solid\tstate\nbatteries ", "solid state batteries"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeQuery(tt.in); got != tt.want {
			t.Errorf("NormalizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
