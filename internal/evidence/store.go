// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package evidence holds the per-session Evidence Store: the ledger of
// issued search plan items, the search results recorded for them, and the
// credibility assessment of each result.
//
// The store is append-only. Results for a plan item are recorded exactly
// once, assessments are written once per result, and the number of issued
// plan items never exceeds the depth budget the store was created with.
// One store belongs to one research session.
package evidence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pdiddy/deep-research/pkg/types"
)

var (
	// ErrBudgetExceeded is returned when issuing items would exceed the depth budget.
	ErrBudgetExceeded = errors.New("depth budget exceeded")

	// ErrNotIssued is returned for plan item IDs that were never issued.
	ErrNotIssued = errors.New("plan item not issued")

	// ErrAlreadyRecorded is returned when a plan item already has results,
	// or a result already has an assessment.
	ErrAlreadyRecorded = errors.New("already recorded")

	// ErrUnknownResult is returned when an assessment references a result
	// that is not in the store.
	ErrUnknownResult = errors.New("unknown search result")
)

// ItemStatus is the search state of one issued plan item.
type ItemStatus int

const (
	// StatusIssued means the item is in the ledger but no search has started.
	StatusIssued ItemStatus = iota
	// StatusPending means a search is in flight and a placeholder holds its slot.
	StatusPending
	// StatusRecorded means results were recorded; the slot is final.
	StatusRecorded
	// StatusFailed means the search failed after all retries.
	StatusFailed
)

func (s ItemStatus) String() string {
	switch s {
	case StatusIssued:
		return "issued"
	case StatusPending:
		return "pending"
	case StatusRecorded:
		return "recorded"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type slot struct {
	item      types.SearchPlanItem
	seq       int
	status    ItemStatus
	resultIDs []string
	err       *types.SearchError
}

// Store is the Evidence Store for one session. It is safe for concurrent
// use; writers in the same search round touch disjoint plan items.
type Store struct {
	budget int

	mu          sync.Mutex
	order       []string
	slots       map[string]*slot
	results     map[string]types.SearchResult
	assessments map[string]types.CredibilityAssessment
}

// New creates an empty store with the given depth budget.
func New(budget int) *Store {
	return &Store{
		budget:      budget,
		slots:       make(map[string]*slot),
		results:     make(map[string]types.SearchResult),
		assessments: make(map[string]types.CredibilityAssessment),
	}
}

// Budget returns the depth budget.
func (s *Store) Budget() int { return s.budget }

// Issue adds plan items to the ledger. The batch is accepted or rejected as
// a whole: it fails with ErrBudgetExceeded if it would take the issued count
// past the budget, and with an error if an ID is empty or already issued.
func (s *Store) Issue(items ...types.SearchPlanItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order)+len(items) > s.budget {
		return fmt.Errorf("issuing %d item(s) with %d of %d used: %w",
			len(items), len(s.order), s.budget, ErrBudgetExceeded)
	}
	batch := make(map[string]bool, len(items))
	for _, it := range items {
		if it.ID == "" {
			return fmt.Errorf("plan item %q has no id", it.QueryText)
		}
		if _, ok := s.slots[it.ID]; ok || batch[it.ID] {
			return fmt.Errorf("plan item %s issued twice", it.ID)
		}
		batch[it.ID] = true
	}
	for _, it := range items {
		s.slots[it.ID] = &slot{item: it, seq: len(s.order)}
		s.order = append(s.order, it.ID)
	}
	return nil
}

// Begin marks a search for itemID as in flight. Calling Begin again for a
// pending or failed item is allowed (retries); calling it after results
// were recorded returns ErrAlreadyRecorded.
func (s *Store) Begin(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.slot(itemID)
	if err != nil {
		return err
	}
	if sl.status == StatusRecorded {
		return fmt.Errorf("plan item %s: %w", itemID, ErrAlreadyRecorded)
	}
	sl.status = StatusPending
	return nil
}

// Record stores the results of a successful search, replacing the pending
// placeholder and any earlier failure. It succeeds once per item; a second
// call returns ErrAlreadyRecorded and leaves the store unchanged. Every
// result must reference itemID and carry an ID not already in the store.
func (s *Store) Record(itemID string, results []types.SearchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.slot(itemID)
	if err != nil {
		return err
	}
	if sl.status == StatusRecorded {
		return fmt.Errorf("plan item %s: %w", itemID, ErrAlreadyRecorded)
	}
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if r.PlanItemID != itemID {
			return fmt.Errorf("result %s references plan item %q, want %s: %w", r.ID, r.PlanItemID, itemID, ErrNotIssued)
		}
		if r.ID == "" {
			return fmt.Errorf("result for plan item %s has no id", itemID)
		}
		if _, dup := s.results[r.ID]; dup || seen[r.ID] {
			return fmt.Errorf("result %s: %w", r.ID, ErrAlreadyRecorded)
		}
		seen[r.ID] = true
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		s.results[r.ID] = r
		ids = append(ids, r.ID)
	}
	sl.resultIDs = ids
	sl.status = StatusRecorded
	sl.err = nil
	return nil
}

// Fail records that the search for itemID failed after all retries. The
// item becomes unresolved. Failing an item that already has results
// returns ErrAlreadyRecorded.
func (s *Store) Fail(itemID string, searchErr *types.SearchError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, err := s.slot(itemID)
	if err != nil {
		return err
	}
	if sl.status == StatusRecorded {
		return fmt.Errorf("plan item %s: %w", itemID, ErrAlreadyRecorded)
	}
	if searchErr == nil {
		searchErr = types.NewSearchError(itemID, errors.New("unknown failure"), 0)
	}
	sl.status = StatusFailed
	sl.err = searchErr
	return nil
}

// Assess stores the credibility assessment for an existing result. Each
// result is assessed at most once.
func (s *Store) Assess(a types.CredibilityAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[a.SearchResultID]; !ok {
		return fmt.Errorf("assessing %q: %w", a.SearchResultID, ErrUnknownResult)
	}
	if _, ok := s.assessments[a.SearchResultID]; ok {
		return fmt.Errorf("assessment for %s: %w", a.SearchResultID, ErrAlreadyRecorded)
	}
	s.assessments[a.SearchResultID] = a
	return nil
}

// Status returns the search state of an issued item.
func (s *Store) Status(itemID string) (ItemStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.slot(itemID)
	if err != nil {
		return 0, err
	}
	return sl.status, nil
}

// Item returns an issued plan item.
func (s *Store) Item(itemID string) (types.SearchPlanItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[itemID]
	if !ok {
		return types.SearchPlanItem{}, false
	}
	return sl.item, true
}

// Issued returns all issued plan items in issue order.
func (s *Store) Issued() []types.SearchPlanItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SearchPlanItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.slots[id].item)
	}
	return out
}

// IssuedQueries returns the query text of every issued item in issue order.
func (s *Store) IssuedQueries() []string {
	items := s.Issued()
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.QueryText
	}
	return out
}

// Remaining returns how many more plan items may be issued.
func (s *Store) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget - len(s.order)
}

// Results returns every recorded result in priority order: by plan item
// priority, then issue order, then the order the search returned them.
func (s *Store) Results() []types.SearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.SearchResult
	for _, id := range s.priorityOrder() {
		for _, rid := range s.slots[id].resultIDs {
			out = append(out, s.results[rid])
		}
	}
	return out
}

// ResultsFor returns the results recorded for one plan item.
func (s *Store) ResultsFor(itemID string) []types.SearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[itemID]
	if !ok {
		return nil
	}
	out := make([]types.SearchResult, 0, len(sl.resultIDs))
	for _, rid := range sl.resultIDs {
		out = append(out, s.results[rid])
	}
	return out
}

// Assessment returns the assessment for a result, if one was stored.
func (s *Store) Assessment(resultID string) (types.CredibilityAssessment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[resultID]
	return a, ok
}

// Unresolved returns the search errors of failed items in priority order.
func (s *Store) Unresolved() []types.SearchError {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.SearchError
	for _, id := range s.priorityOrder() {
		if sl := s.slots[id]; sl.status == StatusFailed {
			out = append(out, *sl.err)
		}
	}
	return out
}

// Snapshot is a read-only copy of the store's contents.
type Snapshot struct {
	Budget      int
	Issued      []types.SearchPlanItem
	Results     []types.SearchResult
	Assessments map[string]types.CredibilityAssessment
	Unresolved  []types.SearchError
}

// Snapshot copies the current contents. Later writes to the store do not
// affect the returned value.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Budget:     s.budget,
		Issued:     s.Issued(),
		Results:    s.Results(),
		Unresolved: s.Unresolved(),
	}
	s.mu.Lock()
	snap.Assessments = make(map[string]types.CredibilityAssessment, len(s.assessments))
	for k, v := range s.assessments {
		snap.Assessments[k] = v
	}
	s.mu.Unlock()
	return snap
}

// Verify checks the store's invariants: the issued count is within budget,
// every result references an issued item, and every assessment references
// exactly one existing result. It returns all violations joined.
func (s *Store) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if len(s.order) > s.budget {
		errs = append(errs, fmt.Errorf("%d items issued, budget %d", len(s.order), s.budget))
	}
	owned := make(map[string]string, len(s.results))
	for _, id := range s.order {
		for _, rid := range s.slots[id].resultIDs {
			owned[rid] = id
		}
	}
	for rid, r := range s.results {
		if _, ok := s.slots[r.PlanItemID]; !ok {
			errs = append(errs, fmt.Errorf("result %s references plan item %q: %w", rid, r.PlanItemID, ErrNotIssued))
		}
		if owned[rid] != r.PlanItemID {
			errs = append(errs, fmt.Errorf("result %s is not listed under plan item %s", rid, r.PlanItemID))
		}
	}
	for rid, a := range s.assessments {
		if rid != a.SearchResultID {
			errs = append(errs, fmt.Errorf("assessment keyed %s references %s", rid, a.SearchResultID))
		}
		if _, ok := s.results[a.SearchResultID]; !ok {
			errs = append(errs, fmt.Errorf("orphaned assessment for %s: %w", a.SearchResultID, ErrUnknownResult))
		}
	}
	return errors.Join(errs...)
}

// Summary counts the store's contents.
type Summary struct {
	Issued     int
	Recorded   int
	Failed     int
	Results    int
	Assessed   int
	Unassessed int
}

// Summary returns counts of the store's contents.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{Issued: len(s.order), Results: len(s.results), Assessed: len(s.assessments)}
	for _, sl := range s.slots {
		switch sl.status {
		case StatusRecorded:
			sum.Recorded++
		case StatusFailed:
			sum.Failed++
		}
	}
	sum.Unassessed = sum.Results - sum.Assessed
	return sum
}

func (s *Store) slot(itemID string) (*slot, error) {
	sl, ok := s.slots[itemID]
	if !ok {
		return nil, fmt.Errorf("plan item %q: %w", itemID, ErrNotIssued)
	}
	return sl, nil
}

// priorityOrder returns issued IDs sorted by priority, then issue order.
// Callers hold the lock.
func (s *Store) priorityOrder() []string {
	ids := append([]string(nil), s.order...)
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := s.slots[ids[i]], s.slots[ids[j]]
		if a.item.Priority != b.item.Priority {
			return a.item.Priority < b.item.Priority
		}
		return a.seq < b.seq
	})
	return ids
}

// NormalizeQuery lowercases q and collapses runs of whitespace, for
// duplicate detection between plan items.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
