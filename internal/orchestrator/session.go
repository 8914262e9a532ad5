// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/pkg/types"
)

// eventBuffer holds every event a session can emit (at most one per state),
// so a caller that only calls Wait never stalls the session.
const eventBuffer = 8

// Session is one research run. It owns its Evidence Store; nothing else
// writes to it.
type Session struct {
	ID      string
	Request types.ResearchRequest

	store  *evidence.Store
	events chan types.ProgressEvent
	done   chan struct{}

	// Set before done is closed.
	report *types.ResearchReport
	err    error
}

func newSession(id string, req types.ResearchRequest) *Session {
	return &Session{
		ID:      id,
		Request: req,
		store:   evidence.New(req.Depth.Budget()),
		events:  make(chan types.ProgressEvent, eventBuffer),
		done:    make(chan struct{}),
	}
}

// Events returns the session's progress stream: one event per state
// transition in order, closed after the terminal event. The stream can be
// consumed once; events already received are not replayed.
func (s *Session) Events() <-chan types.ProgressEvent { return s.events }

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends and returns the report, or a
// *StageFailure. Exactly one of the two is non-nil.
func (s *Session) Wait() (*types.ResearchReport, error) {
	<-s.done
	return s.report, s.err
}

// Evidence returns the session's Evidence Store. Read it after Done to
// inspect results, assessments, and unresolved searches.
func (s *Session) Evidence() *evidence.Store { return s.store }
