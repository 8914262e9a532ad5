// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// State is a research session state.
type State string

const (
	StatePlanning     State = "planning"
	StateSearching    State = "searching"
	StateGapChecking  State = "gap_checking"
	StateGapSearching State = "gap_searching"
	StateFactChecking State = "fact_checking"
	StateWriting      State = "writing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// stateProgress is the completed fraction of a session on entering a state.
var stateProgress = map[State]float64{
	StatePlanning:     0,
	StateSearching:    0.2,
	StateGapChecking:  0.5,
	StateGapSearching: 0.6,
	StateFactChecking: 0.75,
	StateWriting:      0.9,
	StateDone:         1,
}

// Progress returns the completed fraction on entering s. Failed has no
// fraction of its own and returns 0; its event carries the fraction of the
// state that failed.
func (s State) Progress() float64 {
	return stateProgress[s]
}

// ProgressEvent is emitted once per state transition.
type ProgressEvent struct {
	SessionID string    `json:"session_id" yaml:"session_id"`
	Seq       int       `json:"seq" yaml:"seq"`
	State     State     `json:"state" yaml:"state"`
	Progress  float64   `json:"progress" yaml:"progress"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}
