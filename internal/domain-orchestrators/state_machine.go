// Package orchestrators coordinates complex workflows across multiple domain services.
package orchestrators

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ScanState is one stage of a scan
type ScanState string

const (
	StateInit      ScanState = "init"
	StateCaching   ScanState = "caching"
	StateScanning  ScanState = "scanning"
	StateMerging   ScanState = "merging"
	StatePersisted ScanState = "persisted"
	StateFailed    ScanState = "failed"
	StateCanceled  ScanState = "canceled"
)

// ErrInvalidTransition is returned for a transition the table does not allow
var ErrInvalidTransition = errors.New("invalid state transition")

// allowedTransitions is the scan lifecycle.
// Failed is reachable from Caching (no usable tree) and Merging (persist failure).
var allowedTransitions = map[ScanState][]ScanState{
	StateInit:     {StateCaching, StateCanceled},
	StateCaching:  {StateScanning, StateFailed, StateCanceled},
	StateScanning: {StateMerging, StateCanceled},
	StateMerging:  {StatePersisted, StateFailed, StateCanceled},
}

// Terminal reports whether no further transition is possible
func (s ScanState) Terminal() bool {
	return s == StatePersisted || s == StateFailed || s == StateCanceled
}

// StateTransition records one state change
type StateTransition struct {
	From ScanState
	To   ScanState
	At   time.Time
}

// StateMachine tracks one scan through its lifecycle
type StateMachine struct {
	mu      sync.Mutex
	current ScanState
	history []StateTransition
	now     func() time.Time
}

// NewStateMachine creates a state machine in StateInit
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateInit, now: time.Now}
}

// Current returns the current state
func (m *StateMachine) Current() ScanState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves to the next state if the table allows it
func (m *StateMachine) Transition(to ScanState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range allowedTransitions[m.current] {
		if allowed == to {
			m.history = append(m.history, StateTransition{From: m.current, To: to, At: m.now()})
			m.current = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, to)
}

// States returns every state visited, starting with StateInit
func (m *StateMachine) States() []ScanState {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]ScanState, 0, len(m.history)+1)
	states = append(states, StateInit)
	for _, t := range m.history {
		states = append(states, t.To)
	}
	return states
}

// History returns the recorded transitions
func (m *StateMachine) History() []StateTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StateTransition(nil), m.history...)
}
