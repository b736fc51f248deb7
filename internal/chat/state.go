package chat

import (
	"fmt"
	"sync"
)

// TurnState is a stage in the turn lifecycle.
type TurnState string

// Turn lifecycle states. Responded and Rejected are terminal: every turn
// that passes the gate ends in Responded, whatever happened in between;
// Rejected is reserved for auth and rate-limit short-circuits. A turn in
// Executing can still be rejected when its first tool call is rate-limited,
// since in that case nothing actually ran.
const (
	StateReceived       TurnState = "RECEIVED"
	StateAuthenticated  TurnState = "AUTHENTICATED"
	StateContextLoaded  TurnState = "CONTEXT_LOADED"
	StateIntentResolved TurnState = "INTENT_RESOLVED"
	StateExecuting      TurnState = "EXECUTING"
	StateSuccess        TurnState = "SUCCESS"
	StatePartial        TurnState = "PARTIAL"
	StateFailed         TurnState = "FAILED"
	StatePersisted      TurnState = "PERSISTED"
	StateResponded      TurnState = "RESPONDED"
	StateRejected       TurnState = "REJECTED"
)

// turnTransitions defines the valid edges of the lifecycle.
var turnTransitions = map[TurnState][]TurnState{
	StateReceived:       {StateAuthenticated, StateRejected},
	StateAuthenticated:  {StateContextLoaded, StateRejected},
	StateContextLoaded:  {StateIntentResolved, StateFailed, StateRejected},
	StateIntentResolved: {StateExecuting, StateSuccess, StateFailed, StateRejected},
	StateExecuting:      {StateSuccess, StatePartial, StateFailed, StateRejected},
	StateSuccess:        {StatePersisted},
	StatePartial:        {StatePersisted},
	StateFailed:         {StatePersisted},
	StatePersisted:      {StateResponded},
	StateResponded:      {},
	StateRejected:       {},
}

// Turn tracks one request's progress through the lifecycle.
type Turn struct {
	mu    sync.Mutex
	state TurnState
}

// NewTurn starts a turn in the Received state.
func NewTurn() *Turn {
	return &Turn{state: StateReceived}
}

// State returns the current state.
func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves the turn to a new state if the edge is valid.
func (t *Turn) Transition(to TurnState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.state, to) {
		return fmt.Errorf("invalid turn transition from %s to %s", t.state, to)
	}
	t.state = to
	return nil
}

// CanTransition checks whether an edge exists between two states.
func CanTransition(from, to TurnState) bool {
	for _, valid := range turnTransitions[from] {
		if valid == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state has no outgoing edges.
func IsTerminal(state TurnState) bool {
	valid, ok := turnTransitions[state]
	return ok && len(valid) == 0
}
