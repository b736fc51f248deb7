// Package orchestrator resolves a recognized intent into one or more calls
// against the task backend, chaining dependent steps under retry,
// idempotency and timeout policy.
package orchestrator

import (
	"github.com/nwilkes/taskpilot/internal/apperr"
)

// ChainStatus is the overall outcome of a chain.
type ChainStatus string

// Chain outcomes.
const (
	ChainSuccess ChainStatus = "SUCCESS"
	ChainPartial ChainStatus = "PARTIAL"
	ChainFailed  ChainStatus = "FAILED"
)

// ToolCall records one tool invocation and its outcome. It round-trips
// through the persisted assistant message, so everything here must be JSON
// serializable.
type ToolCall struct {
	Tool       string           `json:"tool"`
	Parameters map[string]any   `json:"parameters,omitempty"`
	Result     any              `json:"result,omitempty"`
	Error      *apperr.Envelope `json:"error,omitempty"`
	Status     string           `json:"status"`
}

// Summary is the computed result of a task_summary chain.
type Summary struct {
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	Pending    int            `json:"pending"`
	ByPriority map[string]int `json:"by_priority"`
}

// Chain is the ordered record of an executed intent.
type Chain struct {
	Calls   []ToolCall
	Status  ChainStatus
	Summary *Summary
	// Failure is the error that terminated the chain, nil on success.
	Failure error
}

// UserContext identifies the turn a chain executes for. The idempotency key
// of every mutating call derives from it.
type UserContext struct {
	UserID         string
	ConversationID string
	MessageID      string
}
