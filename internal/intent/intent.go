// Package intent defines the structured output of the external NLU step and
// the client that produces it.
package intent

// Name identifies a recognized intent. Dispatch happens through an explicit
// table in the orchestrator, never by reflection.
type Name string

// Recognized intents.
const (
	AddTask      Name = "add_task"
	ListTasks    Name = "list_tasks"
	CompleteTask Name = "complete_task"
	DeleteTask   Name = "delete_task"
	UpdateTask   Name = "update_task"
	TaskSummary  Name = "task_summary"
	Unknown      Name = "unknown"
)

// MinConfidence is the floor below which a resolved intent is treated as
// unknown and answered with a clarification instead of tool calls.
const MinConfidence = 0.5

// Parameters are the typed slots filled by the resolver. Which fields are
// meaningful depends on the intent name.
type Parameters struct {
	// TaskID is an explicit task identifier when the user supplied one.
	TaskID string `json:"task_id,omitempty"`
	// TaskRef is a free-text reference to a task ("buy milk", "it").
	TaskRef string `json:"task_ref,omitempty"`
	// Title and Description are used by add_task and update_task.
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	// StatusFilter narrows list_tasks: all, pending or completed.
	StatusFilter string `json:"status_filter,omitempty"`
}

// Intent is the structured result of classifying one utterance.
type Intent struct {
	Name       Name       `json:"intent"`
	Parameters Parameters `json:"parameters"`
	Confidence float64    `json:"confidence"`
}

// Actionable reports whether the intent should produce tool calls.
func (i Intent) Actionable() bool {
	return i.Name != Unknown && i.Confidence >= MinConfidence
}

// IsPronounRef reports whether the task reference is a pronoun that must be
// resolved against the previous turn's results.
func (i Intent) IsPronounRef() bool {
	switch i.Parameters.TaskRef {
	case "it", "that", "this", "that one", "this one", "the task":
		return true
	default:
		return false
	}
}
