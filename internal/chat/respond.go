package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nwilkes/taskpilot/internal/apperr"
	"github.com/nwilkes/taskpilot/internal/intent"
	"github.com/nwilkes/taskpilot/internal/orchestrator"
	"github.com/nwilkes/taskpilot/internal/tasks"
)

// Responder turns a chain outcome into the reply text. The production
// deployment can swap in a richer generator; the pipeline only depends on
// this interface.
type Responder interface {
	Respond(in intent.Intent, chain *orchestrator.Chain) string
}

// TemplateResponder assembles plain-text replies from the chain outcome.
type TemplateResponder struct{}

// NewTemplateResponder creates the default responder.
func NewTemplateResponder() *TemplateResponder {
	return &TemplateResponder{}
}

// clarification is the reply for unrecognized or low-confidence intents.
const clarification = "I'm not sure what you'd like me to do. You can ask me to add, list, " +
	"complete, update or delete tasks, or ask for a summary."

// errorReplies maps failure codes to user-facing phrasing.
var errorReplies = map[apperr.Code]string{
	apperr.CodeRateLimited:        "You're sending requests a little too quickly. Please wait a moment and try again.",
	apperr.CodeUnavailable:        "The task service is having trouble right now. Please try again shortly.",
	apperr.CodeDatabaseError:      "Something went wrong talking to the task service. Please try again.",
	apperr.CodeTimeout:            "That took longer than expected and was cut short. Please try again.",
	apperr.CodeTaskNotFound:       "I couldn't find a task matching that.",
	apperr.CodeInvalidParameter:   "I couldn't act on that: some required detail was missing.",
	apperr.CodeCompositionError:   "I couldn't carry that request through. Please try rephrasing it.",
	apperr.CodeInvalidState:       "That task isn't in a state where I can do that.",
	apperr.CodeConflict:           "Your conversation was updated by another request. Please try again.",
	apperr.CodeAmbiguousReference: "More than one task matches that. Please tell me which one you mean.",
}

// Respond builds the reply text.
func (r *TemplateResponder) Respond(in intent.Intent, chain *orchestrator.Chain) string {
	if chain == nil || !in.Actionable() {
		return clarification
	}

	switch chain.Status {
	case orchestrator.ChainSuccess:
		return r.success(in, chain)
	case orchestrator.ChainPartial:
		return "I got partway through: " + r.progress(chain) + " " + r.failure(chain.Failure)
	default:
		// A successful lookup before the failure is worth reporting; the
		// user should never get a single opaque failure for a half-done
		// chain.
		if len(chain.Calls) > 1 && chain.Calls[0].Error == nil {
			return "I found your tasks but couldn't finish: " + r.failure(chain.Failure)
		}
		return r.failure(chain.Failure)
	}
}

func (r *TemplateResponder) success(in intent.Intent, chain *orchestrator.Chain) string {
	if chain.Summary != nil {
		s := chain.Summary
		var b strings.Builder
		fmt.Fprintf(&b, "You have %d tasks: %d completed, %d pending.", s.Total, s.Completed, s.Pending)
		for _, priority := range []string{"high", "medium", "low"} {
			if n := s.ByPriority[priority]; n > 0 {
				fmt.Fprintf(&b, " %d %s priority.", n, priority)
			}
		}
		return b.String()
	}

	switch in.Name {
	case intent.AddTask:
		return fmt.Sprintf("Added task: %s.", in.Parameters.Title)
	case intent.ListTasks:
		return r.listReply(chain)
	case intent.CompleteTask:
		return fmt.Sprintf("Done. Marked %s as completed.", r.subject(in))
	case intent.DeleteTask:
		return fmt.Sprintf("Deleted %s.", r.subject(in))
	case intent.UpdateTask:
		return fmt.Sprintf("Updated %s.", r.subject(in))
	default:
		return "Done."
	}
}

func (r *TemplateResponder) subject(in intent.Intent) string {
	if ref := in.Parameters.TaskRef; ref != "" && !in.IsPronounRef() {
		return fmt.Sprintf("%q", ref)
	}
	if in.Parameters.TaskID != "" {
		return "task " + in.Parameters.TaskID
	}
	return "the task"
}

func (r *TemplateResponder) listReply(chain *orchestrator.Chain) string {
	for _, call := range chain.Calls {
		list, ok := call.Result.(*tasks.ListResult)
		if !ok {
			continue
		}
		if len(list.Tasks) == 0 {
			return "You have no tasks."
		}
		var b strings.Builder
		fmt.Fprintf(&b, "You have %d tasks:\n", len(list.Tasks))
		for i, task := range list.Tasks {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, task.Title, task.Status)
		}
		return strings.TrimRight(b.String(), "\n")
	}
	return "You have no tasks."
}

func (r *TemplateResponder) progress(chain *orchestrator.Chain) string {
	completed := 0
	for _, call := range chain.Calls {
		if call.Error == nil {
			completed++
		}
	}
	return fmt.Sprintf("%d of %d steps finished.", completed, len(chain.Calls))
}

func (r *TemplateResponder) failure(err error) string {
	if err == nil {
		return errorReplies[apperr.CodeDatabaseError]
	}
	if reply, ok := errorReplies[apperr.CodeOf(err)]; ok {
		// Ambiguity carries its candidates; surface them.
		var appErr *apperr.Error
		if apperr.CodeOf(err) == apperr.CodeAmbiguousReference && asAppError(err, &appErr) {
			if titles, ok := appErr.Details["candidates"].([]string); ok && len(titles) > 0 {
				return reply + " Candidates: " + strings.Join(titles, ", ") + "."
			}
		}
		return reply
	}
	return errorReplies[apperr.CodeDatabaseError]
}

func asAppError(err error, target **apperr.Error) bool {
	return errors.As(err, target)
}
