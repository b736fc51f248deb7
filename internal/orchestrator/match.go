package orchestrator

import (
	"strings"

	"github.com/nwilkes/taskpilot/internal/apperr"
	"github.com/nwilkes/taskpilot/internal/tasks"
)

// matchTask locates the task a free-text reference points at. The tie-break
// order is fixed policy: exact title, then case-insensitive exact, then
// unique substring. Two or more surviving candidates is ambiguous_reference;
// the orchestrator never picks one arbitrarily.
func matchTask(candidates []tasks.Task, ref string) (*tasks.Task, error) {
	if ref == "" {
		return nil, apperr.New(apperr.CodeInvalidParameter, "empty task reference")
	}

	var exact []*tasks.Task
	for i := range candidates {
		if candidates[i].Title == ref {
			exact = append(exact, &candidates[i])
		}
	}
	if len(exact) == 1 {
		return exact[0], nil
	}
	if len(exact) > 1 {
		return nil, ambiguous(ref, exact)
	}

	lowered := strings.ToLower(ref)
	var exactFold []*tasks.Task
	for i := range candidates {
		if strings.ToLower(candidates[i].Title) == lowered {
			exactFold = append(exactFold, &candidates[i])
		}
	}
	if len(exactFold) == 1 {
		return exactFold[0], nil
	}
	if len(exactFold) > 1 {
		return nil, ambiguous(ref, exactFold)
	}

	var substr []*tasks.Task
	for i := range candidates {
		if strings.Contains(strings.ToLower(candidates[i].Title), lowered) {
			substr = append(substr, &candidates[i])
		}
	}
	switch len(substr) {
	case 0:
		return nil, apperr.Newf(apperr.CodeTaskNotFound, "no task matches %q", ref)
	case 1:
		return substr[0], nil
	default:
		return nil, ambiguous(ref, substr)
	}
}

func ambiguous(ref string, matches []*tasks.Task) error {
	titles := make([]string, len(matches))
	for i, t := range matches {
		titles[i] = t.Title
	}
	return apperr.Newf(apperr.CodeAmbiguousReference, "%q matches %d tasks, please be more specific", ref, len(matches)).
		WithDetail("candidates", titles)
}

// resolvePriorTask extracts the task the previous turn acted on, for pronoun
// references like "mark it done". Walks the prior turn's calls newest-first;
// a mutation's task_id wins, then a single-element list result.
func resolvePriorTask(prior []ToolCall) (taskID string, ok bool) {
	for i := len(prior) - 1; i >= 0; i-- {
		call := prior[i]
		if call.Error != nil {
			continue
		}
		result, isMap := call.Result.(map[string]any)
		if !isMap {
			continue
		}

		if id, found := stringField(result, "task_id"); found {
			return id, true
		}

		if rawTasks, found := result["tasks"].([]any); found && len(rawTasks) == 1 {
			if only, isTask := rawTasks[0].(map[string]any); isTask {
				if id, idOK := stringField(only, "id"); idOK {
					return id, true
				}
			}
		}
	}
	return "", false
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok && v != ""
}
