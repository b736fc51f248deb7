package orchestrator

import (
	"context"
	"strings"

	"github.com/nwilkes/taskpilot/internal/apperr"
	"github.com/nwilkes/taskpilot/internal/intent"
	"github.com/nwilkes/taskpilot/internal/tasks"
)

// runAddTask is the single-step create chain.
func (o *Orchestrator) runAddTask(ctx context.Context, userCtx UserContext, in intent.Intent, _ []ToolCall, chain *Chain) error {
	title := strings.TrimSpace(in.Parameters.Title)
	if title == "" {
		return apperr.New(apperr.CodeInvalidParameter, "add_task requires a title")
	}

	params := map[string]any{"title": title}
	if in.Parameters.Description != "" {
		params["description"] = in.Parameters.Description
	}
	key := idempotencyKey(userCtx, tasks.ToolAddTask, params)

	result, err := o.invoke(ctx, userCtx, tasks.ToolAddTask, params, func(ctx context.Context) (any, error) {
		return o.backend.AddTask(ctx, userCtx.UserID, title, in.Parameters.Description, key)
	})
	o.record(chain, tasks.ToolAddTask, params, result, err)
	return err
}

// runListTasks is the single-step list chain.
func (o *Orchestrator) runListTasks(ctx context.Context, userCtx UserContext, in intent.Intent, _ []ToolCall, chain *Chain) error {
	_, err := o.listTasks(ctx, userCtx, in.Parameters.StatusFilter, chain)
	return err
}

// runFindAndComplete is the FIND_AND_COMPLETE chain.
func (o *Orchestrator) runFindAndComplete(ctx context.Context, userCtx UserContext, in intent.Intent, prior []ToolCall, chain *Chain) error {
	return o.findAndMutate(ctx, userCtx, in, prior, chain, tasks.ToolCompleteTask,
		func(ctx context.Context, taskID, key string) (any, error) {
			return o.backend.CompleteTask(ctx, userCtx.UserID, taskID, key)
		})
}

// runFindAndDelete is the FIND_AND_DELETE chain.
func (o *Orchestrator) runFindAndDelete(ctx context.Context, userCtx UserContext, in intent.Intent, prior []ToolCall, chain *Chain) error {
	return o.findAndMutate(ctx, userCtx, in, prior, chain, tasks.ToolDeleteTask,
		func(ctx context.Context, taskID, key string) (any, error) {
			return o.backend.DeleteTask(ctx, userCtx.UserID, taskID, key)
		})
}

// runFindAndUpdate is the FIND_AND_UPDATE chain.
func (o *Orchestrator) runFindAndUpdate(ctx context.Context, userCtx UserContext, in intent.Intent, prior []ToolCall, chain *Chain) error {
	fields := tasks.UpdateFields{}
	if in.Parameters.Title != "" {
		fields.Title = &in.Parameters.Title
	}
	if in.Parameters.Description != "" {
		fields.Description = &in.Parameters.Description
	}
	if fields.Title == nil && fields.Description == nil {
		return apperr.New(apperr.CodeInvalidParameter, "update_task requires a new title or description")
	}

	return o.findAndMutate(ctx, userCtx, in, prior, chain, tasks.ToolUpdateTask,
		func(ctx context.Context, taskID, key string) (any, error) {
			return o.backend.UpdateTask(ctx, userCtx.UserID, taskID, fields, key)
		})
}

// runTaskSummary lists all tasks once and computes the summary in-process.
func (o *Orchestrator) runTaskSummary(ctx context.Context, userCtx UserContext, _ intent.Intent, _ []ToolCall, chain *Chain) error {
	list, err := o.listTasks(ctx, userCtx, "all", chain)
	if err != nil {
		return err
	}

	summary := &Summary{ByPriority: make(map[string]int)}
	for _, task := range list.Tasks {
		summary.Total++
		if task.Status == "completed" {
			summary.Completed++
		} else {
			summary.Pending++
		}
		priority := task.Priority
		if priority == "" {
			priority = "none"
		}
		summary.ByPriority[priority]++
	}
	chain.Summary = summary
	return nil
}

// findAndMutate implements the shared FIND_AND_* pattern: list, resolve the
// target, verify composability, then mutate with an idempotency key.
func (o *Orchestrator) findAndMutate(ctx context.Context, userCtx UserContext, in intent.Intent, prior []ToolCall, chain *Chain, tool string, mutate func(ctx context.Context, taskID, key string) (any, error)) error {
	list, err := o.listTasks(ctx, userCtx, "all", chain)
	if err != nil {
		return err
	}

	target, err := o.resolveTarget(list.Tasks, in, prior)
	if err != nil {
		return err
	}

	// Composability: the downstream call needs a task id the upstream
	// lookup actually produced. The fixed patterns guarantee this, but a
	// resolver slip must abort rather than fire a malformed mutation.
	if target == "" {
		return apperr.Newf(apperr.CodeCompositionError, "%s requires a task_id the lookup did not produce", tool)
	}

	params := map[string]any{"task_id": target}
	key := idempotencyKey(userCtx, tool, params)

	result, err := o.invoke(ctx, userCtx, tool, params, func(ctx context.Context) (any, error) {
		return mutate(ctx, target, key)
	})
	o.record(chain, tool, params, result, err)
	if err != nil {
		if chainInterrupted(ctx, err, len(chain.Calls)-1) {
			chain.Status = ChainPartial
		}
		return err
	}
	return nil
}

// resolveTarget picks the task id a mutation should act on: an explicit id
// wins, then a pronoun resolved against the prior turn, then text matching
// with the fixed tie-break policy.
func (o *Orchestrator) resolveTarget(candidates []tasks.Task, in intent.Intent, prior []ToolCall) (string, error) {
	if id := in.Parameters.TaskID; id != "" {
		for _, t := range candidates {
			if t.ID == id {
				return id, nil
			}
		}
		return "", apperr.Newf(apperr.CodeTaskNotFound, "no task with id %q", id)
	}

	if in.IsPronounRef() {
		if id, ok := resolvePriorTask(prior); ok {
			// The referenced task must still exist.
			for _, t := range candidates {
				if t.ID == id {
					return id, nil
				}
			}
			return "", apperr.Newf(apperr.CodeTaskNotFound, "the referenced task no longer exists")
		}
		return "", apperr.New(apperr.CodeAmbiguousReference, "cannot tell which task you mean, please name it")
	}

	match, err := matchTask(candidates, in.Parameters.TaskRef)
	if err != nil {
		return "", err
	}
	return match.ID, nil
}

// listTasks performs the shared lookup step. The full page is requested so
// text matching sees every candidate.
func (o *Orchestrator) listTasks(ctx context.Context, userCtx UserContext, status string, chain *Chain) (*tasks.ListResult, error) {
	if status == "" {
		status = "all"
	}
	params := map[string]any{"status": status}

	result, err := o.invoke(ctx, userCtx, tasks.ToolListTasks, params, func(ctx context.Context) (any, error) {
		return o.backend.ListTasks(ctx, userCtx.UserID, tasks.ListFilter{Status: status})
	})
	o.record(chain, tasks.ToolListTasks, params, result, err)
	if err != nil {
		return nil, err
	}

	list, ok := result.(*tasks.ListResult)
	if !ok {
		return nil, apperr.New(apperr.CodeCompositionError, "list_tasks returned an unexpected shape")
	}
	return list, nil
}
