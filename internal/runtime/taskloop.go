package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/espalier/internal/prompts"
	"github.com/aretw0/espalier/pkg/domain"
)

// routeTask advances the task loop by one transition: complete the current
// task, dispatch one processor for it, or leave the loop when the list is
// exhausted. The return mirrors sequenceStep for the driver; the loop itself
// never ends the run, it hands control back by advancing the step cursor.
func (x *execution) routeTask(ctx context.Context) bool {
	state := x.state

	// 1. List exhausted: leave loop mode and let the sequencer resume.
	if state.CurrentTaskIndex >= len(state.Tasks) {
		x.eng.logger.Info("task list exhausted; leaving the loop",
			"run_id", state.RunID, "completed", state.CompletedCount(), "total", len(state.Tasks))
		state.CurrentTaskID = ""
		state.CurrentStep++
		return false
	}

	task := state.Tasks[state.CurrentTaskIndex]
	state.CurrentTaskID = task.ID
	class := state.Classification(task.ID)

	// 2. Re-entry defense: a completed task is never dispatched again.
	if state.IsComplete(task.ID) {
		state.CurrentTaskIndex++
		return false
	}

	// 3. Attempt cap: force-complete without consulting anyone. This bounds
	// the loop even if the decision service never reports completion.
	if state.Attempts(task.ID) >= x.eng.caps.MaxTaskAttempts {
		x.completeTask(ctx, task, class,
			fmt.Sprintf("attempt cap %d reached; forcing completion", x.eng.caps.MaxTaskAttempts), true)
		return false
	}

	// 4. Ask the decision service where this task goes next.
	text, err := x.complete(ctx, prompts.TaskLoop(prompts.TaskLoopInput{
		Task:           task,
		Classification: class,
		History:        state.HistoryNames(task.ID),
		LastOutput:     state.Results[task.ID],
		Processors:     x.eng.registry.Kinds(),
		Remaining:      len(state.Tasks) - state.CurrentTaskIndex,
	}))
	var route domain.RouteDecision
	if err == nil {
		route, err = domain.ParseRouteDecision(text)
	}

	// 5. Completion answer: mark, advance, next task.
	if err == nil && route.Complete() {
		x.completeTask(ctx, task, class,
			reasonOr(route.Reason, "decision service declared the task complete"), false)
		return false
	}

	// 6. Resolve the processor: the validated target, or the deterministic
	// classification fallback when the call failed or named nonsense.
	var (
		chosen   domain.AgentKind
		reason   string
		fallback bool
	)
	if err != nil {
		chosen = domain.FallbackFor(class)
		reason = fmt.Sprintf("decision call failed (%v); classification fallback to %s", err, chosen)
		fallback = true
	} else if target := domain.ParseAgentKind(route.Goto); x.eng.registry.Enabled(target) {
		chosen = target
		reason = reasonOr(route.Reason, "decision service routed the task")
	} else {
		chosen = domain.FallbackFor(class)
		reason = fmt.Sprintf("target %q is not an enabled processor; classification fallback to %s", route.Goto, chosen)
		fallback = true
	}

	// 7. Visit cap: re-routing to a processor the task has already seen this
	// often means oscillation; complete instead of routing again.
	if state.VisitCount(task.ID, chosen) >= x.eng.caps.MaxAgentVisits {
		x.completeTask(ctx, task, class,
			fmt.Sprintf("visit cap %d reached for %s; forcing completion", x.eng.caps.MaxAgentVisits, chosen), true)
		return false
	}

	// 8. Record the decision, then dispatch.
	x.decide(ctx, domain.RoutingDecision{
		Step:           state.CurrentStep,
		Planned:        domain.AgentTaskLoop,
		Chosen:         chosen,
		Reason:         reason,
		TaskID:         task.ID,
		TaskContent:    task.Content,
		Classification: class,
		History:        state.HistoryNames(task.ID),
	}, fallback)
	state.AppendHistory(task.ID, chosen)
	x.dispatch(ctx, chosen, &task)
	return false
}

// completeTask marks the current task done and advances the cursor. Marking
// is idempotent; the ledger records the completion decision either way.
func (x *execution) completeTask(ctx context.Context, task domain.Task, class domain.Classification, reason string, forced bool) {
	x.decide(ctx, domain.RoutingDecision{
		Step:           x.state.CurrentStep,
		Planned:        domain.AgentTaskLoop,
		Chosen:         domain.AgentKind(domain.CompleteSentinel),
		Reason:         reason,
		TaskID:         task.ID,
		TaskContent:    task.Content,
		Classification: class,
		History:        x.state.HistoryNames(task.ID),
		TaskComplete:   true,
	}, forced)

	if x.state.MarkComplete(task.ID) {
		x.eng.metrics.ObserveTaskComplete()
		if h := x.hooks.OnTaskComplete; h != nil {
			h(ctx, task, reason)
		}
	}
	x.state.CurrentTaskIndex++
	x.state.CurrentTaskID = ""
	x.eng.logger.Info("task complete",
		"run_id", x.state.RunID, "task_id", task.ID, "forced", forced, "reason", reason)
}
