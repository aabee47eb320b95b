package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/espalier/internal/prompts"
	"github.com/aretw0/espalier/pkg/domain"
)

// sequenceStep advances the linear state machine by one transition and
// reports whether the run reached terminal state. The driver has already
// checked the safeguards and resolved the step; task-loop steps never get
// here.
func (x *execution) sequenceStep(ctx context.Context, step domain.PlanStep) bool {
	state := x.state
	planned := step.Agent

	// 1. A terminal step in the plan ends the run.
	if planned == domain.AgentTerminal {
		x.decide(ctx, domain.RoutingDecision{
			Step:    state.CurrentStep,
			Planned: planned,
			Chosen:  planned,
			Reason:  "plan reached its terminal step",
		}, false)
		return true
	}

	// 2. Direct route: a planned agent that has never run is dispatched
	// without consulting the decision service, so an eager answer cannot
	// skip unexecuted work.
	if state.Dispatched[planned] == 0 {
		x.decide(ctx, domain.RoutingDecision{
			Step:    state.CurrentStep,
			Planned: planned,
			Chosen:  planned,
			Reason:  "planned agent has not run yet; routing directly",
		}, false)
		x.dispatchForStep(ctx, planned)
		state.CurrentStep++
		return false
	}

	// 3. The planned agent already ran; ask the decision service what now.
	text, err := x.complete(ctx, prompts.Sequencer(prompts.SequencerInput{
		Plan:       &state.Plan,
		Step:       state.CurrentStep,
		Processors: x.eng.registry.Kinds(),
		Recent:     state.RecentOutputs(prompts.RecentWindow),
		LastReason: x.lastReason(),
	}))
	var decision domain.StepDecision
	if err == nil {
		decision, err = domain.ParseStepDecision(text)
	}

	// 4. A failed or unparseable call falls back to the planned agent and
	// advances, so a broken decision service degrades to plain plan order.
	if err != nil {
		x.decide(ctx, domain.RoutingDecision{
			Step:    state.CurrentStep,
			Planned: planned,
			Chosen:  planned,
			Reason:  fmt.Sprintf("decision call failed (%v); falling back to the planned agent", err),
		}, true)
		x.dispatchForStep(ctx, planned)
		state.CurrentStep++
		return false
	}

	target := domain.ParseAgentKind(decision.Goto)

	// 5. Replan escape hatch, bounded per step. At the cap the request is
	// ignored and the answer is validated like any other target.
	if decision.Replan || target == domain.AgentReplan {
		if state.ReplanAttempts[state.CurrentStep] < x.eng.caps.MaxReplans {
			state.ReplanAttempts[state.CurrentStep]++
			x.decide(ctx, domain.RoutingDecision{
				Step:    state.CurrentStep,
				Planned: planned,
				Chosen:  domain.AgentReplan,
				Reason:  reasonOr(decision.Reason, "decision service requested a replan"),
			}, false)
			x.buildPlan(ctx)
			return false
		}
		state.AddNote(fmt.Sprintf("replan cap %d reached at step %d; request ignored", x.eng.caps.MaxReplans, state.CurrentStep))
		x.eng.logger.Warn("replan cap reached", "run_id", state.RunID, "step", state.CurrentStep)
	}

	// 6. The decision service may declare the workflow complete.
	if target == domain.AgentTerminal {
		x.decide(ctx, domain.RoutingDecision{
			Step:    state.CurrentStep,
			Planned: planned,
			Chosen:  domain.AgentTerminal,
			Reason:  reasonOr(decision.Reason, "decision service declared the workflow complete"),
		}, false)
		return true
	}

	// 7. An invalid target skips the step instead of crashing the run.
	if !x.dispatchable(target) {
		x.eng.logger.Warn("invalid routing target; advancing past the step",
			"run_id", state.RunID, "goto", decision.Goto, "step", state.CurrentStep)
		state.AddNote(fmt.Sprintf("invalid routing target %q at step %d; advancing", decision.Goto, state.CurrentStep))
		x.decide(ctx, domain.RoutingDecision{
			Step:    state.CurrentStep,
			Planned: planned,
			Chosen:  domain.AgentUnknown,
			Reason:  fmt.Sprintf("target %q is not enabled; advancing to the next step", decision.Goto),
		}, true)
		state.CurrentStep++
		return false
	}

	// 8. Normal advance.
	x.decide(ctx, domain.RoutingDecision{
		Step:    state.CurrentStep,
		Planned: planned,
		Chosen:  target,
		Reason:  reasonOr(decision.Reason, "decision service routed the step"),
	}, false)
	x.dispatchForStep(ctx, target)
	state.CurrentStep++
	return false
}

// dispatchForStep runs one linear-mode dispatch. Setup and teardown agents
// act on the whole run; a processor needs the task under the cursor and is
// still bounded by the attempt cap so linear plans cannot dodge the per-task
// limits.
func (x *execution) dispatchForStep(ctx context.Context, kind domain.AgentKind) {
	if !kind.IsProcessor() {
		x.dispatch(ctx, kind, nil)
		return
	}

	task, ok := x.state.CurrentTask()
	if !ok {
		x.state.AddNote(fmt.Sprintf("step %d routed to %s with no task under the cursor; skipped", x.state.CurrentStep, kind))
		return
	}
	if x.state.Attempts(task.ID) >= x.eng.caps.MaxTaskAttempts {
		x.state.AddNote(fmt.Sprintf("step %d routed to %s but task %s is at the attempt cap; skipped", x.state.CurrentStep, kind, task.ID))
		return
	}
	x.state.AppendHistory(task.ID, kind)
	x.state.CurrentTaskID = task.ID
	x.dispatch(ctx, kind, &task)
}

// dispatchable reports whether a kind can be dispatched right now: the fixed
// setup/teardown agents plus whatever processors are registered. Sentinels
// and unknown names are not dispatchable.
func (x *execution) dispatchable(kind domain.AgentKind) bool {
	switch kind {
	case domain.AgentFetcher, domain.AgentClassifier, domain.AgentWriter:
		return true
	}
	return x.eng.registry.Enabled(kind)
}

// lastReason returns the most recent decision's reason for prompt context.
func (x *execution) lastReason() string {
	if d, ok := x.ledger.LastDecision(); ok {
		return d.Reason
	}
	return ""
}
