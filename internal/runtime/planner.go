package runtime

import (
	"context"
	"strings"

	"github.com/aretw0/espalier/internal/prompts"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/observability"
)

// buildPlan asks the decision service for a plan once; any failure, parse
// error, or invalid plan substitutes the static fallback immediately, with no
// retry. Replans come through here too: ReplacePlan rewinds the step cursor
// while per-task progress stays intact. Returns whether the fallback was used.
func (x *execution) buildPlan(ctx context.Context) bool {
	state := x.state
	ev := domain.NewExecutionEvent("planner")

	text, err := x.complete(ctx, prompts.Planner(state.Goal, x.eng.registry.Kinds()))
	var plan domain.Plan
	if err == nil {
		plan, err = domain.ParsePlan(text)
	}
	fallback := err != nil
	if fallback {
		plan = domain.FallbackPlan()
		state.AddNote("plan builder fell back to the static plan: " + err.Error())
		x.eng.logger.Warn("plan builder fell back to the static plan", "run_id", state.RunID, "err", err)
	}

	state.ReplacePlan(plan)
	state.Status = domain.StatusRunning
	x.ledger.AppendEvent(ev)

	if h := x.hooks.OnPlan; h != nil {
		h(ctx, plan, fallback)
	}
	x.eng.logger.Info("plan ready", "run_id", state.RunID, "steps", plan.Len(), "fallback", fallback)
	return fallback
}

// PreviewPlan builds a plan for a goal without executing it. The boolean
// reports whether the static fallback was substituted for a failed or
// unparseable decision-service answer.
func (e *Engine) PreviewPlan(ctx context.Context, goal string) (domain.Plan, bool) {
	if strings.TrimSpace(goal) == "" {
		goal = DefaultGoal
	}
	x := &execution{
		eng:    e,
		hooks:  e.hooks,
		state:  domain.NewRunState(domain.GenerateRunID(), goal),
		ledger: observability.NewLedger(),
	}
	fallback := x.buildPlan(ctx)
	return x.state.Plan, fallback
}
