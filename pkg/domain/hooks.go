package domain

import "context"

// LifecycleHooks defines callbacks for run observability. All fields are
// optional; the engine skips nil hooks. Hooks run on the orchestrator
// goroutine and must not block.
type LifecycleHooks struct {
	// OnPlan fires once a plan is in place. fallback is true when the static
	// plan was substituted for a failed builder call.
	OnPlan func(ctx context.Context, plan Plan, fallback bool)

	// OnDecision fires after every routing choice, before dispatch.
	OnDecision func(ctx context.Context, d *RoutingDecision)

	// OnDispatch fires when an agent is about to run. task is nil for
	// setup/teardown steps that operate on the whole run.
	OnDispatch func(ctx context.Context, kind AgentKind, task *Task)

	// OnTaskComplete fires when a task is marked complete, with the reason.
	OnTaskComplete func(ctx context.Context, task Task, reason string)

	// OnModelCall fires after every decision-service call is recorded.
	OnModelCall func(ctx context.Context, call *ModelCall)

	// OnFinish fires once the run reaches terminal state.
	OnFinish func(ctx context.Context, record *RunRecord)
}

// MergeHooks composes two hook sets; for each callback, a fires before b.
func MergeHooks(a, b LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnPlan: func(ctx context.Context, plan Plan, fallback bool) {
			if a.OnPlan != nil {
				a.OnPlan(ctx, plan, fallback)
			}
			if b.OnPlan != nil {
				b.OnPlan(ctx, plan, fallback)
			}
		},
		OnDecision: func(ctx context.Context, d *RoutingDecision) {
			if a.OnDecision != nil {
				a.OnDecision(ctx, d)
			}
			if b.OnDecision != nil {
				b.OnDecision(ctx, d)
			}
		},
		OnDispatch: func(ctx context.Context, kind AgentKind, task *Task) {
			if a.OnDispatch != nil {
				a.OnDispatch(ctx, kind, task)
			}
			if b.OnDispatch != nil {
				b.OnDispatch(ctx, kind, task)
			}
		},
		OnTaskComplete: func(ctx context.Context, task Task, reason string) {
			if a.OnTaskComplete != nil {
				a.OnTaskComplete(ctx, task, reason)
			}
			if b.OnTaskComplete != nil {
				b.OnTaskComplete(ctx, task, reason)
			}
		},
		OnModelCall: func(ctx context.Context, call *ModelCall) {
			if a.OnModelCall != nil {
				a.OnModelCall(ctx, call)
			}
			if b.OnModelCall != nil {
				b.OnModelCall(ctx, call)
			}
		},
		OnFinish: func(ctx context.Context, record *RunRecord) {
			if a.OnFinish != nil {
				a.OnFinish(ctx, record)
			}
			if b.OnFinish != nil {
				b.OnFinish(ctx, record)
			}
		},
	}
}
