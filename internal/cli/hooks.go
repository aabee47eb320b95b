package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// printSystemMessage prints a standardized system message to stdout.
func printSystemMessage(format string, args ...any) {
	fmt.Printf(">>> %s\n", fmt.Sprintf(format, args...))
}

// ProgressHooks narrates a run as ">>>" lines, the default interactive output.
func ProgressHooks(w io.Writer) domain.LifecycleHooks {
	say := func(format string, args ...any) {
		fmt.Fprintf(w, ">>> %s\n", fmt.Sprintf(format, args...))
	}
	return domain.LifecycleHooks{
		OnPlan: func(_ context.Context, plan domain.Plan, fallback bool) {
			if fallback {
				say("Planner unavailable, using the static plan.")
			}
			say("Plan (%d steps):", plan.Len())
			for _, n := range plan.Numbers() {
				step, _ := plan.Step(n)
				say("  %d. %s: %s", n, step.Agent, step.Action)
			}
		},
		OnDispatch: func(_ context.Context, kind domain.AgentKind, task *domain.Task) {
			if task != nil {
				say("%s: %s", kind, task.Content)
				return
			}
			say("Running %s...", kind)
		},
		OnTaskComplete: func(_ context.Context, task domain.Task, reason string) {
			say("Completed '%s' (%s)", task.Content, reason)
		},
		OnFinish: func(_ context.Context, record *domain.RunRecord) {
			say("Run %s %s: %d/%d tasks, %d invocations.",
				record.ID, record.Status, record.CompletedCount, record.TaskCount, record.Invocations)
			if record.ReportLocation != "" {
				say("Report: %s", record.ReportLocation)
			}
		},
	}
}

// progressEvent is one line of --json progress output.
type progressEvent struct {
	Event    string    `json:"event"`
	At       time.Time `json:"at"`
	Fallback bool      `json:"fallback,omitempty"`
	Steps    int       `json:"steps,omitempty"`
	Step     int       `json:"step,omitempty"`
	Agent    string    `json:"agent,omitempty"`
	TaskID   string    `json:"task_id,omitempty"`
	Task     string    `json:"task,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Status   string    `json:"status,omitempty"`
	Tasks    int       `json:"tasks,omitempty"`
	Done     int       `json:"done,omitempty"`
	Report   string    `json:"report,omitempty"`
}

// JSONHooks streams run progress as one JSON object per line, for scripts
// that drive espalier and want structured output on stdout.
func JSONHooks(w io.Writer) domain.LifecycleHooks {
	enc := json.NewEncoder(w)
	emit := func(ev progressEvent) {
		ev.At = time.Now()
		_ = enc.Encode(ev)
	}
	return domain.LifecycleHooks{
		OnPlan: func(_ context.Context, plan domain.Plan, fallback bool) {
			emit(progressEvent{Event: "plan", Fallback: fallback, Steps: plan.Len()})
		},
		OnDecision: func(_ context.Context, d *domain.RoutingDecision) {
			emit(progressEvent{Event: "decision", Step: d.Step, Agent: string(d.Chosen), Reason: d.Reason, TaskID: d.TaskID})
		},
		OnDispatch: func(_ context.Context, kind domain.AgentKind, task *domain.Task) {
			ev := progressEvent{Event: "dispatch", Agent: string(kind)}
			if task != nil {
				ev.TaskID = task.ID
				ev.Task = task.Content
			}
			emit(ev)
		},
		OnTaskComplete: func(_ context.Context, task domain.Task, reason string) {
			emit(progressEvent{Event: "task_complete", TaskID: task.ID, Task: task.Content, Reason: reason})
		},
		OnFinish: func(_ context.Context, record *domain.RunRecord) {
			emit(progressEvent{
				Event:  "finish",
				Status: string(record.Status),
				Tasks:  record.TaskCount,
				Done:   record.CompletedCount,
				Report: record.ReportLocation,
			})
		},
	}
}

// DebugHooks logs every lifecycle event at debug level.
func DebugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnPlan: func(_ context.Context, plan domain.Plan, fallback bool) {
			logger.Debug("Plan Ready", "steps", plan.Len(), "fallback", fallback)
		},
		OnDecision: func(_ context.Context, d *domain.RoutingDecision) {
			logger.Debug("Routing Decision", "step", d.Step, "planned", d.Planned, "chosen", d.Chosen, "reason", d.Reason)
		},
		OnDispatch: func(_ context.Context, kind domain.AgentKind, task *domain.Task) {
			if task != nil {
				logger.Debug("Dispatch", "agent", kind, "task_id", task.ID)
				return
			}
			logger.Debug("Dispatch", "agent", kind)
		},
		OnTaskComplete: func(_ context.Context, task domain.Task, reason string) {
			logger.Debug("Task Complete", "task_id", task.ID, "reason", reason)
		},
		OnModelCall: func(_ context.Context, call *domain.ModelCall) {
			logger.Debug("Model Call", "node", call.Node, "model", call.Model, "duration", call.Duration, "purpose", call.Purpose)
		},
		OnFinish: func(_ context.Context, record *domain.RunRecord) {
			logger.Debug("Run Finished", "run_id", record.ID, "status", record.Status, "invocations", record.Invocations)
		},
	}
}
