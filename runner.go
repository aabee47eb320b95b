package espalier

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/espalier/pkg/adapters/report"
	"github.com/aretw0/espalier/pkg/domain"
)

// Runner executes one run while streaming progress to the provided writer.
// This allows for easy testing and integration with different frontends
// (CLI, TUI, etc).
type Runner struct {
	Output io.Writer

	// Headless suppresses progress output: the run executes silently and
	// only the returned record reports what happened.
	Headless bool

	// EchoReport prints the rendered report after the run finishes.
	EchoReport bool

	// Renderer transforms markdown before it is written. This allows for TUI
	// rendering (markdown to ANSI) without coupling the core package.
	Renderer ContentRenderer
}

// ContentRenderer is a function that transforms content before output.
type ContentRenderer func(string) (string, error)

// NewRunner creates a Runner with no writer set. Callers assign Output
// (usually os.Stdout) before Run.
func NewRunner() *Runner {
	return &Runner{}
}

// Run executes the goal on the engine, printing progress as lifecycle hooks
// fire. The returned record is the engine's; Run adds no semantics beyond
// presentation.
func (r *Runner) Run(ctx context.Context, engine *Engine, goal string) (*domain.RunRecord, error) {
	writer := r.Output
	if writer == nil {
		return nil, fmt.Errorf("output writer must be set (use os.Stdout)")
	}

	runID := domain.GenerateRunID()

	hooks := domain.LifecycleHooks{}
	if !r.Headless {
		hooks = r.progressHooks(writer)
	}

	record, err := engine.RunWithHooks(ctx, runID, goal, hooks)
	if err != nil {
		return record, err
	}

	if r.EchoReport {
		r.echoReport(writer, record)
	}
	return record, nil
}

// progressHooks builds the printing callbacks. Hooks run on the orchestrator
// goroutine, so they only write and return.
func (r *Runner) progressHooks(w io.Writer) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnPlan: func(_ context.Context, plan domain.Plan, fallback bool) {
			if fallback {
				fmt.Fprintln(w, "Plan (static fallback):")
			} else {
				fmt.Fprintln(w, "Plan:")
			}
			fmt.Fprint(w, plan.String())
		},
		OnDispatch: func(_ context.Context, kind domain.AgentKind, task *domain.Task) {
			if task != nil {
				fmt.Fprintf(w, "  -> %s: %s\n", kind, clip(task.Content, 60))
				return
			}
			fmt.Fprintf(w, "  -> %s\n", kind)
		},
		OnTaskComplete: func(_ context.Context, task domain.Task, reason string) {
			fmt.Fprintf(w, "  done: %s (%s)\n", clip(task.Content, 60), reason)
		},
		OnFinish: func(_ context.Context, record *domain.RunRecord) {
			fmt.Fprintf(w, "Run %s %s: %d/%d tasks completed, %d invocations\n",
				record.ID, record.Status, record.CompletedCount, record.TaskCount, record.Invocations)
			if record.ReportLocation != "" {
				fmt.Fprintf(w, "Report: %s\n", record.ReportLocation)
			}
		},
	}
}

// echoReport re-renders the report from the record so the console copy never
// depends on the sink's file having landed.
func (r *Runner) echoReport(w io.Writer, record *domain.RunRecord) {
	output := report.Render(domain.ReportFromRecord(record))
	if r.Renderer != nil {
		if rendered, err := r.Renderer(output); err == nil {
			output = rendered
		}
	}
	fmt.Fprintln(w, strings.TrimSpace(output))
}

func clip(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
