package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/espalier/internal/config"
	planview "github.com/aretw0/espalier/internal/presentation/plan"
	"github.com/aretw0/espalier/pkg/domain"
)

// PlanOptions carries the plan command's flags.
type PlanOptions struct {
	ConfigPath string
	Goal       string
	Output     string
}

// ExecutePlan previews the plan for a goal without running it: no tasks are
// fetched, nothing is archived, only the plan builder is consulted.
func ExecutePlan(opts PlanOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	goal, err := domain.SanitizeGoal(opts.Goal)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, false)
	rt, err := BuildPreviewRuntime(cfg, logger)
	if err != nil {
		return err
	}

	sc := NewSignalContext(context.Background())
	defer sc.Cancel()

	preview, fallback := rt.Engine.PreviewPlan(sc, goal)
	if fallback {
		fmt.Fprintln(os.Stderr, "planner unavailable; showing the static fallback plan")
	}

	switch strings.ToLower(opts.Output) {
	case "", "table":
		fmt.Print(planview.Table(preview))
	case "yaml":
		out, err := planview.YAML(preview)
		if err != nil {
			return err
		}
		fmt.Print(out)
	case "mermaid":
		fmt.Print(planview.Mermaid(preview))
	default:
		return fmt.Errorf("unknown output format %q (use table, yaml, or mermaid)", opts.Output)
	}
	return nil
}
