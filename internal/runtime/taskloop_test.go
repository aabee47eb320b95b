package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// modelWithRouter behaves like happyModel except for task-loop requests.
func modelWithRouter(h func(req ports.ModelRequest) (string, error)) modelFunc {
	return func(ctx context.Context, req ports.ModelRequest) (string, error) {
		switch req.Node {
		case "planner":
			return planJSON, nil
		case "task_loop":
			return h(req)
		default:
			return `{"replan": false, "goto": "done", "reason": "all steps complete"}`, nil
		}
	}
}

func completionDecisions(record *domain.RunRecord) []domain.RoutingDecision {
	var out []domain.RoutingDecision
	for _, d := range record.Decisions {
		if d.TaskComplete {
			out = append(out, d)
		}
	}
	return out
}

func TestLoopWithNoTasksAdvances(t *testing.T) {
	b := newBed(t, happyModel(), domain.Caps{}, func(cfg *runtime.Config) {
		cfg.Source = sourceFunc(func(ctx context.Context, limit int) ([]domain.Task, error) {
			return nil, nil
		})
		cfg.Classifier = classifierFunc(func(ctx context.Context, tasks []domain.Task) (map[string]domain.Classification, error) {
			return map[string]domain.Classification{}, nil
		})
	})
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	if record.TaskCount != 0 || record.CompletedCount != 0 {
		t.Errorf("tasks = %d completed = %d, want 0/0", record.TaskCount, record.CompletedCount)
	}
	if record.FinalStep != 5 {
		t.Errorf("final step = %d, want 5", record.FinalStep)
	}
	if len(b.reports) != 1 {
		t.Fatalf("reports written = %d, want 1", len(b.reports))
	}
	if len(b.reports[0].Sections) != 0 {
		t.Errorf("report has %d sections, want 0", len(b.reports[0].Sections))
	}
	for kind, proc := range b.procs {
		if proc.calls != 0 {
			t.Errorf("%s ran %d times, want 0", kind, proc.calls)
		}
	}
}

func TestInvalidRouteFallsBackByClassification(t *testing.T) {
	model := modelWithRouter(func(req ports.ModelRequest) (string, error) {
		if strings.Contains(req.Prompt, "Workers that have processed it: None yet") {
			return `{"goto": "quantum_worker", "reason": "best worker", "is_complete": false}`, nil
		}
		return `{"goto": "task_complete", "reason": "looks done", "is_complete": true}`, nil
	})
	b := newBed(t, model, domain.Caps{}, nil)
	record := mustRun(t, b)

	// research and learning both fall back to the research processor,
	// short falls back to next-action.
	if got := b.procs[domain.AgentResearch].calls; got != 2 {
		t.Errorf("research ran %d times, want 2", got)
	}
	if got := b.procs[domain.AgentNextAction].calls; got != 1 {
		t.Errorf("next_action ran %d times, want 1", got)
	}
	if got := b.procs[domain.AgentLearning].calls; got != 0 {
		t.Errorf("learning ran %d times, want 0", got)
	}
	if record.CompletedCount != 3 {
		t.Errorf("completed = %d, want 3", record.CompletedCount)
	}

	found := false
	for _, d := range record.Decisions {
		if strings.Contains(d.Reason, `"quantum_worker" is not an enabled processor`) {
			found = true
		}
	}
	if !found {
		t.Error("no classification-fallback decision recorded")
	}
}

func TestRouteFailureFallsBackByClassification(t *testing.T) {
	model := modelWithRouter(func(req ports.ModelRequest) (string, error) {
		return "", errors.New("router offline")
	})
	b := newBed(t, model, domain.Caps{}, nil)
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	// Each task is routed by classification until the fallback processor
	// hits the visit cap, then force-completed.
	if got := b.procs[domain.AgentResearch].calls; got != 4 {
		t.Errorf("research ran %d times, want 4", got)
	}
	if got := b.procs[domain.AgentNextAction].calls; got != 2 {
		t.Errorf("next_action ran %d times, want 2", got)
	}
	if record.CompletedCount != 3 {
		t.Errorf("completed = %d, want 3", record.CompletedCount)
	}
	if record.ReportLocation != "memory://report" {
		t.Errorf("report location = %q", record.ReportLocation)
	}

	foundFallback := false
	for _, d := range record.Decisions {
		if strings.Contains(d.Reason, "decision call failed") {
			foundFallback = true
		}
	}
	if !foundFallback {
		t.Error("no call-failure fallback decision recorded")
	}
}

func TestOscillationIsForceCompleted(t *testing.T) {
	model := modelWithRouter(func(req ports.ModelRequest) (string, error) {
		return `{"goto": "research_processor", "reason": "still needs research", "is_complete": false}`, nil
	})
	b := newBed(t, model, domain.Caps{}, nil)
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	if got := b.procs[domain.AgentResearch].calls; got != 6 {
		t.Errorf("research ran %d times, want 6 (twice per task)", got)
	}
	if record.CompletedCount != 3 {
		t.Errorf("completed = %d, want 3", record.CompletedCount)
	}

	completions := completionDecisions(record)
	if len(completions) != 3 {
		t.Fatalf("completion decisions = %d, want 3", len(completions))
	}
	for _, d := range completions {
		if !strings.Contains(d.Reason, "visit cap 2 reached") {
			t.Errorf("completion reason = %q, want a visit-cap reason", d.Reason)
		}
		if len(d.History) != 2 {
			t.Errorf("task %s history = %v, want two research visits", d.TaskID, d.History)
		}
		for _, name := range d.History {
			if name != string(domain.AgentResearch) {
				t.Errorf("task %s history entry = %s, want research_processor", d.TaskID, name)
			}
		}
	}
}

func TestAttemptCapForcesCompletion(t *testing.T) {
	order := []string{
		string(domain.AgentResearch),
		string(domain.AgentNextAction),
		string(domain.AgentLearning),
		string(domain.AgentPlanning),
	}
	n := 0
	model := modelWithRouter(func(req ports.ModelRequest) (string, error) {
		kind := order[n%len(order)]
		n++
		return fmt.Sprintf(`{"goto": %q, "reason": "keep going", "is_complete": false}`, kind), nil
	})
	// Visits stay under their cap so the attempt cap is what binds.
	b := newBed(t, model, domain.Caps{MaxAgentVisits: 10}, nil)
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	total := 0
	for _, proc := range b.procs {
		total += proc.calls
	}
	if total != 15 {
		t.Errorf("processor dispatches = %d, want 15 (five per task)", total)
	}
	if record.CompletedCount != 3 {
		t.Errorf("completed = %d, want 3", record.CompletedCount)
	}

	completions := completionDecisions(record)
	if len(completions) != 3 {
		t.Fatalf("completion decisions = %d, want 3", len(completions))
	}
	for _, d := range completions {
		if !strings.Contains(d.Reason, "attempt cap 5 reached") {
			t.Errorf("completion reason = %q, want an attempt-cap reason", d.Reason)
		}
		if len(d.History) != 5 {
			t.Errorf("task %s saw %d attempts, want 5", d.TaskID, len(d.History))
		}
	}
}

func TestCompletionSentinelInGoto(t *testing.T) {
	model := modelWithRouter(func(req ports.ModelRequest) (string, error) {
		return `{"goto": "task_complete", "reason": "trivial", "is_complete": false}`, nil
	})
	b := newBed(t, model, domain.Caps{}, nil)
	record := mustRun(t, b)

	if record.CompletedCount != 3 {
		t.Errorf("completed = %d, want 3", record.CompletedCount)
	}
	for kind, proc := range b.procs {
		if proc.calls != 0 {
			t.Errorf("%s ran %d times, want 0", kind, proc.calls)
		}
	}
	completions := completionDecisions(record)
	if len(completions) != 3 {
		t.Fatalf("completion decisions = %d, want 3", len(completions))
	}
	for _, d := range completions {
		if d.Reason != "trivial" {
			t.Errorf("completion reason = %q, want the decision-service reason", d.Reason)
		}
	}
}
