package runtime_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// scriptedModel routes plan requests to a fixed reply, step requests through
// the given script in call order, and task requests through happy routing.
func scriptedModel(plan string, sequencer func(call int) (string, error)) modelFunc {
	calls := 0
	return func(ctx context.Context, req ports.ModelRequest) (string, error) {
		switch req.Node {
		case "planner":
			return plan, nil
		case "task_loop":
			return routeByClassification(req), nil
		default:
			calls++
			return sequencer(calls)
		}
	}
}

func countByNode(counts map[string]int, inner modelFunc) modelFunc {
	return func(ctx context.Context, req ports.ModelRequest) (string, error) {
		counts[req.Node]++
		return inner(ctx, req)
	}
}

func TestFreshPlannedAgentsRouteDirectly(t *testing.T) {
	counts := make(map[string]int)
	b := newBed(t, countByNode(counts, happyModel()), domain.Caps{}, nil)
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	// Every plan step runs its agent for the first time, so the step
	// decision service is never consulted.
	if counts["sequencer"] != 0 {
		t.Errorf("sequencer consulted %d times, want 0", counts["sequencer"])
	}
	if counts["planner"] != 1 {
		t.Errorf("planner consulted %d times, want 1", counts["planner"])
	}
}

func TestInvalidTargetSkipsTheStep(t *testing.T) {
	plan := `{
		"1": {"agent": "task_fetcher", "action": "Fetch tasks"},
		"2": {"agent": "task_fetcher", "action": "Fetch tasks again"},
		"3": {"agent": "markdown_writer", "action": "Write the report"}
	}`
	model := scriptedModel(plan, func(call int) (string, error) {
		return `{"replan": false, "goto": "made_up_agent", "reason": "confused"}`, nil
	})
	b := newBed(t, model, domain.Caps{}, nil)
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	if b.fetchCalls != 1 {
		t.Errorf("fetch ran %d times, want 1 (step 2 skipped)", b.fetchCalls)
	}
	if len(b.reports) != 1 {
		t.Errorf("reports written = %d, want 1 (later steps still run)", len(b.reports))
	}

	foundNote := false
	for _, note := range record.Notes {
		if strings.Contains(note, `invalid routing target "made_up_agent" at step 2`) {
			foundNote = true
		}
	}
	if !foundNote {
		t.Errorf("no invalid-target note in %v", record.Notes)
	}

	foundDecision := false
	for _, d := range record.Decisions {
		if d.Step == 2 && d.Chosen == domain.AgentUnknown && strings.Contains(d.Reason, "not enabled") {
			foundDecision = true
		}
	}
	if !foundDecision {
		t.Error("no skip decision recorded for step 2")
	}
}

func TestStepDecisionFailureFallsBackToPlanned(t *testing.T) {
	plan := `{
		"1": {"agent": "task_fetcher", "action": "Fetch tasks"},
		"2": {"agent": "task_fetcher", "action": "Fetch tasks again"}
	}`
	model := scriptedModel(plan, func(call int) (string, error) {
		return "", errors.New("sequencer offline")
	})
	b := newBed(t, model, domain.Caps{}, nil)
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	if b.fetchCalls != 2 {
		t.Errorf("fetch ran %d times, want 2 (fallback keeps plan order)", b.fetchCalls)
	}
	found := false
	for _, d := range record.Decisions {
		if d.Step == 2 && d.Chosen == domain.AgentFetcher && strings.Contains(d.Reason, "falling back to the planned agent") {
			found = true
		}
	}
	if !found {
		t.Error("no planned-agent fallback decision recorded")
	}
}

func TestReplanIsBoundedPerStep(t *testing.T) {
	plan := `{
		"1": {"agent": "task_fetcher", "action": "Fetch tasks"},
		"2": {"agent": "task_fetcher", "action": "Fetch tasks again"}
	}`
	counts := make(map[string]int)
	model := countByNode(counts, scriptedModel(plan, func(call int) (string, error) {
		return `{"replan": true, "goto": "planner", "reason": "stuck"}`, nil
	}))
	b := newBed(t, model, domain.Caps{}, nil)
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	// One initial plan plus two replans per step before the cap bites.
	if counts["planner"] != 5 {
		t.Errorf("planner consulted %d times, want 5", counts["planner"])
	}
	replans := 0
	for _, d := range record.Decisions {
		if d.Chosen == domain.AgentReplan {
			replans++
		}
	}
	if replans != 4 {
		t.Errorf("replan decisions = %d, want 4", replans)
	}
	if b.fetchCalls != 1 {
		t.Errorf("fetch ran %d times, want 1", b.fetchCalls)
	}
	if record.Invocations != 9 {
		t.Errorf("invocations = %d, want 9", record.Invocations)
	}
	found := false
	for _, note := range record.Notes {
		if strings.Contains(note, "replan cap 2 reached") {
			found = true
		}
	}
	if !found {
		t.Errorf("no replan-cap note in %v", record.Notes)
	}
}

func TestReplanPreservesTaskProgress(t *testing.T) {
	plan := `{
		"1": {"agent": "task_fetcher", "action": "Fetch tasks"},
		"2": {"agent": "task_classifier", "action": "Classify tasks"},
		"3": {"agent": "task_loop", "action": "Process every task"},
		"4": {"agent": "task_fetcher", "action": "Check for new tasks"}
	}`
	script := []string{
		`{"replan": true, "goto": "", "reason": "plan is stale"}`,
		`{"replan": false, "goto": "bogus", "reason": "noop"}`,
		`{"replan": false, "goto": "bogus", "reason": "noop"}`,
		`{"replan": false, "goto": "done", "reason": "everything is processed"}`,
	}
	model := scriptedModel(plan, func(call int) (string, error) {
		if call > len(script) {
			t.Fatalf("unexpected sequencer call %d", call)
		}
		return script[call-1], nil
	})
	b := newBed(t, model, domain.Caps{}, nil)
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	// The replan rewound the cursor to step 1, but completed tasks were
	// not refetched, reclassified, or reprocessed.
	if b.fetchCalls != 1 {
		t.Errorf("fetch ran %d times, want 1", b.fetchCalls)
	}
	if b.classifyCalls != 1 {
		t.Errorf("classify ran %d times, want 1", b.classifyCalls)
	}
	for _, kind := range []domain.AgentKind{domain.AgentResearch, domain.AgentNextAction, domain.AgentLearning} {
		if got := b.procs[kind].calls; got != 1 {
			t.Errorf("%s ran %d times, want 1", kind, got)
		}
	}
	if record.CompletedCount != 3 {
		t.Errorf("completed = %d, want 3", record.CompletedCount)
	}
	replans := 0
	for _, d := range record.Decisions {
		if d.Chosen == domain.AgentReplan {
			replans++
		}
	}
	if replans != 1 {
		t.Errorf("replan decisions = %d, want 1", replans)
	}
}

func TestStepCapStopsTheRun(t *testing.T) {
	plan := `{
		"1": {"agent": "task_fetcher", "action": "Fetch tasks"},
		"2": {"agent": "task_classifier", "action": "Classify tasks"},
		"3": {"agent": "markdown_writer", "action": "Write the report"},
		"4": {"agent": "task_fetcher", "action": "Check for new tasks"},
		"5": {"agent": "task_classifier", "action": "Classify again"}
	}`
	model := scriptedModel(plan, func(call int) (string, error) {
		t.Fatal("sequencer should not be consulted")
		return "", nil
	})
	b := newBed(t, model, domain.Caps{MaxSteps: 3}, nil)
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	if record.Invocations != 4 {
		t.Errorf("invocations = %d, want 4", record.Invocations)
	}
	if len(b.reports) != 1 {
		t.Errorf("reports written = %d, want 1", len(b.reports))
	}
	found := false
	for _, note := range record.Notes {
		if strings.Contains(note, "step cap 3 exceeded") {
			found = true
		}
	}
	if !found {
		t.Errorf("no step-cap note in %v", record.Notes)
	}
}

func TestTerminalPlanStepEndsTheRun(t *testing.T) {
	plan := `{
		"1": {"agent": "task_fetcher", "action": "Fetch tasks"},
		"2": {"agent": "done", "action": "Finish up"}
	}`
	model := scriptedModel(plan, func(call int) (string, error) {
		t.Fatal("sequencer should not be consulted")
		return "", nil
	})
	b := newBed(t, model, domain.Caps{}, nil)
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	if b.fetchCalls != 1 {
		t.Errorf("fetch ran %d times, want 1", b.fetchCalls)
	}
	if len(b.reports) != 0 {
		t.Errorf("reports written = %d, want 0", len(b.reports))
	}
	last := record.Decisions[len(record.Decisions)-1]
	if last.Chosen != domain.AgentTerminal || !strings.Contains(last.Reason, "terminal step") {
		t.Errorf("last decision = %+v, want a terminal-step decision", last)
	}
}
