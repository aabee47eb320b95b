package domain

import "testing"

func testTasks() []Task {
	return []Task{
		{ID: "t1", Content: "Research Go generics"},
		{ID: "t2", Content: "Plan the kitchen remodel"},
	}
}

func TestMarkCompleteIdempotent(t *testing.T) {
	s := NewRunState("run1", "daily")
	s.Tasks = testTasks()

	if !s.MarkComplete("t1") {
		t.Fatal("first MarkComplete should report a change")
	}
	if s.MarkComplete("t1") {
		t.Fatal("second MarkComplete should be a no-op")
	}
	if !s.IsComplete("t1") {
		t.Fatal("t1 should stay complete")
	}
	if s.CompletedCount() != 1 {
		t.Fatalf("CompletedCount() = %d, want 1", s.CompletedCount())
	}
}

func TestHistoryAndVisitCounts(t *testing.T) {
	s := NewRunState("run1", "daily")
	s.AppendHistory("t1", AgentResearch)
	s.AppendHistory("t1", AgentNextAction)
	s.AppendHistory("t1", AgentResearch)

	if got := s.Attempts("t1"); got != 3 {
		t.Errorf("Attempts = %d, want 3", got)
	}
	if got := s.VisitCount("t1", AgentResearch); got != 2 {
		t.Errorf("VisitCount(research) = %d, want 2", got)
	}
	if got := s.VisitCount("t1", AgentPlanning); got != 0 {
		t.Errorf("VisitCount(planning) = %d, want 0", got)
	}

	snap := s.HistoryNames("t1")
	s.AppendHistory("t1", AgentPlanning)
	if len(snap) != 3 {
		t.Errorf("snapshot grew with later appends: %v", snap)
	}
}

func TestRecentOutputs(t *testing.T) {
	s := NewRunState("run1", "daily")
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		s.RecordOutput(AgentResearch, "", text)
	}
	got := s.RecentOutputs(4)
	if len(got) != 4 {
		t.Fatalf("RecentOutputs(4) returned %d entries", len(got))
	}
	if got[0].Text != "b" || got[3].Text != "e" {
		t.Errorf("RecentOutputs order wrong: %v", got)
	}
	if s.RecentOutputs(0) != nil {
		t.Error("RecentOutputs(0) should be nil")
	}
}

func TestRecordOutputSetsResult(t *testing.T) {
	s := NewRunState("run1", "daily")
	s.Tasks = testTasks()
	s.RecordOutput(AgentResearch, "t1", "summary text")
	if s.Results["t1"] != "summary text" {
		t.Errorf("Results[t1] = %q", s.Results["t1"])
	}
	out, ok := s.LastOutput()
	if !ok || out.Agent != AgentResearch {
		t.Errorf("LastOutput = %+v, %v", out, ok)
	}
}

func TestReplacePlanPreservesTaskProgress(t *testing.T) {
	s := NewRunState("run1", "daily")
	s.Tasks = testTasks()
	s.Plan = FallbackPlan()
	s.CurrentStep = 3
	s.Classifications["t1"] = ClassResearch
	s.AppendHistory("t1", AgentResearch)
	s.MarkComplete("t1")
	s.Results["t1"] = "done"

	s.ReplacePlan(Plan{Steps: map[int]PlanStep{
		1: {Agent: AgentTaskLoop, Action: "process remaining"},
		2: {Agent: AgentWriter, Action: "report"},
	}})

	if s.CurrentStep != 1 {
		t.Errorf("CurrentStep = %d, want 1", s.CurrentStep)
	}
	if !s.IsComplete("t1") || s.Classifications["t1"] != ClassResearch || s.Results["t1"] != "done" {
		t.Error("per-task progress should survive a replan")
	}
	if s.Attempts("t1") != 1 {
		t.Error("history should survive a replan")
	}
}

func TestBuildReport(t *testing.T) {
	s := NewRunState("run1", "daily focus")
	s.Tasks = testTasks()
	s.Classifications["t1"] = ClassResearch
	s.Results["t1"] = "findings"
	s.MarkComplete("t1")
	s.Invocations = 12

	r := BuildReport(s)
	if r.TaskCount != 2 || r.CompletedCount != 1 || r.Invocations != 12 {
		t.Errorf("report stats wrong: %+v", r)
	}
	if len(r.Sections) != 2 {
		t.Fatalf("Sections = %d, want 2", len(r.Sections))
	}
	if r.Sections[0].Classification != ClassResearch || r.Sections[0].Result != "findings" {
		t.Errorf("section 0 wrong: %+v", r.Sections[0])
	}
	if r.Sections[1].Classification != ClassUnknown {
		t.Errorf("unclassified task should be unknown, got %q", r.Sections[1].Classification)
	}
}
