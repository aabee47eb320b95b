package runtime_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/registry"
)

// --- scripted collaborators ---

type modelFunc func(ctx context.Context, req ports.ModelRequest) (string, error)

func (f modelFunc) Complete(ctx context.Context, req ports.ModelRequest) (string, error) {
	return f(ctx, req)
}

func (f modelFunc) Model() string { return "scripted" }

type sourceFunc func(ctx context.Context, limit int) ([]domain.Task, error)

func (f sourceFunc) Fetch(ctx context.Context, limit int) ([]domain.Task, error) {
	return f(ctx, limit)
}

type classifierFunc func(ctx context.Context, tasks []domain.Task) (map[string]domain.Classification, error)

func (f classifierFunc) Classify(ctx context.Context, tasks []domain.Task) (map[string]domain.Classification, error) {
	return f(ctx, tasks)
}

type sinkFunc func(ctx context.Context, report *domain.Report) (string, error)

func (f sinkFunc) Write(ctx context.Context, report *domain.Report) (string, error) {
	return f(ctx, report)
}

type countingProcessor struct {
	kind  domain.AgentKind
	calls int
	fail  error
}

func (p *countingProcessor) Kind() domain.AgentKind { return p.kind }

func (p *countingProcessor) Process(ctx context.Context, req ports.ProcessRequest) (string, error) {
	p.calls++
	if p.fail != nil {
		return "", p.fail
	}
	return string(p.kind) + " handled " + req.Task.ID, nil
}

// --- fixtures ---

func testTasks() []domain.Task {
	return []domain.Task{
		{ID: "t1", Content: "Research vector databases", Priority: 3},
		{ID: "t2", Content: "Email the accountant", Priority: 1},
		{ID: "t3", Content: "Study WAL internals", Priority: 2},
	}
}

func testLabels() map[string]domain.Classification {
	return map[string]domain.Classification{
		"t1": domain.ClassResearch,
		"t2": domain.ClassShort,
		"t3": domain.ClassLearning,
	}
}

const planJSON = `{
  "1": {"agent": "task_fetcher", "action": "Fetch today's tasks"},
  "2": {"agent": "task_classifier", "action": "Classify all tasks"},
  "3": {"agent": "task_loop", "action": "Process each task"},
  "4": {"agent": "markdown_writer", "action": "Write the report"}
}`

// routeByClassification mimics a cooperative decision service: route a fresh
// task by its classification, declare it complete after one processor ran.
func routeByClassification(req ports.ModelRequest) string {
	if !strings.Contains(req.Prompt, "Workers that have processed it: None yet") {
		return `{"goto": "task_complete", "reason": "output looks sufficient", "is_complete": true}`
	}
	switch {
	case strings.Contains(req.Prompt, "Classification: research"):
		return `{"goto": "research_processor", "reason": "research task", "is_complete": false}`
	case strings.Contains(req.Prompt, "Classification: learning"):
		return `{"goto": "learning_processor", "reason": "learning task", "is_complete": false}`
	case strings.Contains(req.Prompt, "Classification: planning"):
		return `{"goto": "planning_processor", "reason": "planning task", "is_complete": false}`
	default:
		return `{"goto": "next_action_processor", "reason": "short task", "is_complete": false}`
	}
}

func happyModel() modelFunc {
	return func(ctx context.Context, req ports.ModelRequest) (string, error) {
		switch req.Node {
		case "planner":
			return "Here is the plan:\n" + planJSON, nil
		case "task_loop":
			return routeByClassification(req), nil
		default:
			return `{"replan": false, "goto": "done", "reason": "all steps complete", "query": ""}`, nil
		}
	}
}

// bed bundles an engine with its counting fakes.
type bed struct {
	engine        *runtime.Engine
	procs         map[domain.AgentKind]*countingProcessor
	fetchCalls    int
	classifyCalls int
	reports       []*domain.Report
}

// newBed builds an engine over counting fakes. mutate, when non-nil, adjusts
// the config before construction.
func newBed(t *testing.T, model modelFunc, caps domain.Caps, mutate func(*runtime.Config)) *bed {
	t.Helper()

	b := &bed{procs: make(map[domain.AgentKind]*countingProcessor)}
	reg := registry.New()
	for _, k := range domain.ProcessorKinds() {
		p := &countingProcessor{kind: k}
		b.procs[k] = p
		if err := reg.Register(p); err != nil {
			t.Fatalf("register %s: %v", k, err)
		}
	}

	cfg := runtime.Config{
		Model: model,
		Source: sourceFunc(func(ctx context.Context, limit int) ([]domain.Task, error) {
			b.fetchCalls++
			return testTasks(), nil
		}),
		Classifier: classifierFunc(func(ctx context.Context, tasks []domain.Task) (map[string]domain.Classification, error) {
			b.classifyCalls++
			return testLabels(), nil
		}),
		Processors: reg,
		Sink: sinkFunc(func(ctx context.Context, report *domain.Report) (string, error) {
			b.reports = append(b.reports, report)
			return "memory://report", nil
		}),
		Caps: caps,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	eng, err := runtime.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.engine = eng
	return b
}

func mustRun(t *testing.T, b *bed) *domain.RunRecord {
	t.Helper()
	record, err := b.engine.Run(context.Background(), "process my tasks")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record == nil {
		t.Fatal("Run returned a nil record")
	}
	return record
}

// assertDispatchLedgerParity checks that every processor dispatch in the
// timeline has exactly one routing decision choosing it for the same task.
func assertDispatchLedgerParity(t *testing.T, record *domain.RunRecord) {
	t.Helper()
	type key struct {
		kind domain.AgentKind
		task string
	}
	dispatches := make(map[key]int)
	for _, ev := range record.Timeline {
		if kind := domain.AgentKind(ev.Node); kind.IsProcessor() {
			dispatches[key{kind, ev.TaskID}]++
		}
	}
	chosen := make(map[key]int)
	for _, d := range record.Decisions {
		if d.Chosen.IsProcessor() {
			chosen[key{d.Chosen, d.TaskID}]++
		}
	}
	for k, n := range dispatches {
		if chosen[k] != n {
			t.Errorf("%s dispatched %d times for task %s but chosen by %d decisions", k.kind, n, k.task, chosen[k])
		}
	}
	for k, n := range chosen {
		if dispatches[k] != n {
			t.Errorf("%s chosen %d times for task %s but dispatched %d times", k.kind, n, k.task, dispatches[k])
		}
	}
}

// --- tests ---

func TestRunHappyPath(t *testing.T) {
	b := newBed(t, happyModel(), domain.Caps{}, nil)
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want %s", record.Status, domain.StatusDone)
	}
	if record.TaskCount != 3 || record.CompletedCount != 3 {
		t.Errorf("tasks = %d completed = %d, want 3/3", record.TaskCount, record.CompletedCount)
	}
	if record.ReportLocation != "memory://report" {
		t.Errorf("report location = %q", record.ReportLocation)
	}
	if record.Plan.Len() != 4 {
		t.Errorf("plan has %d steps, want 4", record.Plan.Len())
	}
	if record.Invocations != 11 {
		t.Errorf("invocations = %d, want 11", record.Invocations)
	}
	if len(record.Notes) != 0 {
		t.Errorf("unexpected notes: %v", record.Notes)
	}

	wantCalls := map[domain.AgentKind]int{
		domain.AgentResearch:   1,
		domain.AgentNextAction: 1,
		domain.AgentLearning:   1,
		domain.AgentPlanning:   0,
	}
	for kind, want := range wantCalls {
		if got := b.procs[kind].calls; got != want {
			t.Errorf("%s called %d times, want %d", kind, got, want)
		}
	}
	if b.fetchCalls != 1 || b.classifyCalls != 1 {
		t.Errorf("fetch = %d classify = %d, want 1/1", b.fetchCalls, b.classifyCalls)
	}

	if got := record.Results["t1"]; got != "research_processor handled t1" {
		t.Errorf("t1 result = %q", got)
	}
	if len(b.reports) != 1 {
		t.Fatalf("reports written = %d, want 1", len(b.reports))
	}
	for _, section := range b.reports[0].Sections {
		if !section.Completed {
			t.Errorf("section for %s not completed", section.Task.ID)
		}
	}

	assertDispatchLedgerParity(t, record)

	// Step cursor never moves backwards without a replan.
	lastStep := 0
	for _, d := range record.Decisions {
		if d.Step < lastStep {
			t.Errorf("decision step went backwards: %d after %d", d.Step, lastStep)
		}
		lastStep = d.Step
	}
}

func TestRunRecordCarriesLedgers(t *testing.T) {
	b := newBed(t, happyModel(), domain.Caps{}, nil)
	record := mustRun(t, b)

	if len(record.Decisions) == 0 || len(record.Timeline) == 0 || len(record.Calls) == 0 {
		t.Fatalf("ledgers incomplete: %d decisions, %d events, %d calls",
			len(record.Decisions), len(record.Timeline), len(record.Calls))
	}
	if record.Calls[0].Node != "planner" {
		t.Errorf("first call node = %q, want planner", record.Calls[0].Node)
	}
	for _, call := range record.Calls {
		if call.Model != "scripted" {
			t.Errorf("call model = %q, want scripted", call.Model)
		}
		if strings.HasSuffix(call.Purpose, domain.FailedSuffix) {
			t.Errorf("unexpected failed call: %+v", call)
		}
	}

	nodes := make(map[string]bool)
	for _, ev := range record.Timeline {
		nodes[ev.Node] = true
		if ev.FinishedAt.Before(ev.StartedAt) {
			t.Errorf("event %s finished before it started", ev.Node)
		}
	}
	for _, want := range []string{"planner", "task_fetcher", "task_classifier", "markdown_writer"} {
		if !nodes[want] {
			t.Errorf("timeline is missing node %s", want)
		}
	}
}

func TestFetchFailureStillWritesReport(t *testing.T) {
	b := newBed(t, happyModel(), domain.Caps{}, func(cfg *runtime.Config) {
		cfg.Source = sourceFunc(func(ctx context.Context, limit int) ([]domain.Task, error) {
			return nil, errors.New("source offline")
		})
	})
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	if record.TaskCount != 0 {
		t.Errorf("task count = %d, want 0", record.TaskCount)
	}
	if len(b.reports) != 1 {
		t.Fatalf("reports written = %d, want 1", len(b.reports))
	}
	found := false
	for _, note := range record.Notes {
		if strings.Contains(note, "task fetch failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("no fetch-failure note in %v", record.Notes)
	}
}

func TestClassifierFailureFallsBackToDefaultRoute(t *testing.T) {
	b := newBed(t, happyModel(), domain.Caps{}, func(cfg *runtime.Config) {
		cfg.Classifier = classifierFunc(func(ctx context.Context, tasks []domain.Task) (map[string]domain.Classification, error) {
			return nil, errors.New("classifier offline")
		})
	})
	record := mustRun(t, b)

	// Unclassified tasks read "Classification: unknown" in the routing
	// prompt, so the scripted service picks the next-action worker.
	if got := b.procs[domain.AgentNextAction].calls; got != 3 {
		t.Errorf("next_action called %d times, want 3", got)
	}
	if got := b.procs[domain.AgentResearch].calls; got != 0 {
		t.Errorf("research called %d times, want 0", got)
	}
	if record.CompletedCount != 3 {
		t.Errorf("completed = %d, want 3", record.CompletedCount)
	}
}

func TestProcessorFailureIsRecovered(t *testing.T) {
	b := newBed(t, happyModel(), domain.Caps{}, nil)
	b.procs[domain.AgentResearch].fail = errors.New("research blew up")
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	if got := record.Results["t1"]; !strings.Contains(got, "Processing failed") {
		t.Errorf("t1 result = %q, want a processing-failed marker", got)
	}
	if record.CompletedCount != 3 {
		t.Errorf("completed = %d, want 3", record.CompletedCount)
	}
	found := false
	for _, note := range record.Notes {
		if strings.Contains(note, "research_processor failed for task t1") {
			found = true
		}
	}
	if !found {
		t.Errorf("no processor-failure note in %v", record.Notes)
	}
}

func TestSinkFailureIsRecovered(t *testing.T) {
	b := newBed(t, happyModel(), domain.Caps{}, func(cfg *runtime.Config) {
		cfg.Sink = sinkFunc(func(ctx context.Context, report *domain.Report) (string, error) {
			return "", errors.New("disk full")
		})
	})
	record := mustRun(t, b)

	if record.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", record.Status)
	}
	if record.ReportLocation != "" {
		t.Errorf("report location = %q, want empty", record.ReportLocation)
	}
	found := false
	for _, note := range record.Notes {
		if strings.Contains(note, "report sink failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("no sink-failure note in %v", record.Notes)
	}
}

func TestCanceledContextStopsTheRun(t *testing.T) {
	b := newBed(t, happyModel(), domain.Caps{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record, err := b.engine.Run(ctx, "goal")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if record == nil {
		t.Fatal("record is nil on cancellation")
	}
	if record.Status != domain.StatusCanceled {
		t.Errorf("status = %s, want canceled", record.Status)
	}
	if b.fetchCalls != 0 {
		t.Errorf("fetch ran %d times after cancellation", b.fetchCalls)
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	reg := registry.New()
	if err := reg.Register(&countingProcessor{kind: domain.AgentResearch}); err != nil {
		t.Fatalf("register: %v", err)
	}
	full := runtime.Config{
		Model:      happyModel(),
		Source:     sourceFunc(func(ctx context.Context, limit int) ([]domain.Task, error) { return nil, nil }),
		Classifier: classifierFunc(func(ctx context.Context, tasks []domain.Task) (map[string]domain.Classification, error) { return nil, nil }),
		Processors: reg,
		Sink:       sinkFunc(func(ctx context.Context, report *domain.Report) (string, error) { return "", nil }),
	}

	cases := []struct {
		name   string
		mutate func(*runtime.Config)
	}{
		{"Missing Model", func(c *runtime.Config) { c.Model = nil }},
		{"Missing Source", func(c *runtime.Config) { c.Source = nil }},
		{"Missing Classifier", func(c *runtime.Config) { c.Classifier = nil }},
		{"Missing Sink", func(c *runtime.Config) { c.Sink = nil }},
		{"Missing Processors", func(c *runtime.Config) { c.Processors = nil }},
		{"Empty Registry", func(c *runtime.Config) { c.Processors = registry.New() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := full
			tc.mutate(&cfg)
			if _, err := runtime.New(cfg); err == nil {
				t.Error("expected a config error, got nil")
			}
		})
	}

	if _, err := runtime.New(full); err != nil {
		t.Errorf("full config rejected: %v", err)
	}
}

func TestEmptyGoalGetsDefault(t *testing.T) {
	b := newBed(t, happyModel(), domain.Caps{}, nil)
	record, err := b.engine.Run(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Goal != runtime.DefaultGoal {
		t.Errorf("goal = %q, want the default goal", record.Goal)
	}
}
