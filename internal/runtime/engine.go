// Package runtime implements the plan/executor state machine: plan building,
// linear step sequencing, per-task routing, and the safeguard caps that keep
// every run finite no matter what the decision service answers.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/observability"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/registry"
)

// DefaultGoal is used when a run is started with an empty goal.
const DefaultGoal = "Process today's tasks: fetch them, classify each one, route every task to the right specialist, and write a markdown report."

// DefaultCallTimeout bounds every decision-service and collaborator call.
// Expiry counts as a call failure and takes the same fallback paths.
const DefaultCallTimeout = 60 * time.Second

// Config wires the collaborators an Engine needs. Model, Source, Classifier,
// Processors, and Sink are required; everything else has a usable default.
type Config struct {
	Model      ports.ModelClient
	Source     ports.TaskSource
	Classifier ports.Classifier
	Processors *registry.Registry
	Sink       ports.ReportSink

	// Notes, when set, receives one learning note per learning-classified
	// task that a processor handled successfully.
	Notes ports.NoteStore

	Caps    domain.Caps
	Metrics *observability.Metrics
	Hooks   domain.LifecycleHooks
	Logger  *slog.Logger

	// TaskLimit caps how many tasks are consumed from the source. Zero or
	// negative means no cap.
	TaskLimit int

	// CallTimeout overrides DefaultCallTimeout when positive.
	CallTimeout time.Duration
}

// Engine drives orchestration runs. It holds no per-run state: every Run gets
// a fresh RunState and Ledger, so concurrent runs are independent.
type Engine struct {
	model      ports.ModelClient
	source     ports.TaskSource
	classifier ports.Classifier
	registry   *registry.Registry
	sink       ports.ReportSink
	notes      ports.NoteStore

	caps    domain.Caps
	metrics *observability.Metrics
	hooks   domain.LifecycleHooks
	logger  *slog.Logger

	taskLimit   int
	callTimeout time.Duration
}

// New validates the configuration and returns a ready Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("runtime: a model client is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("runtime: a task source is required")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("runtime: a classifier is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("runtime: a report sink is required")
	}
	if cfg.Processors == nil || len(cfg.Processors.Kinds()) == 0 {
		return nil, fmt.Errorf("runtime: at least one processor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &Engine{
		model:       cfg.Model,
		source:      cfg.Source,
		classifier:  cfg.Classifier,
		registry:    cfg.Processors,
		sink:        cfg.Sink,
		notes:       cfg.Notes,
		caps:        cfg.Caps.Normalized(),
		metrics:     cfg.Metrics,
		hooks:       cfg.Hooks,
		logger:      logger,
		taskLimit:   cfg.TaskLimit,
		callTimeout: timeout,
	}, nil
}

// Caps returns the normalized safeguard limits the engine enforces.
func (e *Engine) Caps() domain.Caps {
	return e.caps
}

// Run executes one orchestration run for the goal. The returned record is
// always non-nil; collaborator failures are recovered inside the run and show
// up as notes and ledger entries, never as an error. The only error returned
// is the context's, when cancellation cut the run short.
func (e *Engine) Run(ctx context.Context, goal string) (*domain.RunRecord, error) {
	return e.RunWithID(ctx, domain.GenerateRunID(), goal)
}

// RunWithID is Run with a caller-chosen run ID, for frontends that need the
// ID before the run finishes.
func (e *Engine) RunWithID(ctx context.Context, runID, goal string) (*domain.RunRecord, error) {
	return e.execute(ctx, runID, goal, e.hooks)
}

// RunWithHooks is RunWithID with extra lifecycle hooks layered on for this
// run only. The engine's configured hooks fire first.
func (e *Engine) RunWithHooks(ctx context.Context, runID, goal string, extra domain.LifecycleHooks) (*domain.RunRecord, error) {
	return e.execute(ctx, runID, goal, domain.MergeHooks(e.hooks, extra))
}

func (e *Engine) execute(ctx context.Context, runID, goal string, hooks domain.LifecycleHooks) (*domain.RunRecord, error) {
	if strings.TrimSpace(goal) == "" {
		goal = DefaultGoal
	}
	x := &execution{
		eng:    e,
		hooks:  hooks,
		state:  domain.NewRunState(runID, goal),
		ledger: observability.NewLedger(),
	}
	record := x.run(ctx)
	if record.Status == domain.StatusCanceled {
		return record, ctx.Err()
	}
	return record, nil
}

// execution carries one run's mutable context through the state machine. All
// methods run on the caller's goroutine; the state is never shared.
type execution struct {
	eng    *Engine
	hooks  domain.LifecycleHooks
	state  *domain.RunState
	ledger *observability.Ledger
}

// run drives the transition loop until a terminal condition.
func (x *execution) run(ctx context.Context) *domain.RunRecord {
	state := x.state
	x.eng.logger.Info("run starting", "run_id", state.RunID, "goal", state.Goal)

	// 1. Plan phase: one decision call, static fallback on any failure.
	x.buildPlan(ctx)

	// 2. Transition loop. Every iteration is one sequencer or router entry.
	for {
		if ctx.Err() != nil {
			state.AddNote("run canceled: " + ctx.Err().Error())
			return x.finish(ctx, domain.StatusCanceled)
		}

		if reason, stop := x.guard(); stop {
			state.AddNote(reason)
			x.eng.logger.Warn("safeguard stop", "run_id", state.RunID, "reason", reason)
			return x.finish(ctx, domain.StatusDone)
		}

		step, ok := state.Plan.Step(state.CurrentStep)
		if !ok {
			// Plan exhausted is the normal terminal condition.
			return x.finish(ctx, domain.StatusDone)
		}

		var done bool
		if step.Agent == domain.AgentTaskLoop {
			done = x.routeTask(ctx)
		} else {
			done = x.sequenceStep(ctx, step)
		}
		if done {
			return x.finish(ctx, domain.StatusDone)
		}
	}
}

// finish stamps terminal state and assembles the immutable run record.
func (x *execution) finish(ctx context.Context, status domain.RunStatus) *domain.RunRecord {
	state := x.state
	state.Status = status
	state.FinishedAt = time.Now()

	record := &domain.RunRecord{
		ID:              state.RunID,
		Goal:            state.Goal,
		Status:          status,
		StartedAt:       state.StartedAt,
		FinishedAt:      state.FinishedAt,
		TaskCount:       len(state.Tasks),
		CompletedCount:  state.CompletedCount(),
		Invocations:     state.Invocations,
		FinalStep:       state.CurrentStep,
		Plan:            state.Plan,
		Classifications: state.Classifications,
		Results:         state.Results,
		Tasks:           state.Tasks,
		Notes:           state.Notes,
		Decisions:       x.ledger.Decisions(),
		Timeline:        x.ledger.Timeline(),
		Calls:           x.ledger.Calls(),
		ReportLocation:  state.ReportLocation,
	}

	x.eng.metrics.ObserveRunFinished(status)
	if h := x.hooks.OnFinish; h != nil {
		h(ctx, record)
	}
	x.eng.logger.Info("run finished",
		"run_id", state.RunID,
		"status", status,
		"invocations", state.Invocations,
		"tasks", record.TaskCount,
		"completed", record.CompletedCount,
	)
	return record
}

// complete invokes the decision service once, with the call timeout applied,
// and records the exchange in the call log. Failed calls are logged with the
// failure suffix rather than omitted.
func (x *execution) complete(ctx context.Context, req ports.ModelRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, x.eng.callTimeout)
	defer cancel()

	start := time.Now()
	text, err := x.eng.model.Complete(callCtx, req)

	call := domain.ModelCall{
		Timestamp:     start,
		Node:          req.Node,
		Model:         x.eng.model.Model(),
		Temperature:   req.Temperature,
		PromptChars:   len(req.Prompt),
		ResponseChars: len(text),
		Duration:      time.Since(start),
		Purpose:       req.Purpose,
	}
	if err != nil {
		call.Purpose += domain.FailedSuffix
	}
	x.ledger.AppendCall(call)
	x.eng.metrics.ObserveCall(call)
	if h := x.hooks.OnModelCall; h != nil {
		h(ctx, &call)
	}
	return text, err
}

// decide stamps, appends, and publishes one routing decision. Every dispatch
// is preceded by exactly one of these.
func (x *execution) decide(ctx context.Context, d domain.RoutingDecision, fallback bool) {
	d.Timestamp = time.Now()
	x.ledger.AppendDecision(d)
	x.eng.metrics.ObserveDecision(d, fallback)
	if h := x.hooks.OnDecision; h != nil {
		h(ctx, &d)
	}
}

// dispatch invokes one collaborator and times it. Collaborator failures are
// recovered here: the run gets a note and a failure output, never an abort.
func (x *execution) dispatch(ctx context.Context, kind domain.AgentKind, task *domain.Task) {
	ev := domain.NewExecutionEvent(string(kind))
	if task != nil {
		ev.TaskID = task.ID
		ev.TaskIndex = x.state.CurrentTaskIndex
		ev.TaskTotal = len(x.state.Tasks)
	}
	defer x.ledger.AppendEvent(ev)

	if h := x.hooks.OnDispatch; h != nil {
		h(ctx, kind, task)
	}
	x.state.Dispatched[kind]++

	callCtx, cancel := context.WithTimeout(ctx, x.eng.callTimeout)
	defer cancel()

	switch kind {
	case domain.AgentFetcher:
		x.fetchTasks(callCtx)
	case domain.AgentClassifier:
		x.classifyTasks(callCtx)
	case domain.AgentWriter:
		x.writeReport(callCtx)
	default:
		x.processTask(callCtx, kind, task)
	}
}

func (x *execution) fetchTasks(ctx context.Context) {
	tasks, err := x.eng.source.Fetch(ctx, x.eng.taskLimit)
	if err != nil {
		x.noteFailure("task fetch failed; continuing with no tasks", err)
		x.state.RecordOutput(domain.AgentFetcher, "", "Fetching tasks failed: "+err.Error())
		return
	}
	x.state.Tasks = tasks
	x.state.RecordOutput(domain.AgentFetcher, "", fmt.Sprintf("Fetched %d tasks", len(tasks)))
	x.eng.logger.Info("tasks fetched", "run_id", x.state.RunID, "count", len(tasks))
}

func (x *execution) classifyTasks(ctx context.Context) {
	labels, err := x.eng.classifier.Classify(ctx, x.state.Tasks)
	if err != nil {
		x.noteFailure("classification failed; tasks stay unclassified", err)
		x.state.RecordOutput(domain.AgentClassifier, "", "Classification failed: "+err.Error())
		return
	}
	for id, c := range labels {
		x.state.Classifications[id] = c
	}
	summary := classificationSummary(x.state)
	x.state.RecordOutput(domain.AgentClassifier, "", summary)
	x.eng.logger.Info("tasks classified", "run_id", x.state.RunID, "summary", summary)
}

func (x *execution) writeReport(ctx context.Context) {
	report := domain.BuildReport(x.state)
	location, err := x.eng.sink.Write(ctx, report)
	if err != nil {
		x.noteFailure("report sink failed", err)
		x.state.RecordOutput(domain.AgentWriter, "", "Report writing failed: "+err.Error())
		return
	}
	x.state.ReportLocation = location
	x.state.RecordOutput(domain.AgentWriter, "", "Report written to "+location)
	x.eng.logger.Info("report written", "run_id", x.state.RunID, "location", location)
}

func (x *execution) processTask(ctx context.Context, kind domain.AgentKind, task *domain.Task) {
	if task == nil {
		x.state.AddNote(fmt.Sprintf("processor %s dispatched with no current task; skipped", kind))
		return
	}
	proc, ok := x.eng.registry.Get(kind)
	if !ok {
		// Routing validation makes this unreachable; guard anyway.
		x.state.AddNote(fmt.Sprintf("processor %s is not registered; skipped", kind))
		return
	}

	class := x.state.Classification(task.ID)
	out, err := proc.Process(ctx, ports.ProcessRequest{
		Task:           *task,
		Classification: class,
		Context:        clip(x.state.Results[task.ID], 500),
	})
	if err != nil {
		x.noteFailure(fmt.Sprintf("processor %s failed for task %s", kind, task.ID), err)
		x.state.RecordOutput(kind, task.ID, "Processing failed: "+err.Error())
		return
	}
	x.state.RecordOutput(kind, task.ID, out)
	x.appendLearningNote(ctx, *task, class, out)
}

// appendLearningNote persists the processor output as a learning note when a
// note store is configured. Best effort; failures degrade to a run note.
func (x *execution) appendLearningNote(ctx context.Context, task domain.Task, class domain.Classification, body string) {
	if x.eng.notes == nil || class != domain.ClassLearning {
		return
	}
	location, err := x.eng.notes.Append(ctx, task, class, body)
	if err != nil {
		x.noteFailure("learning note append failed", err)
		return
	}
	x.eng.logger.Debug("learning note appended", "task_id", task.ID, "location", location)
}

// noteFailure records one locally recovered collaborator failure.
func (x *execution) noteFailure(what string, err error) {
	x.state.AddNote(what + ": " + err.Error())
	x.eng.logger.Warn(what, "run_id", x.state.RunID, "err", err)
}

// classificationSummary renders "Classified 3 tasks: 2 research, 1 short"
// with the labels in enum order.
func classificationSummary(state *domain.RunState) string {
	counts := make(map[domain.Classification]int)
	for _, c := range state.Classifications {
		counts[c]++
	}
	parts := make([]string, 0, len(counts))
	for _, c := range domain.Classifications() {
		if n := counts[c]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, c))
		}
	}
	if n := counts[domain.ClassUnknown]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d unrecognized", n))
	}
	if len(parts) == 0 {
		return "Classified 0 tasks"
	}
	return fmt.Sprintf("Classified %d tasks: %s", len(state.Classifications), strings.Join(parts, ", "))
}

// reasonOr substitutes a default when the decision service gave no reason.
func reasonOr(reason, fallback string) string {
	if strings.TrimSpace(reason) == "" {
		return fallback
	}
	return reason
}

// clip bounds quoted context by runes so multi-byte output never splits.
func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
