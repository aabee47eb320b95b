package espalier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/llm"
	"github.com/aretw0/espalier/pkg/adapters/report"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/observability"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/registry"
)

// Engine is the high-level entry point for the espalier library.
// It wraps the internal runtime and provides a simplified API for consumers.
type Engine struct {
	runtime *runtime.Engine

	model       ports.ModelClient
	source      ports.TaskSource
	classifier  ports.Classifier
	processors  []ports.Processor
	sink        ports.ReportSink
	notes       ports.NoteStore
	caps        domain.Caps
	metrics     *observability.Metrics
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	taskLimit   int
	callTimeout time.Duration
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithModel sets the decision-service client. Required.
func WithModel(m ports.ModelClient) Option {
	return func(e *Engine) {
		e.model = m
	}
}

// WithTaskSource sets where runs fetch their tasks from. Required.
func WithTaskSource(s ports.TaskSource) Option {
	return func(e *Engine) {
		e.source = s
	}
}

// WithClassifier overrides the default model-backed batch classifier.
func WithClassifier(c ports.Classifier) Option {
	return func(e *Engine) {
		e.classifier = c
	}
}

// WithProcessors replaces the default model-backed processor set. Each
// processor registers under its own kind; duplicate kinds fail New.
func WithProcessors(ps ...ports.Processor) Option {
	return func(e *Engine) {
		e.processors = append(e.processors, ps...)
	}
}

// WithReportSink overrides the default markdown report sink.
func WithReportSink(s ports.ReportSink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithNoteStore enables per-task learning notes. Without it, learning output
// lands only in the report.
func WithNoteStore(n ports.NoteStore) Option {
	return func(e *Engine) {
		e.notes = n
	}
}

// WithCaps overrides the safeguard limits. Zero fields keep their defaults.
func WithCaps(caps domain.Caps) Option {
	return func(e *Engine) {
		e.caps = caps
	}
}

// WithMetrics registers Prometheus collectors for runs, calls, and tasks.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTaskLimit caps how many tasks a run consumes from the source.
func WithTaskLimit(n int) Option {
	return func(e *Engine) {
		e.taskLimit = n
	}
}

// WithCallTimeout bounds every decision-service call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.callTimeout = d
	}
}

// New initializes an espalier Engine. A model client and a task source are
// required; the classifier, the processor set, and the report sink default
// to the model-backed and filesystem implementations when not injected.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.model == nil {
		return nil, fmt.Errorf("a model client is required (WithModel)")
	}
	if eng.source == nil {
		return nil, fmt.Errorf("a task source is required (WithTaskSource)")
	}

	if eng.logger == nil {
		eng.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	// Fill the gaps with the default adapters, mirroring how a bare
	// `espalier run` session is wired.
	if eng.classifier == nil {
		eng.classifier = llm.NewClassifier(eng.model, eng.logger)
	}
	if len(eng.processors) == 0 {
		for _, p := range llm.NewProcessors(eng.model) {
			eng.processors = append(eng.processors, p)
		}
	}
	if eng.sink == nil {
		sink, err := report.New("")
		if err != nil {
			return nil, fmt.Errorf("initialize report sink: %w", err)
		}
		eng.sink = sink
	}

	reg := registry.New()
	for _, p := range eng.processors {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	rt, err := runtime.New(runtime.Config{
		Model:       eng.model,
		Source:      eng.source,
		Classifier:  eng.classifier,
		Processors:  reg,
		Sink:        eng.sink,
		Notes:       eng.notes,
		Caps:        eng.caps,
		Metrics:     eng.metrics,
		Hooks:       eng.hooks,
		Logger:      eng.logger,
		TaskLimit:   eng.taskLimit,
		CallTimeout: eng.callTimeout,
	})
	if err != nil {
		return nil, err
	}
	eng.runtime = rt

	return eng, nil
}

// Run executes one orchestration run for the goal under a generated run ID.
// The returned record is always non-nil; collaborator failures are recovered
// inside the run and surface as record notes, never as an error. The only
// error returned is the context's, when cancellation cut the run short.
func (e *Engine) Run(ctx context.Context, goal string) (*domain.RunRecord, error) {
	return e.runtime.Run(ctx, goal)
}

// RunWithID is Run with a caller-chosen run ID, for frontends that need the
// ID before the run finishes.
func (e *Engine) RunWithID(ctx context.Context, runID, goal string) (*domain.RunRecord, error) {
	return e.runtime.RunWithID(ctx, runID, goal)
}

// RunWithHooks is RunWithID with extra lifecycle hooks layered on for this
// run only; the engine's configured hooks fire first. Frontends that track
// per-run progress (the HTTP manager, the CLI progress printer) use this.
func (e *Engine) RunWithHooks(ctx context.Context, runID, goal string, hooks domain.LifecycleHooks) (*domain.RunRecord, error) {
	return e.runtime.RunWithHooks(ctx, runID, goal, hooks)
}

// PreviewPlan builds a plan for a goal without executing it. The boolean
// reports whether the static fallback plan was substituted for a failed or
// unparseable decision-service answer.
func (e *Engine) PreviewPlan(ctx context.Context, goal string) (domain.Plan, bool) {
	return e.runtime.PreviewPlan(ctx, goal)
}

// Caps returns the normalized safeguard limits the engine enforces.
func (e *Engine) Caps() domain.Caps {
	return e.runtime.Caps()
}
