package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/internal/presentation/tui"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/trace"
)

// RunOptions carries the run command's flags.
type RunOptions struct {
	ConfigPath  string
	Goal        string
	RunID       string
	Limit       int
	Source      string
	FixturePath string
	TracePath   string
	JSON        bool
	Quiet       bool
	Debug       bool
	NoArchive   bool
}

// ExecuteRun drives one pipeline run end to end: configuration, engine
// assembly, progress output, archiving, and the final report.
func ExecuteRun(opts RunOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	applyRunFlags(&cfg, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	goal, err := domain.SanitizeGoal(opts.Goal)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, opts.Debug)

	interactive := !opts.JSON && !opts.Quiet
	if interactive {
		tui.PrintBanner()
	}

	sc := NewSignalContext(context.Background())
	defer sc.Cancel()

	// The ID is fixed up front so the trace file can carry it from line one.
	runID := opts.RunID
	if runID == "" {
		runID = domain.GenerateRunID()
	}

	hooks := domain.LifecycleHooks{}
	if opts.JSON {
		hooks = JSONHooks(os.Stdout)
	} else if !opts.Quiet {
		hooks = ProgressHooks(os.Stdout)
	}
	if opts.Debug {
		hooks = domain.MergeHooks(hooks, DebugHooks(logger))
	}

	var tracer *trace.Writer
	if opts.TracePath != "" {
		f, err := os.Create(opts.TracePath)
		if err != nil {
			return fmt.Errorf("create trace file: %w", err)
		}
		defer f.Close()
		tracer = trace.NewWriter(f, runID)
		hooks = domain.MergeHooks(hooks, trace.Hooks(tracer, goal))
	}

	rt, err := BuildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			logger.Warn("Backend close failed", "err", cerr)
		}
	}()

	record, runErr := rt.Engine.RunWithHooks(sc, runID, goal, hooks)

	if tracer != nil {
		if terr := tracer.Close(); terr != nil {
			logger.Warn("Trace incomplete", "path", opts.TracePath, "err", terr)
		}
	}

	if !opts.NoArchive {
		// The run context may already be canceled; archiving proceeds anyway.
		if aerr := rt.Archive.Save(context.Background(), record); aerr != nil {
			logger.Warn("Archive failed", "run_id", record.ID, "err", aerr)
		}
	}

	if interactive {
		renderReport(record)
		logInterruption(record, runErr, sc.Signal())
	}
	return handleRunError(runErr)
}

func applyRunFlags(cfg *config.Config, opts RunOptions) {
	if opts.Limit > 0 {
		cfg.Tasks.Limit = opts.Limit
	}
	if opts.Source != "" {
		cfg.Tasks.Source = opts.Source
	}
	if opts.FixturePath != "" {
		cfg.Tasks.FixturePath = opts.FixturePath
		if opts.Source == "" {
			cfg.Tasks.Source = "fixture"
		}
	}
}

func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := logging.ParseLevel(cfg.Level)
	if debug {
		level = slog.LevelDebug
	}
	return logging.New(level, cfg.Format)
}

// renderReport pretty-prints the saved report when stdout is a terminal. The
// finish hook has already announced the path.
func renderReport(record *domain.RunRecord) {
	if record.ReportLocation == "" || !tui.Interactive() {
		return
	}
	data, err := os.ReadFile(record.ReportLocation)
	if err != nil {
		return
	}
	render := tui.NewRenderer()
	out, err := render(string(data))
	if err != nil {
		return
	}
	fmt.Print(out)
}

// logInterruption restores the prompt line after Ctrl+C and names the signal.
func logInterruption(record *domain.RunRecord, err error, sig os.Signal) {
	if err == nil || !isInterrupted(err) {
		return
	}
	switch sig {
	case os.Interrupt:
		fmt.Printf("[CTRL+C]\n")
		printSystemMessage("Interrupted at step %d.", record.FinalStep)
	case nil:
		printSystemMessage("Canceled at step %d.", record.FinalStep)
	default:
		fmt.Println()
		printSystemMessage("Terminated at step %d.", record.FinalStep)
	}
}
