package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/pkg/adapters/file"
	"github.com/aretw0/espalier/pkg/adapters/llm"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/adapters/notes"
	"github.com/aretw0/espalier/pkg/adapters/process"
	"github.com/aretw0/espalier/pkg/adapters/redis"
	"github.com/aretw0/espalier/pkg/adapters/report"
	"github.com/aretw0/espalier/pkg/adapters/todoist"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/observability"
	"github.com/aretw0/espalier/pkg/persistence/middleware"
	"github.com/aretw0/espalier/pkg/ports"
)

// Runtime bundles the engine and the collaborators a command needs, plus the
// cleanup its backends require.
type Runtime struct {
	Engine   *espalier.Engine
	Archive  ports.ArchiveStore
	Locker   ports.RunLocker
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Config   config.Config
	Logger   *slog.Logger

	closers []func() error
}

// Close releases backend connections in reverse construction order.
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BuildRuntime assembles an engine and its collaborators from configuration.
// Extra options apply after the configured ones, so callers can override any
// of them.
func BuildRuntime(cfg config.Config, logger *slog.Logger, extra ...espalier.Option) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	rt.Registry = prometheus.NewRegistry()
	rt.Metrics = observability.NewMetrics(rt.Registry)

	model, err := buildModel(cfg.Model, rt.Metrics, logger)
	if err != nil {
		return nil, err
	}

	source, err := buildSource(cfg.Tasks, logger)
	if err != nil {
		return nil, err
	}

	archive, err := rt.buildArchive(cfg.Archive)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Archive = archive

	sink, err := report.New(cfg.Output.ReportsDir)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	noteStore, err := notes.New(cfg.Output.NotesDir)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	opts := []espalier.Option{
		espalier.WithModel(model),
		espalier.WithTaskSource(source),
		espalier.WithReportSink(sink),
		espalier.WithNoteStore(noteStore),
		espalier.WithCaps(cfg.Caps),
		espalier.WithMetrics(rt.Metrics),
		espalier.WithLogger(logger),
	}
	if cfg.Tasks.Limit > 0 {
		opts = append(opts, espalier.WithTaskLimit(cfg.Tasks.Limit))
	}

	commands, err := cfg.Processors.Commands()
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if len(commands) > 0 {
		// Model-backed processors register first, so a configured command
		// takes over its agent kind.
		processors := make([]ports.Processor, 0, len(commands)+4)
		for _, p := range llm.NewProcessors(model) {
			processors = append(processors, p)
		}
		external, err := process.FromConfig(commands)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		for _, p := range external {
			processors = append(processors, p)
		}
		opts = append(opts, espalier.WithProcessors(processors...))
	}

	opts = append(opts, extra...)

	engine, err := espalier.New(opts...)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Engine = engine
	return rt, nil
}

// BuildPreviewRuntime assembles the minimal engine the plan command needs: a
// model and nothing else. No task source credentials, no archive backend, and
// no report directory is created just to render a preview.
func BuildPreviewRuntime(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	rt.Registry = prometheus.NewRegistry()
	rt.Metrics = observability.NewMetrics(rt.Registry)

	model, err := buildModel(cfg.Model, rt.Metrics, logger)
	if err != nil {
		return nil, err
	}

	engine, err := espalier.New(
		espalier.WithModel(model),
		espalier.WithTaskSource(memory.NewSource()),
		espalier.WithReportSink(discardSink{}),
		espalier.WithCaps(cfg.Caps),
		espalier.WithMetrics(rt.Metrics),
		espalier.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	rt.Engine = engine
	return rt, nil
}

func buildModel(cfg config.ModelConfig, metrics *observability.Metrics, logger *slog.Logger) (ports.ModelClient, error) {
	model, err := llm.New(llm.Config{
		Provider:  cfg.Provider,
		Model:     cfg.Name,
		APIKey:    cfg.Key(),
		BaseURL:   cfg.BaseURL,
		MaxTokens: cfg.MaxTokens,
		Timeout:   cfg.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	return llm.NewTracked(model, metrics, logger), nil
}

func buildSource(cfg config.TasksConfig, logger *slog.Logger) (ports.TaskSource, error) {
	switch strings.ToLower(cfg.Source) {
	case "", "todoist":
		return todoist.New(todoist.Config{
			Token:   cfg.Token(),
			BaseURL: cfg.BaseURL,
			Logger:  logger,
		})
	case "fixture":
		return memory.NewSourceFromFile(cfg.FixturePath)
	default:
		return nil, fmt.Errorf("unknown task source %q", cfg.Source)
	}
}

func (rt *Runtime) buildArchive(cfg config.ArchiveConfig) (ports.ArchiveStore, error) {
	var store ports.ArchiveStore
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		store = memory.NewStore()
	case "file":
		store = file.New(cfg.Dir)
	case "redis":
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, client.Close)
		var ropts []redis.Option
		if cfg.Redis.Prefix != "" {
			ropts = append(ropts, redis.WithPrefix(cfg.Redis.Prefix))
		}
		store = redis.NewFromClient(client, ropts...)
		rt.Locker = redis.NewLocker(client, cfg.Redis.Prefix)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}

	active, fallbacks, err := cfg.EncryptionKeys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		store = middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallbacks,
		})(store)
	}
	// Masking wraps last so plaintext is masked before it is sealed.
	if len(cfg.MaskPatterns) > 0 {
		store = middleware.NewPIIMiddleware(cfg.MaskPatterns)(store)
	}
	return store, nil
}

// discardSink satisfies the sink requirement for plan previews, which never
// write a report. The real sink would create its directory just by existing.
type discardSink struct{}

func (discardSink) Write(ctx context.Context, report *domain.Report) (string, error) {
	return "", nil
}
