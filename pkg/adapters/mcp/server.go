// Package mcp exposes the pipeline to agent hosts over the Model Context
// Protocol: structured tools to run the pipeline, preview plans, and read
// archived runs, served over stdio or SSE.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/adapters/report"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// RunSummary aligns with the HTTP API's record shape and gives tool callers a
// flat view of a finished run, including the rendered report.
type RunSummary struct {
	RunID          string `json:"run_id" jsonschema_description:"Run identifier"`
	Status         string `json:"status" jsonschema_description:"Terminal status: done or canceled"`
	Goal           string `json:"goal,omitempty" jsonschema_description:"Goal the run was started with"`
	TaskCount      int    `json:"task_count" jsonschema_description:"Tasks fetched for the run"`
	CompletedCount int    `json:"completed_count" jsonschema_description:"Tasks marked complete"`
	Invocations    int    `json:"invocations" jsonschema_description:"Decision service calls consumed"`
	Decisions      int    `json:"decisions" jsonschema_description:"Routing decisions recorded"`
	ReportLocation string `json:"report_location,omitempty" jsonschema_description:"Where the report document landed"`
	Report         string `json:"report,omitempty" jsonschema_description:"Rendered markdown report"`
}

// PlanResponse carries a previewed plan without executing it.
type PlanResponse struct {
	Goal     string     `json:"goal" jsonschema_description:"Goal the plan was built for"`
	Fallback bool       `json:"fallback" jsonschema_description:"True when the static fallback plan was substituted"`
	Steps    []PlanStep `json:"steps" jsonschema_description:"Ordered plan steps"`
}

// PlanStep is one numbered step of a previewed plan.
type PlanStep struct {
	Step   int    `json:"step" jsonschema_description:"1-based position in the plan"`
	Agent  string `json:"agent" jsonschema_description:"Agent dispatched at this step"`
	Action string `json:"action" jsonschema_description:"What the step should do"`
}

// Engine defines what the MCP tools need from the pipeline facade.
type Engine interface {
	RunWithID(ctx context.Context, runID, goal string) (*domain.RunRecord, error)
	PreviewPlan(ctx context.Context, goal string) (domain.Plan, bool)
}

// Server wraps the pipeline engine and exposes it as an MCP server.
type Server struct {
	engine    Engine
	archive   ports.ArchiveStore
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance. The archive may be nil; run
// records are then only returned inline and get_run reports every run unknown.
func NewServer(engine Engine, archive ports.ArchiveStore) *Server {
	s := &Server{
		engine:    engine,
		archive:   archive,
		mcpServer: server.NewMCPServer("espalier-mcp", strings.TrimSpace(espalier.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("shutdown signal received, stopping MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("CORS Middleware", "method", r.Method, "path", r.URL.Path)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Baggage, Sentry-Trace")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: run_pipeline
	runTool := mcp.NewTool("run_pipeline",
		mcp.WithDescription("Run the full task pipeline for a goal: plan, fetch, classify, process every task, and write the report. Blocks until the run finishes."),
		mcp.WithString("goal", mcp.Required(), mcp.Description("What this run should accomplish")),
		mcp.WithString("run_id", mcp.Description("Client-supplied run identifier (generated when omitted)")),
		mcp.WithOutputSchema[RunSummary](),
	)
	s.mcpServer.AddTool(runTool, mcp.NewStructuredToolHandler(s.handleRunPipeline))

	// TOOL: preview_plan
	previewTool := mcp.NewTool("preview_plan",
		mcp.WithDescription("Build the execution plan for a goal without running it."),
		mcp.WithString("goal", mcp.Required(), mcp.Description("What the plan should accomplish")),
		mcp.WithOutputSchema[PlanResponse](),
	)
	s.mcpServer.AddTool(previewTool, mcp.NewStructuredToolHandler(s.handlePreviewPlan))

	// TOOL: get_run
	getTool := mcp.NewTool("get_run",
		mcp.WithDescription("Fetch an archived run: status, counters, and the rendered report."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithOutputSchema[RunSummary](),
	)
	s.mcpServer.AddTool(getTool, mcp.NewStructuredToolHandler(s.handleGetRun))
}

// Handler methods for structured tools

type runArgs struct {
	Goal  string `mapstructure:"goal"`
	RunID string `mapstructure:"run_id"`
}

func (s *Server) handleRunPipeline(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunSummary, error) {
	var in runArgs
	if err := mapstructure.Decode(args, &in); err != nil {
		return RunSummary{}, fmt.Errorf("bad arguments: %w", err)
	}

	goal, err := domain.SanitizeGoal(in.Goal)
	if err != nil {
		slog.Warn("MCP RunPipeline: goal rejected", "error", err, "size", len(in.Goal))
		return RunSummary{}, fmt.Errorf("goal rejected: %w", err)
	}

	runID := in.RunID
	if runID == "" {
		runID = domain.GenerateRunID()
	} else if s.archive != nil {
		// Reusing an archived ID would silently overwrite its record.
		if _, err := s.archive.Load(ctx, runID); err == nil {
			return RunSummary{}, fmt.Errorf("run %s is already archived", runID)
		}
	}

	record, err := s.engine.RunWithID(ctx, runID, goal)
	if err != nil && record == nil {
		return RunSummary{}, fmt.Errorf("run failed: %w", err)
	}
	if err != nil {
		slog.Error("MCP RunPipeline: run ended early", "run_id", runID, "error", err)
	}

	if s.archive != nil {
		if err := s.archive.Save(ctx, record); err != nil {
			slog.Error("MCP RunPipeline: archive failed", "run_id", record.ID, "error", err)
		}
	}

	return newRunSummary(record), nil
}

func (s *Server) handlePreviewPlan(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (PlanResponse, error) {
	var in runArgs
	if err := mapstructure.Decode(args, &in); err != nil {
		return PlanResponse{}, fmt.Errorf("bad arguments: %w", err)
	}

	goal, err := domain.SanitizeGoal(in.Goal)
	if err != nil {
		slog.Warn("MCP PreviewPlan: goal rejected", "error", err, "size", len(in.Goal))
		return PlanResponse{}, fmt.Errorf("goal rejected: %w", err)
	}

	plan, fallback := s.engine.PreviewPlan(ctx, goal)
	return newPlanResponse(goal, plan, fallback), nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunSummary, error) {
	var in runArgs
	if err := mapstructure.Decode(args, &in); err != nil {
		return RunSummary{}, fmt.Errorf("bad arguments: %w", err)
	}
	if s.archive == nil {
		return RunSummary{}, fmt.Errorf("no run archive configured")
	}

	record, err := s.archive.Load(ctx, in.RunID)
	if errors.Is(err, domain.ErrRunNotFound) {
		return RunSummary{}, fmt.Errorf("unknown run %q", in.RunID)
	}
	if err != nil {
		return RunSummary{}, fmt.Errorf("load run: %w", err)
	}
	return newRunSummary(record), nil
}

func newRunSummary(record *domain.RunRecord) RunSummary {
	return RunSummary{
		RunID:          record.ID,
		Status:         string(record.Status),
		Goal:           record.Goal,
		TaskCount:      record.TaskCount,
		CompletedCount: record.CompletedCount,
		Invocations:    record.Invocations,
		Decisions:      len(record.Decisions),
		ReportLocation: record.ReportLocation,
		Report:         report.Render(domain.ReportFromRecord(record)),
	}
}

func newPlanResponse(goal string, plan domain.Plan, fallback bool) PlanResponse {
	steps := make([]PlanStep, 0, plan.Len())
	for _, n := range plan.Numbers() {
		step, _ := plan.Step(n)
		steps = append(steps, PlanStep{Step: n, Agent: string(step.Agent), Action: step.Action})
	}
	return PlanResponse{Goal: goal, Fallback: fallback, Steps: steps}
}

func (s *Server) registerResources() {
	// EXPOSE: espalier://runs
	s.mcpServer.AddResource(mcp.NewResource("espalier://runs", "Archived Run Index",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if s.archive == nil {
			return nil, fmt.Errorf("no run archive configured")
		}
		ids, err := s.archive.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		if ids == nil {
			ids = []string{}
		}
		jsonBytes, _ := json.Marshal(map[string][]string{"archived": ids})

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "espalier://runs",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
