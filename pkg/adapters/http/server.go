// Package http serves the run API: runs are started asynchronously, observed
// live over SSE, and read back from the archive once finished. Requests are
// validated against the embedded OpenAPI document before they reach handlers.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/adapters/report"
	"github.com/aretw0/espalier/pkg/domain"
)

// Server implements the run API over a Manager.
type Server struct {
	manager *Manager
	logger  *slog.Logger
	metrics http.Handler
	doc     *openapi3.T
}

// ServerOption configures optional Server collaborators.
type ServerOption func(*Server)

// WithMetricsHandler overrides the /metrics handler, for servers that keep
// their collectors on a private registry.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewHandler builds the HTTP handler for the run API. It fails only when the
// embedded OpenAPI document does not parse.
func NewHandler(m *Manager, opts ...ServerOption) (http.Handler, error) {
	doc, err := Spec()
	if err != nil {
		return nil, err
	}
	validate, err := newValidator(doc)
	if err != nil {
		return nil, err
	}

	s := &Server{
		manager: m,
		logger:  m.logger,
		metrics: promhttp.Handler(),
		doc:     doc,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(validate)

	// Swagger UI
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(specYAML)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Method(http.MethodGet, "/metrics", s.metrics)

	r.Post("/runs", s.StartRun)
	r.Get("/runs", s.ListRuns)
	r.Get("/runs/{run_id}", s.GetRun)
	r.Get("/runs/{run_id}/decisions", s.GetRunDecisions)
	r.Get("/runs/{run_id}/timeline", s.GetRunTimeline)
	r.Get("/runs/{run_id}/calls", s.GetRunCalls)
	r.Get("/runs/{run_id}/report", s.GetRunReport)
	r.Get("/runs/{run_id}/events", s.StreamRunEvents)
	r.Get("/events", s.StreamEvents)

	return enableCORS(r), nil
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Espalier API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

type startRunRequest struct {
	Goal  string `json:"goal"`
	RunID string `json:"run_id"`
}

type startRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type runList struct {
	Live     []string `json:"live"`
	Archived []string `json:"archived"`
}

// StartRun handles the POST /runs request.
func (s *Server) StartRun(w http.ResponseWriter, r *http.Request) {
	var body startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("StartRun: invalid request body", "err", err)
		return
	}

	runID, err := s.manager.Start(r.Context(), body.RunID, body.Goal)
	switch {
	case errors.Is(err, ErrRunActive) || errors.Is(err, ErrRunArchived):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, domain.ErrGoalTooLarge) || errors.Is(err, domain.ErrGoalInvalidUTF8):
		http.Error(w, fmt.Sprintf("Invalid goal: %v", err), http.StatusBadRequest)
		s.logger.Warn("StartRun: goal rejected", "err", err)
		return
	case err != nil:
		http.Error(w, fmt.Sprintf("Start error: %v", err), http.StatusInternalServerError)
		s.logger.Error("StartRun failed", "err", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(startRunResponse{RunID: runID, Status: "accepted"}); err != nil {
		s.logger.Error("StartRun response encode failed", "err", err)
	}
}

// ListRuns handles the GET /runs request.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	archived, err := s.manager.Archive().List(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("List error: %v", err), http.StatusInternalServerError)
		s.logger.Error("ListRuns failed", "err", err)
		return
	}
	if archived == nil {
		archived = []string{}
	}
	live := s.manager.LiveIDs()
	if live == nil {
		live = []string{}
	}

	s.writeJSON(w, runList{Live: live, Archived: archived})
}

// GetRun handles the GET /runs/{run_id} request: a live snapshot while the
// run executes, the archived record afterwards.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	if snap, ok := s.manager.Snapshot(runID); ok {
		s.writeJSON(w, snap)
		return
	}

	record, err := s.manager.Archive().Load(r.Context(), runID)
	if errors.Is(err, domain.ErrRunNotFound) {
		http.Error(w, "Unknown run", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Load error: %v", err), http.StatusInternalServerError)
		s.logger.Error("GetRun failed", "run_id", runID, "err", err)
		return
	}
	s.writeJSON(w, record)
}

// GetRunDecisions handles the GET /runs/{run_id}/decisions request.
func (s *Server) GetRunDecisions(w http.ResponseWriter, r *http.Request) {
	record := s.archivedRecord(w, r)
	if record == nil {
		return
	}
	decisions := record.Decisions
	if decisions == nil {
		decisions = []domain.RoutingDecision{}
	}
	s.writeJSON(w, decisions)
}

// GetRunTimeline handles the GET /runs/{run_id}/timeline request.
func (s *Server) GetRunTimeline(w http.ResponseWriter, r *http.Request) {
	record := s.archivedRecord(w, r)
	if record == nil {
		return
	}
	timeline := record.Timeline
	if timeline == nil {
		timeline = []domain.ExecutionEvent{}
	}
	s.writeJSON(w, timeline)
}

// GetRunCalls handles the GET /runs/{run_id}/calls request.
func (s *Server) GetRunCalls(w http.ResponseWriter, r *http.Request) {
	record := s.archivedRecord(w, r)
	if record == nil {
		return
	}
	calls := record.Calls
	if calls == nil {
		calls = []domain.ModelCall{}
	}
	s.writeJSON(w, calls)
}

// GetRunReport handles the GET /runs/{run_id}/report request. The markdown is
// reconstructed from the record, so it works even when the run's report file
// landed on another machine.
func (s *Server) GetRunReport(w http.ResponseWriter, r *http.Request) {
	record := s.archivedRecord(w, r)
	if record == nil {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	fmt.Fprint(w, report.Render(domain.ReportFromRecord(record)))
}

// archivedRecord resolves the run for ledger endpoints: 409 while the run is
// live (the ledger is not final yet), 404 when it is unknown. A nil return
// means the response has been written.
func (s *Server) archivedRecord(w http.ResponseWriter, r *http.Request) *domain.RunRecord {
	runID := chi.URLParam(r, "run_id")

	if _, live := s.manager.Snapshot(runID); live {
		http.Error(w, "Run is still executing", http.StatusConflict)
		return nil
	}

	record, err := s.manager.Archive().Load(r.Context(), runID)
	if errors.Is(err, domain.ErrRunNotFound) {
		http.Error(w, "Unknown run", http.StatusNotFound)
		return nil
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Load error: %v", err), http.StatusInternalServerError)
		s.logger.Error("load archived run", "run_id", runID, "err", err)
		return nil
	}
	return record
}

// StreamRunEvents handles the GET /runs/{run_id}/events request (SSE).
func (s *Server) StreamRunEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("StreamRunEvents: streaming not supported")
		return
	}

	runID := chi.URLParam(r, "run_id")

	// Subscribe before the liveness check, so a run finishing in between
	// shows up as archived rather than vanishing.
	ch, cancel := s.manager.streams.Subscribe(runID)
	defer cancel()

	if _, live := s.manager.Snapshot(runID); !live {
		record, err := s.manager.Archive().Load(r.Context(), runID)
		if errors.Is(err, domain.ErrRunNotFound) {
			http.Error(w, "Unknown run", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("Load error: %v", err), http.StatusInternalServerError)
			return
		}

		// Archived: replay the finish event and end the stream.
		s.sseHeaders(w)
		fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
		payload, err := json.Marshal(Event{
			Type:  "finish",
			RunID: runID,
			At:    record.FinishedAt,
			Data:  newFinishData(record),
		})
		if err == nil {
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		flusher.Flush()
		return
	}

	s.sseHeaders(w)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("sse client disconnected", "run_id", runID)
			return
		case msg, ok := <-ch:
			if !ok {
				// Run finished; the topic was closed.
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// StreamEvents handles the GET /events request (SSE): every run's events,
// until the client disconnects.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("StreamEvents: streaming not supported")
		return
	}

	ch, cancel := s.manager.streams.Subscribe(allRunsTopic)
	defer cancel()

	s.sseHeaders(w)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("sse client disconnected", "topic", "all runs")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if s.doc != nil && s.doc.Info != nil {
		apiVersion = s.doc.Info.Version
	}

	s.writeJSON(w, map[string]string{
		"app":         "espalier-http",
		"version":     strings.TrimSpace(espalier.Version),
		"api_version": apiVersion,
	})
}

func (s *Server) sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}
