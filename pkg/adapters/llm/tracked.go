package llm

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/observability"
	"github.com/aretw0/espalier/pkg/ports"
)

// Tracked wraps a client with call accounting: every exchange is counted in
// the metrics and logged at debug level. The engine records its own decision
// calls in the run ledger; Tracked gives the classifier and the processors
// the same visibility for the calls they make on their own behalf.
type Tracked struct {
	inner   ports.ModelClient
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewTracked wraps the client. Metrics may be nil; the logger defaults to a
// discard logger.
func NewTracked(inner ports.ModelClient, metrics *observability.Metrics, logger *slog.Logger) *Tracked {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracked{inner: inner, metrics: metrics, logger: logger}
}

// Model returns the wrapped client's model name.
func (t *Tracked) Model() string { return t.inner.Model() }

// Complete delegates to the wrapped client and records the exchange. Failed
// calls are recorded with the failure suffix, matching the run ledger.
func (t *Tracked) Complete(ctx context.Context, req ports.ModelRequest) (string, error) {
	start := time.Now()
	text, err := t.inner.Complete(ctx, req)

	call := domain.ModelCall{
		Timestamp:     start,
		Node:          req.Node,
		Model:         t.inner.Model(),
		Temperature:   req.Temperature,
		PromptChars:   len(req.Prompt),
		ResponseChars: len(text),
		Duration:      time.Since(start),
		Purpose:       req.Purpose,
	}
	if err != nil {
		call.Purpose += domain.FailedSuffix
	}
	t.metrics.ObserveCall(call)
	t.logger.Debug("model call",
		"node", call.Node,
		"model", call.Model,
		"purpose", call.Purpose,
		"duration", call.Duration,
	)
	return text, err
}
