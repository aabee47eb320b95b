package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// ProcessRequest is the input to a per-task content processor.
type ProcessRequest struct {
	Task           domain.Task
	Classification domain.Classification

	// Context carries prior output for the task, truncated by the caller.
	Context string
}

// Processor produces free-form text for one task. The core stores the output
// verbatim as the task's result and never interprets it.
type Processor interface {
	// Kind identifies the processor in plans, routing decisions, and history.
	Kind() domain.AgentKind

	Process(ctx context.Context, req ProcessRequest) (string, error)
}
