package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/espalier/internal/prompts"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// Processor implements ports.Processor with one model call per task. The
// prompt follows the task's classification, so the research processor asked
// to handle a learning task still produces learning-shaped output.
type Processor struct {
	kind  domain.AgentKind
	model ports.ModelClient
}

// NewProcessor builds a model-backed processor of the given kind.
func NewProcessor(kind domain.AgentKind, model ports.ModelClient) (*Processor, error) {
	if !kind.IsProcessor() {
		return nil, fmt.Errorf("llm: %q is not a processor kind", kind)
	}
	return &Processor{kind: kind, model: model}, nil
}

// NewProcessors builds one model-backed processor per content-processor kind.
func NewProcessors(model ports.ModelClient) []*Processor {
	kinds := domain.ProcessorKinds()
	out := make([]*Processor, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, &Processor{kind: kind, model: model})
	}
	return out
}

// Kind identifies the processor in plans, routing decisions, and history.
func (p *Processor) Kind() domain.AgentKind { return p.kind }

// Process produces the task's content. Prior output for the task, when the
// caller supplies it, is quoted back so repeat visits refine instead of
// starting over.
func (p *Processor) Process(ctx context.Context, req ports.ProcessRequest) (string, error) {
	mreq := prompts.Processor(p.kind, req.Task, req.Classification)
	if req.Context != "" {
		mreq.Prompt += "\n\nPREVIOUS OUTPUT FOR THIS TASK:\n" + req.Context
	}

	text, err := p.model.Complete(ctx, mreq)
	if err != nil {
		return "", fmt.Errorf("llm: %s: %w", p.kind, err)
	}
	out := strings.TrimSpace(text)
	if out == "" {
		return "", fmt.Errorf("llm: %s returned an empty response", p.kind)
	}
	return out, nil
}
