package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/espalier/internal/prompts"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// Classifier implements ports.Classifier with one model call for the whole
// batch. The expected response is a JSON object mapping task ID to label;
// labels outside the known set come back as ClassUnknown and take the default
// route downstream.
type Classifier struct {
	model  ports.ModelClient
	logger *slog.Logger
}

// NewClassifier builds a batch classifier over the given client.
func NewClassifier(model ports.ModelClient, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Classifier{model: model, logger: logger}
}

// Classify labels the tasks. Tasks the response does not mention are left out
// of the returned map and stay unclassified.
func (c *Classifier) Classify(ctx context.Context, tasks []domain.Task) (map[string]domain.Classification, error) {
	labels := make(map[string]domain.Classification, len(tasks))
	if len(tasks) == 0 {
		return labels, nil
	}

	text, err := c.model.Complete(ctx, prompts.Classifier(tasks))
	if err != nil {
		return nil, fmt.Errorf("llm: classify: %w", err)
	}
	raw, err := domain.ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("llm: classify: %w", err)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("llm: classify: %w: %v", domain.ErrDecisionParse, err)
	}

	for _, task := range tasks {
		label, ok := payload[task.ID]
		if !ok {
			continue
		}
		class := domain.ParseClassification(label)
		if class == domain.ClassUnknown {
			c.logger.Warn("unrecognized classification label", "task_id", task.ID, "label", label)
		}
		labels[task.ID] = class
	}
	return labels, nil
}
