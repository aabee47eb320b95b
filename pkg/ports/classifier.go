package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// Classifier labels tasks. The run trusts the returned mapping as
// authoritative once set; tasks missing from it stay unclassified.
type Classifier interface {
	Classify(ctx context.Context, tasks []domain.Task) (map[string]domain.Classification, error)
}
