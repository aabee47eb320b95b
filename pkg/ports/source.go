package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// TaskSource fetches the ordered work items a run operates on.
type TaskSource interface {
	// Fetch returns tasks in source order. A positive limit caps how many
	// tasks are consumed; zero or negative means no cap.
	Fetch(ctx context.Context, limit int) ([]domain.Task, error)
}
