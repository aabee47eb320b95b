package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// ArchiveStore persists immutable records of completed runs for post-hoc
// inspection. Records are written once after terminal state; they are never
// loaded back into a live run.
type ArchiveStore interface {
	// Save persists the record under record.ID.
	Save(ctx context.Context, record *domain.RunRecord) error

	// Load retrieves a record by run ID.
	// Returns domain.ErrRunNotFound if the run does not exist.
	Load(ctx context.Context, runID string) (*domain.RunRecord, error)

	// List returns known run IDs, most recent first where the backend can
	// order them.
	List(ctx context.Context) ([]string, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, runID string) error
}
