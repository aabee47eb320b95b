package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// ReportSink persists the final report and returns its location (a path, URL,
// or identifier meaningful to the adapter).
type ReportSink interface {
	Write(ctx context.Context, report *domain.Report) (string, error)
}

// NoteStore persists per-task learning notes across runs. Append creates the
// note on first use and appends a dated update section afterwards, returning
// the note's location.
type NoteStore interface {
	Append(ctx context.Context, task domain.Task, classification domain.Classification, body string) (string, error)
}
