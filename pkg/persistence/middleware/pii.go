package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

type piiStore struct {
	next     ports.ArchiveStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware wraps an archive so that substrings matching the patterns
// (emails, phone numbers, account IDs) are replaced with "***" in every
// task-derived text field before the record reaches the backend. Masking is
// one-way: loads return what was stored.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.ArchiveStore) ports.ArchiveStore {
		return &piiStore{next: next, patterns: patterns}
	}
}

func (s *piiStore) Save(ctx context.Context, record *domain.RunRecord) error {
	// Clone before masking so the engine's in-memory record stays intact.
	masked := s.maskRecord(record)
	return s.next.Save(ctx, masked)
}

func (s *piiStore) Load(ctx context.Context, runID string) (*domain.RunRecord, error) {
	return s.next.Load(ctx, runID)
}

func (s *piiStore) List(ctx context.Context) ([]string, error) {
	return s.next.List(ctx)
}

func (s *piiStore) Delete(ctx context.Context, runID string) error {
	return s.next.Delete(ctx, runID)
}

func (s *piiStore) maskRecord(record *domain.RunRecord) *domain.RunRecord {
	clone := *record
	clone.Goal = s.mask(record.Goal)

	clone.Tasks = make([]domain.Task, len(record.Tasks))
	for i, task := range record.Tasks {
		task.Content = s.mask(task.Content)
		task.Description = s.mask(task.Description)
		clone.Tasks[i] = task
	}

	clone.Results = make(map[string]string, len(record.Results))
	for id, result := range record.Results {
		clone.Results[id] = s.mask(result)
	}

	clone.Notes = make([]string, len(record.Notes))
	for i, note := range record.Notes {
		clone.Notes[i] = s.mask(note)
	}

	clone.Decisions = make([]domain.RoutingDecision, len(record.Decisions))
	for i, decision := range record.Decisions {
		decision.Reason = s.mask(decision.Reason)
		clone.Decisions[i] = decision
	}

	return &clone
}

func (s *piiStore) mask(text string) string {
	for _, p := range s.patterns {
		text = p.ReplaceAllString(text, "***")
	}
	return text
}
