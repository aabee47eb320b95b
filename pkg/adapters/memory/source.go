// Package memory provides in-memory adapters: a fixture task source for
// tests, demos, and offline runs, and the default archive store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/espalier/pkg/domain"
)

// Source implements ports.TaskSource over a fixed set of tasks.
type Source struct {
	tasks []domain.Task
}

// NewSource builds a source that serves the given tasks in order.
func NewSource(tasks ...domain.Task) *Source {
	copied := make([]domain.Task, len(tasks))
	copy(copied, tasks)
	return &Source{tasks: copied}
}

// NewSourceFromJSON builds a source from a JSON array of tasks.
func NewSourceFromJSON(data []byte) (*Source, error) {
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("memory: parse task fixture: %w", err)
	}
	for i, task := range tasks {
		if task.ID == "" {
			return nil, fmt.Errorf("memory: fixture task %d is missing an id", i)
		}
	}
	return &Source{tasks: tasks}, nil
}

// NewSourceFromFile loads a JSON task fixture from disk.
func NewSourceFromFile(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memory: read task fixture: %w", err)
	}
	return NewSourceFromJSON(data)
}

// Fetch returns a copy of the fixture tasks. A positive limit truncates.
func (s *Source) Fetch(ctx context.Context, limit int) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(s.tasks)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Task, n)
	copy(out, s.tasks[:n])
	return out, nil
}
