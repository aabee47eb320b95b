package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

// Store implements ports.ArchiveStore in memory. It is the default archive
// backend. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	data  map[string][]byte
	order []string
}

// NewStore creates an empty in-memory archive.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Save keeps a serialized copy so later mutation of the record does not
// reach into the archive.
func (s *Store) Save(ctx context.Context, record *domain.RunRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("memory: a run record with an ID is required")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("memory: marshal run %s: %w", record.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[record.ID]; !exists {
		s.order = append(s.order, record.ID)
	}
	s.data[record.ID] = raw
	return nil
}

// Load returns a copy of the stored record.
func (s *Store) Load(ctx context.Context, runID string) (*domain.RunRecord, error) {
	s.mu.RLock()
	raw, ok := s.data[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory: run %s: %w", runID, domain.ErrRunNotFound)
	}

	var record domain.RunRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("memory: unmarshal run %s: %w", runID, err)
	}
	return &record, nil
}

// List returns run IDs, most recently saved first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		ids = append(ids, s.order[i])
	}
	return ids, nil
}

// Delete removes a record. Deleting a missing run is not an error.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[runID]; !ok {
		return nil
	}
	delete(s.data, runID)
	for i, id := range s.order {
		if id == runID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
