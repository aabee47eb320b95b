// Package file archives run records as JSON files on the local filesystem.
// Writes go through a temp file, fsync, and rename, so a crash mid-write
// never leaves a partial record behind.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// Store implements ports.ArchiveStore on a directory of JSON files.
type Store struct {
	BasePath string
}

// New creates a store rooted at basePath. An empty path defaults to
// ".espalier/runs".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".espalier", "runs")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) runPath(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("file: a run ID is required")
	}
	// Run IDs become file names; anything that could escape the archive
	// directory is rejected rather than sanitized.
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("file: run ID %q is not a valid file name", runID)
	}
	return filepath.Join(s.BasePath, runID+".json"), nil
}

// Save writes the record atomically.
func (s *Store) Save(ctx context.Context, record *domain.RunRecord) error {
	if record == nil {
		return fmt.Errorf("file: a run record is required")
	}
	dest, err := s.runPath(record.ID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("file: ensure archive directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("file: marshal run %s: %w", record.ID, err)
	}

	// The temp file lives in the destination directory so the rename stays
	// on one filesystem.
	tmp, err := os.CreateTemp(s.BasePath, "tmp-run-*.json")
	if err != nil {
		return fmt.Errorf("file: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("file: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("file: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close temp file: %w", err)
	}

	// os.Rename cannot replace an existing file on Windows, so clear the
	// destination first.
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("file: replace run %s: %w", record.ID, err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("file: publish run %s: %w", record.ID, err)
	}
	return nil
}

// Load reads a record by run ID.
func (s *Store) Load(ctx context.Context, runID string) (*domain.RunRecord, error) {
	path, err := s.runPath(runID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file: run %s: %w", runID, domain.ErrRunNotFound)
		}
		return nil, fmt.Errorf("file: read run %s: %w", runID, err)
	}

	var record domain.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("file: unmarshal run %s: %w", runID, err)
	}
	return &record, nil
}

// List returns run IDs, most recently written first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("file: list runs: %w", err)
	}

	type item struct {
		id  string
		mod time.Time
	}
	items := make([]item, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if strings.HasPrefix(entry.Name(), "tmp-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, item{
			id:  strings.TrimSuffix(entry.Name(), ".json"),
			mod: info.ModTime(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].mod.Equal(items[j].mod) {
			return items[i].id > items[j].id
		}
		return items[i].mod.After(items[j].mod)
	})

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids, nil
}

// Delete removes a record file. Deleting a missing run is not an error.
func (s *Store) Delete(ctx context.Context, runID string) error {
	path, err := s.runPath(runID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file: delete run %s: %w", runID, err)
	}
	return nil
}
