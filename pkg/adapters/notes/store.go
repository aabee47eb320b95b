// Package notes persists per-task learning notes as markdown documents with
// typed frontmatter. Each task owns one document, extended with a dated
// section on every revisit, so learning context accumulates across runs.
package notes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/loam"

	"github.com/aretw0/espalier/pkg/domain"
)

// NoteMetadata is the frontmatter of a learning note.
type NoteMetadata struct {
	TaskID         string   `json:"task_id" mapstructure:"task_id"`
	Task           string   `json:"task" mapstructure:"task"`
	Project        string   `json:"project,omitempty" mapstructure:"project"`
	Labels         []string `json:"labels,omitempty" mapstructure:"labels"`
	Classification string   `json:"classification" mapstructure:"classification"`
	CreatedAt      string   `json:"created_at" mapstructure:"created_at"`
	UpdatedAt      string   `json:"updated_at" mapstructure:"updated_at"`
	Updates        int      `json:"updates" mapstructure:"updates"`
}

// Store implements ports.NoteStore on a loam repository.
type Store struct {
	repo *loam.TypedRepository[NoteMetadata]
	dir  string
	now  func() time.Time
}

// New initializes a note repository rooted at dir. An empty dir defaults to
// "notes".
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = "notes"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("notes: invalid directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("notes: ensure directory: %w", err)
	}

	repo, err := loam.Init(abs, loam.WithVersioning(false))
	if err != nil {
		return nil, fmt.Errorf("notes: init repository: %w", err)
	}
	return &Store{
		repo: loam.NewTypedRepository[NoteMetadata](repo),
		dir:  abs,
		now:  time.Now,
	}, nil
}

// Append writes body under a dated heading in the task's note, creating the
// note on first contact. It returns the note's location on disk.
func (s *Store) Append(ctx context.Context, task domain.Task, classification domain.Classification, body string) (string, error) {
	id := noteID(task.Content)
	if id == "" {
		id = noteID("task " + task.ID)
	}
	if id == "" {
		return "", fmt.Errorf("notes: task has neither content nor ID to name a note after")
	}

	now := s.now()
	stamp := now.Format("January 2, 2006 at 3:04 PM")
	body = strings.TrimSpace(body)

	// A failed lookup means the note does not exist yet.
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		meta := NoteMetadata{
			TaskID:         task.ID,
			Task:           task.Content,
			Project:        task.ProjectName,
			Labels:         task.Labels,
			Classification: string(classification),
			CreatedAt:      now.Format(time.RFC3339),
			UpdatedAt:      now.Format(time.RFC3339),
			Updates:        1,
		}
		content := noteHeader(task) + fmt.Sprintf("## Entry: %s\n\n%s\n", stamp, body)
		doc := &loam.DocumentModel[NoteMetadata]{
			ID:      id,
			Content: content,
			Data:    meta,
		}
		if err := s.repo.Save(ctx, doc); err != nil {
			return "", fmt.Errorf("notes: create note %s: %w", id, err)
		}
		return s.location(id), nil
	}

	meta := existing.Data
	meta.UpdatedAt = now.Format(time.RFC3339)
	meta.Updates++
	if meta.Classification == "" {
		meta.Classification = string(classification)
	}

	content := strings.TrimRight(existing.Content, "\n")
	content += fmt.Sprintf("\n\n---\n\n## Update: %s\n\n%s\n", stamp, body)

	doc := &loam.DocumentModel[NoteMetadata]{
		ID:      id,
		Content: content,
		Data:    meta,
	}
	if err := s.repo.Save(ctx, doc); err != nil {
		return "", fmt.Errorf("notes: update note %s: %w", id, err)
	}
	return s.location(id), nil
}

func (s *Store) location(id string) string {
	return filepath.Join(s.dir, id+".md")
}

func noteHeader(task domain.Task) string {
	labels := "None"
	if len(task.Labels) > 0 {
		labels = strings.Join(task.Labels, ", ")
	}
	project := task.ProjectName
	if project == "" {
		project = "Unknown"
	}
	description := task.Description
	if description == "" {
		description = "No description provided"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", task.Content)
	fmt.Fprintf(&b, "**Project:** %s\n", project)
	fmt.Fprintf(&b, "**Due:** %s\n", task.DueString())
	fmt.Fprintf(&b, "**Labels:** %s\n\n", labels)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "## Task Description\n\n%s\n\n", description)
	b.WriteString("---\n\n")
	return b.String()
}

var (
	noteStripRE    = regexp.MustCompile(`[^\w\s-]`)
	noteSpaceRE    = regexp.MustCompile(`[\s-]+`)
	noteCollapseRE = regexp.MustCompile(`_+`)
)

// noteID turns task content into a stable file name: specials stripped,
// spaces to underscores, lowercased, capped at 100 characters.
func noteID(content string) string {
	id := noteStripRE.ReplaceAllString(content, "")
	id = noteSpaceRE.ReplaceAllString(id, "_")
	id = strings.ToLower(id)
	id = noteCollapseRE.ReplaceAllString(id, "_")
	if len(id) > 100 {
		id = id[:100]
	}
	return strings.Trim(id, "_")
}
