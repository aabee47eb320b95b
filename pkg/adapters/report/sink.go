// Package report renders run reports as markdown and persists them through a
// loam repository, one timestamped document per run.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/loam"

	"github.com/aretw0/espalier/pkg/domain"
)

// ReportMetadata is the frontmatter of a persisted report.
type ReportMetadata struct {
	RunID     string `json:"run_id" mapstructure:"run_id"`
	Goal      string `json:"goal" mapstructure:"goal"`
	Generated string `json:"generated" mapstructure:"generated"`
	Tasks     int    `json:"tasks" mapstructure:"tasks"`
	Completed int    `json:"completed" mapstructure:"completed"`
}

// Sink implements ports.ReportSink on a loam repository.
type Sink struct {
	repo *loam.TypedRepository[ReportMetadata]
	dir  string
	now  func() time.Time
}

// New initializes a report repository rooted at dir. An empty dir defaults
// to "reports".
func New(dir string) (*Sink, error) {
	if dir == "" {
		dir = "reports"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("report: invalid directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("report: ensure directory: %w", err)
	}

	repo, err := loam.Init(abs, loam.WithVersioning(false))
	if err != nil {
		return nil, fmt.Errorf("report: init repository: %w", err)
	}
	return &Sink{
		repo: loam.NewTypedRepository[ReportMetadata](repo),
		dir:  abs,
		now:  time.Now,
	}, nil
}

// Write renders the report and saves it, returning the file location.
func (s *Sink) Write(ctx context.Context, report *domain.Report) (string, error) {
	if report == nil {
		return "", fmt.Errorf("report: a report is required")
	}

	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = s.now()
	}

	id := "task_report_" + generated.Format("20060102_150405")
	if suffix := strings.TrimPrefix(report.RunID, "run-"); suffix != "" {
		id += "_" + suffix
	}

	doc := &loam.DocumentModel[ReportMetadata]{
		ID:      id,
		Content: Render(report),
		Data: ReportMetadata{
			RunID:     report.RunID,
			Goal:      report.Goal,
			Generated: generated.Format(time.RFC3339),
			Tasks:     report.TaskCount,
			Completed: report.CompletedCount,
		},
	}
	if err := s.repo.Save(ctx, doc); err != nil {
		return "", fmt.Errorf("report: save %s: %w", id, err)
	}
	return filepath.Join(s.dir, id+".md"), nil
}

// Render produces the markdown body: a stats header followed by one numbered
// section per task.
func Render(report *domain.Report) string {
	generated := report.GeneratedAt
	var b strings.Builder

	fmt.Fprintf(&b, "# Task Processing Report - %s\n\n", generated.Format("2006-01-02"))
	if report.Goal != "" {
		fmt.Fprintf(&b, "**Goal:** %s\n\n", report.Goal)
	}
	fmt.Fprintf(&b, "**Total Tasks:** %d\n\n", report.TaskCount)
	fmt.Fprintf(&b, "**Completed:** %d\n\n", report.CompletedCount)
	fmt.Fprintf(&b, "**Model Invocations:** %d\n\n", report.Invocations)
	b.WriteString("---\n\n")

	if len(report.Sections) == 0 {
		b.WriteString("No tasks were available for this run.\n")
		return b.String()
	}

	for i, section := range report.Sections {
		task := section.Task

		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, task.Content)
		fmt.Fprintf(&b, "**Type:** %s\n\n", classificationLabel(section.Classification))

		project := task.ProjectName
		if project == "" {
			project = "Unknown Project"
		}
		fmt.Fprintf(&b, "**Project:** %s\n\n", project)

		if task.Description != "" {
			fmt.Fprintf(&b, "**Description:** %s\n\n", task.Description)
		}
		if len(task.Labels) > 0 {
			fmt.Fprintf(&b, "**Labels:** %s\n\n", strings.Join(task.Labels, ", "))
		}
		fmt.Fprintf(&b, "**Due Date:** %s\n\n", task.DueString())
		if task.Priority > 0 {
			fmt.Fprintf(&b, "**Priority:** %d\n\n", task.Priority)
		}
		if len(section.History) > 0 {
			fmt.Fprintf(&b, "**Processed by:** %s\n\n", strings.Join(section.History, ", "))
		}

		result := section.Result
		if result == "" {
			result = "Not yet processed"
		}
		fmt.Fprintf(&b, "### Processing Result:\n\n%s\n\n", result)
		b.WriteString("---\n\n")
	}

	return b.String()
}

func classificationLabel(c domain.Classification) string {
	if c == "" || c == domain.ClassUnknown {
		return "unclassified"
	}
	return string(c)
}
