package report

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/espalier/pkg/domain"
)

func sampleReport() *domain.Report {
	due := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	return &domain.Report{
		RunID:          "run-ab12cd34",
		Goal:           "clear today's queue",
		GeneratedAt:    time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC),
		TaskCount:      2,
		CompletedCount: 1,
		Invocations:    11,
		Sections: []domain.ReportSection{
			{
				Task: domain.Task{
					ID:          "t1",
					Content:     "Research vector databases",
					Description: "Compare HNSW options",
					Labels:      []string{"research"},
					Priority:    3,
					Due:         &due,
					ProjectName: "Deep Work",
				},
				Classification: domain.ClassResearch,
				Result:         "Summarized three engines.",
				Completed:      true,
				History:        []string{"research_processor"},
			},
			{
				Task:           domain.Task{ID: "t2", Content: "Email the accountant"},
				Classification: domain.ClassUnknown,
			},
		},
	}
}

func TestWritePersistsRenderedMarkdown(t *testing.T) {
	sink, err := New(t.TempDir())
	require.NoError(t, err)

	location, err := sink.Write(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`task_report_20250315_093000_ab12cd34\.md$`), location)

	data, err := os.ReadFile(location)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "# Task Processing Report - 2025-03-15")
	assert.Contains(t, text, "**Goal:** clear today's queue")
	assert.Contains(t, text, "**Total Tasks:** 2")
	assert.Contains(t, text, "**Completed:** 1")
	assert.Contains(t, text, "## 1. Research vector databases")
	assert.Contains(t, text, "**Type:** research")
	assert.Contains(t, text, "**Project:** Deep Work")
	assert.Contains(t, text, "**Description:** Compare HNSW options")
	assert.Contains(t, text, "**Due Date:** 2025-03-14")
	assert.Contains(t, text, "**Processed by:** research_processor")
	assert.Contains(t, text, "Summarized three engines.")
	assert.Contains(t, text, "## 2. Email the accountant")
	assert.Contains(t, text, "**Type:** unclassified")
	assert.Contains(t, text, "**Project:** Unknown Project")
	assert.Contains(t, text, "Not yet processed")
	// Frontmatter carries the run identity.
	assert.Contains(t, text, "run_id: run-ab12cd34")
}

func TestWriteHandlesEmptyReports(t *testing.T) {
	sink, err := New(t.TempDir())
	require.NoError(t, err)

	report := &domain.Report{RunID: "run-1", GeneratedAt: time.Now()}
	location, err := sink.Write(context.Background(), report)
	require.NoError(t, err)

	data, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Contains(t, string(data), "No tasks were available for this run.")
}

func TestWriteRequiresAReport(t *testing.T) {
	sink, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = sink.Write(context.Background(), nil)
	assert.Error(t, err)
}

func TestRenderNumbersSectionsInOrder(t *testing.T) {
	text := Render(sampleReport())

	first := regexp.MustCompile(`## 1\. Research vector databases`).FindStringIndex(text)
	second := regexp.MustCompile(`## 2\. Email the accountant`).FindStringIndex(text)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Less(t, first[0], second[0])
}

func TestNewDefaultsDirectory(t *testing.T) {
	// Point the default at a temp location by changing directory.
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, os.Chdir(t.TempDir()))

	sink, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "reports", filepath.Base(sink.dir))
}
