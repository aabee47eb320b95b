package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/loam"

	"github.com/aretw0/espalier/pkg/adapters/notes"
	"github.com/aretw0/espalier/pkg/domain"
)

// demoConfig points a run at the generated workspace. Paths are relative, so
// the pipeline has to be started from the workspace directory.
const demoConfig = `model:
  provider: ollama
  name: llama3.2

tasks:
  source: fixture
  fixture_path: tasks.json

output:
  reports_dir: reports
  notes_dir: notes

archive:
  backend: file
  dir: runs
`

func main() {
	targetDir := "examples/demo-day"
	if len(os.Args) > 1 {
		targetDir = os.Args[1]
	}

	// Ensure dir exists
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		panic(err)
	}

	fmt.Printf("Seeding demo workspace in: %s\n", targetDir)

	now := time.Now()
	tomorrow := now.Add(24 * time.Hour)
	nextWeek := now.Add(7 * 24 * time.Hour)

	// One task per processor family, so a demo run shows every route.
	tasks := []domain.Task{
		{
			ID:          "t-101",
			Content:     "Research drip irrigation controllers",
			Description: "Compare at least three controllers that support per-zone schedules.",
			Labels:      []string{"research"},
			Priority:    3,
			Due:         &tomorrow,
			ProjectID:   "p-garden",
			ProjectName: "Garden",
		},
		{
			ID:          "t-102",
			Content:     "Prune the pear cordons",
			Description: "Second-year spurs only; leave the leader alone.",
			Priority:    2,
			Due:         &tomorrow,
			ProjectID:   "p-garden",
			ProjectName: "Garden",
		},
		{
			ID:          "t-103",
			Content:     "Read the chapter on rootstock grafting",
			Description: "Chapter 4 of the propagation handbook.",
			Labels:      []string{"learning"},
			ProjectID:   "p-garden",
			ProjectName: "Garden",
		},
		{
			ID:          "t-104",
			Content:     "Plan the fall planting schedule",
			Description: "Beds 2 and 3 free up after the squash harvest.",
			Labels:      []string{"planning"},
			Due:         &nextWeek,
			ProjectID:   "p-garden",
			ProjectName: "Garden",
		},
	}

	data, err := json.MarshalIndent(tasks, "", "  ")
	check(err)
	fixturePath := filepath.Join(targetDir, "tasks.json")
	check(os.WriteFile(fixturePath, data, 0644))
	fmt.Println("Wrote task fixture:", fixturePath)

	configPath := filepath.Join(targetDir, "espalier.yaml")
	check(os.WriteFile(configPath, []byte(demoConfig), 0644))
	fmt.Println("Wrote config:", configPath)

	// Init Loam (No Versioning = pure file generation)
	notesDir := filepath.Join(targetDir, "notes")
	check(os.MkdirAll(notesDir, 0755))
	repo, err := loam.Init(notesDir, loam.WithVersioning(false))
	check(err)

	typedRepo := loam.NewTypedRepository[notes.NoteMetadata](repo)
	ctx := context.TODO()

	// A preexisting note for the learning task. The next run appends an
	// update section instead of starting a fresh note.
	created := now.Add(-7 * 24 * time.Hour)
	noteContent := fmt.Sprintf(`# Read the chapter on rootstock grafting

**Project:** Garden
**Due:** none
**Labels:** learning

---

## Task Description

Chapter 4 of the propagation handbook.

---

## Entry: %s

Dwarfing rootstocks trade vigor for early fruiting. M9 needs staking for
life; MM106 tolerates heavier soil but ripens later.
`, created.Format("January 2, 2006 at 3:04 PM"))

	err = typedRepo.Save(ctx, &loam.DocumentModel[notes.NoteMetadata]{
		ID:      "read_the_chapter_on_rootstock_grafting",
		Content: noteContent,
		Data: notes.NoteMetadata{
			TaskID:         "t-103",
			Task:           "Read the chapter on rootstock grafting",
			Project:        "Garden",
			Labels:         []string{"learning"},
			Classification: string(domain.ClassLearning),
			CreatedAt:      created.Format(time.RFC3339),
			UpdatedAt:      created.Format(time.RFC3339),
			Updates:        1,
		},
	})
	check(err)
	fmt.Println("Seeded notes in:", notesDir)

	fmt.Printf("Done. Try: cd %s && espalier run \"Clear the garden backlog\"\n", targetDir)
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}
