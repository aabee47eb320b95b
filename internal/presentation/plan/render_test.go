package plan_test

import (
	"strings"
	"testing"

	planview "github.com/aretw0/espalier/internal/presentation/plan"
	"github.com/aretw0/espalier/pkg/domain"
)

func TestTable(t *testing.T) {
	got := planview.Table(domain.FallbackPlan())

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("Table() rendered %d lines, want header + 4 steps:\n%s", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "STEP") {
		t.Errorf("Table() header = %q, want it to start with STEP", lines[0])
	}
	for _, want := range []string{
		"task_fetcher",
		"task_classifier",
		"task_loop",
		"markdown_writer",
		"Fetch the tasks due today",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Table() = \n%v\nWant substring: %v", got, want)
		}
	}
}

func TestYAML(t *testing.T) {
	got, err := planview.YAML(domain.FallbackPlan())
	if err != nil {
		t.Fatalf("YAML() error: %v", err)
	}

	for _, want := range []string{
		"steps:",
		"- step: 1",
		"agent: task_fetcher",
		"action: Fetch the tasks due today",
		"- step: 4",
		"agent: markdown_writer",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("YAML() = \n%v\nWant substring: %v", got, want)
		}
	}
}

func TestMermaid(t *testing.T) {
	tests := []struct {
		name     string
		plan     domain.Plan
		contains []string
	}{
		{
			name: "Chain And Terminals",
			plan: domain.FallbackPlan(),
			contains: []string{
				"graph TD",
				"start((start))",
				"start --> s1",
				"s1 --> s2",
				"s2 --> s3",
				"s3 --> s4",
				"s4 --> done((done))",
			},
		},
		{
			name: "Task Loop Shape",
			plan: domain.FallbackPlan(),
			contains: []string{
				`s3[["3. task_loop<br/>Process each task with the right specialist"]]`,
				`s3 -. "next task" .-> s3`,
			},
		},
		{
			name: "Label Escaping",
			plan: domain.Plan{Steps: map[int]domain.PlanStep{
				1: {Agent: domain.AgentWriter, Action: `Write the "final" report`},
			}},
			contains: []string{
				`s1["1. markdown_writer<br/>Write the 'final' report"]`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planview.Mermaid(tt.plan)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("Mermaid() = \n%v\nWant substring: %v", got, want)
				}
			}
		})
	}
}
