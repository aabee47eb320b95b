// Package plan renders plan previews for the CLI: an aligned table, YAML, or
// a Mermaid flowchart.
package plan

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/espalier/pkg/domain"
)

// Table renders the plan as aligned columns.
func Table(p domain.Plan) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tAGENT\tACTION")
	for _, n := range p.Numbers() {
		step, _ := p.Step(n)
		fmt.Fprintf(w, "%d\t%s\t%s\n", n, step.Agent, step.Action)
	}
	_ = w.Flush()
	return b.String()
}

type yamlStep struct {
	Step   int    `yaml:"step"`
	Agent  string `yaml:"agent"`
	Action string `yaml:"action"`
}

// YAML renders the plan as a YAML step list, in step order.
func YAML(p domain.Plan) (string, error) {
	doc := struct {
		Steps []yamlStep `yaml:"steps"`
	}{}
	for _, n := range p.Numbers() {
		step, _ := p.Step(n)
		doc.Steps = append(doc.Steps, yamlStep{Step: n, Agent: string(step.Agent), Action: step.Action})
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("render plan: %w", err)
	}
	return string(out), nil
}

// Mermaid produces a Mermaid flowchart of the plan. The task loop renders as
// a subroutine node with a self-edge for the per-task cycle.
func Mermaid(p domain.Plan) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	sb.WriteString("    start((start))\n")

	prev := "start"
	for _, n := range p.Numbers() {
		step, _ := p.Step(n)
		id := fmt.Sprintf("s%d", n)

		opener, closer := "[", "]"
		if step.Agent == domain.AgentTaskLoop {
			opener, closer = "[[", "]]" // Subroutine
		}

		// Escape double quotes for the Mermaid label.
		action := strings.ReplaceAll(step.Action, "\"", "'")
		sb.WriteString(fmt.Sprintf("    %s%s\"%d. %s<br/>%s\"%s\n", id, opener, n, step.Agent, action, closer))
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", prev, id))
		if step.Agent == domain.AgentTaskLoop {
			sb.WriteString(fmt.Sprintf("    %s -. \"next task\" .-> %s\n", id, id))
		}
		prev = id
	}

	sb.WriteString(fmt.Sprintf("    %s --> done((done))\n", prev))
	return sb.String()
}
