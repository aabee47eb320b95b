// Package prompts builds the prompt text the pipeline sends to the decision
// service. The agent catalog here is the single source for the names and
// guidelines a decision payload is allowed to use.
package prompts

import (
	"fmt"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// AgentInfo describes one agent for prompt catalogs.
type AgentInfo struct {
	Name        string
	Capability  string
	UseWhen     string
	Limitations string
	Output      string
}

// agentCatalog holds the metadata for every dispatchable kind.
var agentCatalog = map[domain.AgentKind]AgentInfo{
	domain.AgentFetcher: {
		Name:        "Task Fetcher",
		Capability:  "Fetches today's tasks from the task tracker",
		UseWhen:     "At the beginning of the workflow to retrieve all tasks",
		Limitations: "Cannot modify tasks, only reads them",
		Output:      "List of tasks with content, description, labels, due dates",
	},
	domain.AgentClassifier: {
		Name:        "Task Type Classifier",
		Capability:  "Classifies each task into one of five types: research, planning, short, learning, or abstract",
		UseWhen:     "After fetching tasks, to determine how each should be processed",
		Limitations: "Can only classify, cannot process tasks",
		Output:      "Mapping from task IDs to task types",
	},
	domain.AgentResearch: {
		Name:        "Research Task Processor",
		Capability:  "Analyzes research tasks and identifies what needs to be researched",
		UseWhen:     "For tasks classified as research, learning, or abstract",
		Limitations: "Does not perform the actual web search",
		Output:      "Research plan with key questions and topics to investigate",
	},
	domain.AgentNextAction: {
		Name:        "Next Action Processor",
		Capability:  "Suggests the immediate next actionable step for short tasks",
		UseWhen:     "For tasks classified as short that need a clear next step",
		Limitations: "Only suggests one next action, does not create multi-step plans",
		Output:      "Single sentence describing the next action to take",
	},
	domain.AgentLearning: {
		Name:        "Learning Curriculum Builder",
		Capability:  "Creates a learning path for educational tasks",
		UseWhen:     "For tasks classified as learning",
		Limitations: "Cannot access external learning resources",
		Output:      "Learning plan with topics and suggested next steps",
	},
	domain.AgentPlanning: {
		Name:        "Planning Methodology Processor",
		Capability:  "Applies structured planning methodology to planning tasks",
		UseWhen:     "For tasks classified as planning",
		Limitations: "Follows a fixed planning structure",
		Output:      "Structured plan with milestones and success criteria",
	},
	domain.AgentWriter: {
		Name:        "Markdown Report Generator",
		Capability:  "Generates a formatted markdown report from all processed task results",
		UseWhen:     "After all tasks have been processed by specialized workers",
		Limitations: "Can only format existing results, cannot process tasks",
		Output:      "Markdown report with one section per task",
	},
}

// Describe returns the catalog entry for a kind.
func Describe(kind domain.AgentKind) (AgentInfo, bool) {
	info, ok := agentCatalog[kind]
	return info, ok
}

// CatalogLines renders "- name: capability" bullets for the given kinds.
func CatalogLines(kinds []domain.AgentKind) string {
	var b strings.Builder
	for _, k := range kinds {
		if info, ok := agentCatalog[k]; ok {
			fmt.Fprintf(&b, "- %s: %s\n", k, info.Capability)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Guidelines renders the detailed multi-line guidelines the planner sees.
func Guidelines(kinds []domain.AgentKind) string {
	blocks := make([]string, 0, len(kinds))
	for _, k := range kinds {
		info, ok := agentCatalog[k]
		if !ok {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("%s:\n- Use when: %s\n- Limitations: %s\n- Output: %s",
			info.Name, info.UseWhen, info.Limitations, info.Output))
	}
	return strings.Join(blocks, "\n\n")
}

// RouterGuidelines renders the compact per-kind guidance used by routing
// prompts.
func RouterGuidelines(kinds []domain.AgentKind) string {
	var b strings.Builder
	for _, k := range kinds {
		if info, ok := agentCatalog[k]; ok {
			fmt.Fprintf(&b, "- %s: %s. Use when: %s\n", k, info.Capability, info.UseWhen)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
