package domain

import "strings"

// AgentKind enumerates every routable kind in the pipeline. External strings
// (plan payloads, decision payloads) are converted through ParseAgentKind at
// the boundary; unrecognized names become AgentUnknown and take the
// classification-fallback route instead of crashing the run.
type AgentKind string

const (
	// Setup and teardown agents, dispatched at most once per run by the
	// linear sequencer.
	AgentFetcher    AgentKind = "task_fetcher"
	AgentClassifier AgentKind = "task_classifier"
	AgentWriter     AgentKind = "markdown_writer"

	// Per-task content processors, dispatched by the task-loop router.
	AgentResearch   AgentKind = "research_processor"
	AgentNextAction AgentKind = "next_action_processor"
	AgentLearning   AgentKind = "learning_processor"
	AgentPlanning   AgentKind = "planning_processor"

	// Sequencer-internal targets. Never dispatched to a processor.
	AgentTaskLoop AgentKind = "task_loop"
	AgentReplan   AgentKind = "replan"
	AgentTerminal AgentKind = "done"

	AgentUnknown AgentKind = ""
)

// CompleteSentinel is the goto value the task-loop router accepts as
// "this task is finished" in addition to the is_complete flag.
const CompleteSentinel = "task_complete"

// ParseAgentKind normalizes an external agent name. It maps the misnamings
// the decision service is known to produce onto canonical kinds before giving
// up, so a slightly wrong answer still routes.
func ParseAgentKind(s string) AgentKind {
	name := strings.ToLower(strings.TrimSpace(s))
	switch AgentKind(name) {
	case AgentFetcher, AgentClassifier, AgentWriter,
		AgentResearch, AgentNextAction, AgentLearning, AgentPlanning,
		AgentTaskLoop, AgentReplan, AgentTerminal:
		return AgentKind(name)
	}
	switch name {
	case "todoist_fetcher", "fetcher":
		return AgentFetcher
	case "task_classifier_worker", "classifier":
		return AgentClassifier
	case "research_task_processor", "research":
		return AgentResearch
	case "next_action", "next_action_worker":
		return AgentNextAction
	case "learning":
		return AgentLearning
	case "planning":
		return AgentPlanning
	case "markdown_report_writer", "report_writer", "writer":
		return AgentWriter
	case "loop":
		return AgentTaskLoop
	case "planner":
		return AgentReplan
	case "end", "terminal", "finish":
		return AgentTerminal
	}
	return AgentUnknown
}

// ProcessorKinds lists the per-task content processors in routing-priority order.
func ProcessorKinds() []AgentKind {
	return []AgentKind{AgentResearch, AgentNextAction, AgentLearning, AgentPlanning}
}

// PlanKinds lists every kind a plan step may name.
func PlanKinds() []AgentKind {
	return []AgentKind{
		AgentFetcher, AgentClassifier, AgentWriter,
		AgentResearch, AgentNextAction, AgentLearning, AgentPlanning,
		AgentTaskLoop, AgentTerminal,
	}
}

// IsProcessor reports whether the kind is a per-task content processor.
func (k AgentKind) IsProcessor() bool {
	switch k {
	case AgentResearch, AgentNextAction, AgentLearning, AgentPlanning:
		return true
	}
	return false
}

// IsSentinel reports whether the kind is sequencer-internal and must never be
// dispatched to a processor.
func (k AgentKind) IsSentinel() bool {
	switch k {
	case AgentTaskLoop, AgentReplan, AgentTerminal, AgentUnknown:
		return true
	}
	return false
}

// FallbackFor picks the deterministic processor for a classification. Used
// whenever a routing target is invalid or the decision call failed.
func FallbackFor(c Classification) AgentKind {
	switch c {
	case ClassResearch, ClassLearning, ClassAbstract:
		return AgentResearch
	case ClassPlanning:
		return AgentPlanning
	default:
		return AgentNextAction
	}
}
