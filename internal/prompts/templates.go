package prompts

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// Temperatures per call site. Per-task routing wants the most deterministic
// output; everything else tolerates a little variety.
const (
	PlannerTemperature    = 0.3
	SequencerTemperature  = 0.3
	TaskLoopTemperature   = 0.2
	ClassifierTemperature = 0.3
	ProcessorTemperature  = 0.3
)

// Prompt size bounds. Worker output quoted back into a routing prompt is
// capped so one verbose processor cannot blow up every later call.
const (
	maxQuotedOutput = 500
	recentChars     = 200
)

// RecentWindow is how many trailing outputs the step sequencer sees.
const RecentWindow = 4

// Planner builds the single planning call for a run goal. The processors
// argument is the registry's enabled set, so the catalog never advertises a
// worker that cannot be dispatched.
func Planner(goal string, processors []domain.AgentKind) ports.ModelRequest {
	catalog := planCatalog(processors)

	names := make([]string, 0, len(catalog)+1)
	for _, k := range catalog {
		names = append(names, "- "+string(k))
	}
	names = append(names, "- "+string(domain.AgentTaskLoop))

	prompt := fmt.Sprintf(`You are a task processing planner. Your job is to create a task-loop execution plan for processing the day's tasks.

USER REQUEST:
%s

AVAILABLE AGENTS:
%s

VALID AGENT NAMES (use EXACTLY these names in your plan):
%s

PLANNING INSTRUCTIONS:
1. The workflow has two phases:
   - SETUP: fetch tasks, then classify all tasks
   - TASK LOOP: process each task individually based on its type, then generate the report

2. In the TASK LOOP phase:
   - Each task is processed ONE AT A TIME
   - The executor routes each task to an appropriate worker based on its type
   - After a worker processes a task, the executor checks whether the task needs more processing
   - Once a task is complete, the next task begins

3. Worker coverage for task types:
%s

OUTPUT FORMAT:
Return a JSON object with setup steps and loop configuration:
{
  "1": {"agent": "task_fetcher", "action": "Fetch today's tasks"},
  "2": {"agent": "task_classifier", "action": "Classify all tasks into types"},
  "3": {"agent": "task_loop", "action": "Process each task individually with intelligent routing"},
  "4": {"agent": "markdown_writer", "action": "Generate final markdown report"}
}

IMPORTANT:
- The per-task processing step must be "task_loop", which switches the executor into task processing mode
- Use ONLY the agent names from the VALID AGENT NAMES list
- The executor handles per-task routing automatically

Return ONLY the JSON object, no other text.`,
		strings.TrimSpace(goal),
		Guidelines(catalog),
		strings.Join(names, "\n"),
		coverageLines(processors),
	)

	return ports.ModelRequest{
		Node:        "planner",
		Purpose:     "generate plan",
		Prompt:      prompt,
		Temperature: PlannerTemperature,
	}
}

// SequencerInput carries everything the step routing prompt quotes.
type SequencerInput struct {
	Plan       *domain.Plan
	Step       int
	Processors []domain.AgentKind
	Recent     []domain.AgentOutput
	LastReason string
}

// Sequencer builds the routing call for one linear plan step.
func Sequencer(in SequencerInput) ports.ModelRequest {
	plannedAgent, plannedAction := "unknown", "unknown"
	if in.Plan != nil {
		if step, ok := in.Plan.Step(in.Step); ok {
			plannedAgent = string(step.Agent)
			plannedAction = step.Action
		}
	}

	catalog := planCatalog(in.Processors)
	names := make([]string, 0, len(catalog)+2)
	for _, k := range catalog {
		names = append(names, "- "+string(k))
	}
	names = append(names,
		fmt.Sprintf("- %s (when you need a new plan)", domain.AgentReplan),
		fmt.Sprintf("- %s (when the workflow is complete)", domain.AgentTerminal),
	)

	context := ""
	if in.LastReason != "" {
		context = "\nPrevious decision reason: " + in.LastReason
	}

	prompt := fmt.Sprintf(`You are the executor. Your job is to decide which agent to invoke next based on the current plan step.

CURRENT PLAN STEP: %d
Planned agent: %s
Planned action: %s

AVAILABLE AGENTS:
%s

VALID AGENT NAMES (use EXACTLY these names):
%s

RECENT MESSAGES:
%s
%s
DECISION INSTRUCTIONS:
1. Analyze the last message to determine if the current step succeeded
2. Decide whether to proceed with the planned agent or if replanning is needed
3. If the step is complete, move to the next step in the plan
4. If all steps are complete, route to %s

OUTPUT FORMAT:
Return a JSON object with exactly 4 fields:
{
  "replan": false,
  "goto": "agent_name_or_%s",
  "reason": "One sentence explaining this decision",
  "query": "Exact instruction for the chosen agent"
}

IMPORTANT RULES:
- Set replan=true ONLY if you are completely blocked and need a new plan
- Set goto to EXACTLY one of the valid agent names listed above
- DO NOT invent new agent names
- Provide a clear reason for your decision
- Make the query specific and actionable

Return ONLY the JSON object, no other text.`,
		in.Step,
		plannedAgent,
		plannedAction,
		RouterGuidelines(catalog),
		strings.Join(names, "\n"),
		RecentDigest(in.Recent),
		context,
		domain.AgentTerminal,
		domain.AgentTerminal,
	)

	return ports.ModelRequest{
		Node:        "sequencer",
		Purpose:     fmt.Sprintf("route step %d", in.Step),
		Prompt:      prompt,
		Temperature: SequencerTemperature,
	}
}

// TaskLoopInput carries everything the per-task routing prompt quotes.
type TaskLoopInput struct {
	Task           domain.Task
	Classification domain.Classification
	History        []string
	LastOutput     string
	Processors     []domain.AgentKind
	Remaining      int
}

// TaskLoop builds the routing call for one task inside the loop step.
func TaskLoop(in TaskLoopInput) ports.ModelRequest {
	historyText := "None yet"
	if len(in.History) > 0 {
		historyText = strings.Join(in.History, ", ")
	}

	lastOutput := "Task just entered the loop"
	if in.LastOutput != "" {
		lastOutput = truncate(in.LastOutput, maxQuotedOutput)
	}

	names := make([]string, 0, len(in.Processors)+1)
	for _, k := range in.Processors {
		names = append(names, fmt.Sprintf("- %s (%s)", k, workerHint(k)))
	}
	names = append(names, fmt.Sprintf("- %s (signals this task is fully processed, move to next task)", domain.CompleteSentinel))

	prompt := fmt.Sprintf(`You are the task-loop executor. Your job is to intelligently route individual tasks to appropriate workers and determine when tasks are complete.

CURRENT TASK:
ID: %s
Content: %s
Description: %s
Classification: %s
Priority: %d

PROCESSING HISTORY FOR THIS TASK:
Workers that have processed it: %s

LAST WORKER OUTPUT:
%s

AVAILABLE WORKERS:
%s

VALID WORKER NAMES:
%s

TASKS REMAINING: %d (including current)

ROUTING DECISION INSTRUCTIONS:
1. First, determine if the current task is complete:
   - Has it been processed appropriately for its type?
   - Does the output satisfy the task requirements?
   - Does it need additional processing from another worker?

2. If the task is complete:
   - Set goto="%s"
   - This moves on to the next task in the list

3. If the task needs more processing:
   - Choose the appropriate worker based on:
     * Task classification (%s)
     * What has already been done (history: %s)
     * What still needs to be done
   - DO NOT send it to a worker it has already visited unless absolutely necessary
   - Match task type to worker:
%s

OUTPUT FORMAT:
Return a JSON object:
{
  "goto": "worker_name_or_%s",
  "reason": "One sentence explaining why this task is complete OR why it needs this worker",
  "is_complete": true_or_false
}

IMPORTANT RULES:
- Use ONLY the worker names from the VALID WORKER NAMES list
- Set is_complete=true when the task is done and goto="%s"
- Set is_complete=false when the task needs more work
- Do not send a task to the same worker twice unless critical
- Be decisive: most tasks should be complete after 1-2 workers

Return ONLY the JSON object, no other text.`,
		in.Task.ID,
		in.Task.Content,
		orNone(in.Task.Description),
		in.Classification,
		in.Task.Priority,
		historyText,
		lastOutput,
		RouterGuidelines(in.Processors),
		strings.Join(names, "\n"),
		in.Remaining,
		domain.CompleteSentinel,
		in.Classification,
		historyText,
		matchLines(in.Processors),
		domain.CompleteSentinel,
		domain.CompleteSentinel,
	)

	return ports.ModelRequest{
		Node:        "task_loop",
		Purpose:     fmt.Sprintf("route task %s", in.Task.ID),
		Prompt:      prompt,
		Temperature: TaskLoopTemperature,
	}
}

// Classifier builds the one-shot classification call for the fetched tasks.
func Classifier(tasks []domain.Task) ports.ModelRequest {
	var listing strings.Builder
	for i, t := range tasks {
		fmt.Fprintf(&listing, "Task %d (ID: %s):\n  Content: %s\n  Description: %s\n  Labels: %s\n\n",
			i+1, t.ID, t.Content, orNone(t.Description), strings.Join(t.Labels, ", "))
	}

	var types strings.Builder
	for _, c := range domain.Classifications() {
		fmt.Fprintf(&types, "- %s: %s\n", c, classDefinition(c))
	}

	prompt := fmt.Sprintf(`You are a task classifier. Analyze each task and classify it into one of these types:

TASK TYPES:
%s
TASKS TO CLASSIFY:
%s
OUTPUT FORMAT:
Return a JSON object mapping task IDs to their types:
{
  "task_id_1": "research",
  "task_id_2": "short",
  "task_id_3": "learning"
}

Analyze each task carefully and assign the most appropriate type. Return ONLY the JSON object, no other text.`,
		types.String(),
		listing.String(),
	)

	return ports.ModelRequest{
		Node:        string(domain.AgentClassifier),
		Purpose:     fmt.Sprintf("classify %d tasks", len(tasks)),
		Prompt:      prompt,
		Temperature: ClassifierTemperature,
	}
}

// Processor builds the content call for one task. The template is picked by
// classification, not by worker, so a research worker handed an abstract task
// still asks the abstract questions. Unknown classifications get the short
// template.
func Processor(kind domain.AgentKind, task domain.Task, class domain.Classification) ports.ModelRequest {
	taskBlock := fmt.Sprintf("TASK:\nContent: %s\nDescription: %s\nLabels: %s",
		task.Content, orNone(task.Description), strings.Join(task.Labels, ", "))

	var prompt string
	switch class {
	case domain.ClassResearch:
		prompt = fmt.Sprintf(`You are a research task processor. Analyze this research task and create a research plan.

%s

OUTPUT:
Generate a research plan that includes:
1. Key questions to investigate
2. Topics to explore
3. Types of sources needed

Return your analysis as a structured text response.`, taskBlock)
	case domain.ClassPlanning:
		prompt = fmt.Sprintf(`You are a planning methodology processor. Create a structured plan for this task.

%s

OUTPUT:
Generate a structured plan with:
1. Goal clarification
2. Key milestones
3. Dependencies and prerequisites
4. Success criteria

Return your plan as structured text.`, taskBlock)
	case domain.ClassLearning:
		prompt = fmt.Sprintf(`You are a learning curriculum builder. Create a learning path for this educational task.

%s

OUTPUT:
Generate a learning plan with:
1. Current topic focus
2. Prerequisites to cover
3. Next learning steps
4. Practice/application ideas

Return your curriculum as structured text.`, taskBlock)
	case domain.ClassAbstract:
		prompt = fmt.Sprintf(`You are an abstract model builder. Generate insights for this conceptual task.

%s

OUTPUT:
Generate:
1. Key questions to explore
2. Parallels or analogies
3. Real-world applications
4. Different perspectives or stories

Return your analysis as structured text.`, taskBlock)
	default:
		prompt = fmt.Sprintf(`You are a next action processor. Suggest the immediate next actionable step for this task.

%s

OUTPUT:
Return a single sentence describing the concrete next action to take.
Make it specific, actionable, and achievable in one sitting.`, taskBlock)
	}

	return ports.ModelRequest{
		Node:        string(kind),
		Purpose:     fmt.Sprintf("process task %s", task.ID),
		Prompt:      prompt,
		Temperature: ProcessorTemperature,
	}
}

// RecentDigest renders trailing outputs oldest-first, one bounded line each.
func RecentDigest(outputs []domain.AgentOutput) string {
	if len(outputs) == 0 {
		return "No messages yet."
	}
	var b strings.Builder
	for _, out := range outputs {
		fmt.Fprintf(&b, "[%s] %s\n", out.Agent, truncate(out.Text, recentChars))
	}
	return strings.TrimRight(b.String(), "\n")
}

// planCatalog is the dispatchable-kind order every plan-level prompt uses.
func planCatalog(processors []domain.AgentKind) []domain.AgentKind {
	catalog := make([]domain.AgentKind, 0, len(processors)+3)
	catalog = append(catalog, domain.AgentFetcher, domain.AgentClassifier)
	catalog = append(catalog, processors...)
	return append(catalog, domain.AgentWriter)
}

// coverageLines maps enabled workers to the task types they serve.
func coverageLines(processors []domain.AgentKind) string {
	lines := make([]string, 0, len(processors))
	for _, k := range processors {
		lines = append(lines, fmt.Sprintf("   - %s: %s", k, workerHint(k)))
	}
	return strings.Join(lines, "\n")
}

// matchLines renders the type-to-worker table in the task-loop prompt.
func matchLines(processors []domain.AgentKind) string {
	lines := make([]string, 0, len(processors))
	for _, k := range processors {
		switch k {
		case domain.AgentResearch:
			lines = append(lines, fmt.Sprintf("     * research or abstract tasks: %s", k))
		case domain.AgentNextAction:
			lines = append(lines, fmt.Sprintf("     * short tasks: %s", k))
		case domain.AgentLearning:
			lines = append(lines, fmt.Sprintf("     * learning tasks: %s", k))
		case domain.AgentPlanning:
			lines = append(lines, fmt.Sprintf("     * planning tasks: %s", k))
		}
	}
	return strings.Join(lines, "\n")
}

func workerHint(k domain.AgentKind) string {
	switch k {
	case domain.AgentResearch:
		return "for research, learning, and abstract tasks"
	case domain.AgentNextAction:
		return "for short tasks that need one concrete step"
	case domain.AgentLearning:
		return "for learning tasks"
	case domain.AgentPlanning:
		return "for planning tasks"
	}
	return "general worker"
}

func classDefinition(c domain.Classification) string {
	switch c {
	case domain.ClassResearch:
		return "Tasks requiring web search, reading notes, or gathering information"
	case domain.ClassPlanning:
		return "Tasks requiring structured planning methodology or breaking down a project"
	case domain.ClassShort:
		return "Simple tasks that need a clear next action step"
	case domain.ClassLearning:
		return "Educational tasks for building knowledge or skills"
	case domain.ClassAbstract:
		return "Tasks involving model building, asking questions, finding parallels, or conceptual thinking"
	}
	return "Unrecognized task type"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}

// truncate bounds quoted text by runes so multi-byte content never splits.
func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
