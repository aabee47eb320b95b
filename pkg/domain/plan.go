package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PlanStep names the agent a step dispatches to and what it should do.
type PlanStep struct {
	Agent  AgentKind `json:"agent"`
	Action string    `json:"action"`
}

// Plan is the ordered step map produced by the plan builder. Step numbers are
// contiguous starting at 1. A plan is immutable after creation; a replan
// replaces it wholesale.
type Plan struct {
	Steps map[int]PlanStep `json:"steps"`
}

// Step returns the step at the given 1-based number.
func (p Plan) Step(n int) (PlanStep, bool) {
	s, ok := p.Steps[n]
	return s, ok
}

// Len returns the number of steps.
func (p Plan) Len() int {
	return len(p.Steps)
}

// Numbers returns the step numbers in ascending order.
func (p Plan) Numbers() []int {
	nums := make([]int, 0, len(p.Steps))
	for n := range p.Steps {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// LoopStep returns the number of the task-loop step, or 0 if the plan has none.
func (p Plan) LoopStep() int {
	for _, n := range p.Numbers() {
		if p.Steps[n].Agent == AgentTaskLoop {
			return n
		}
	}
	return 0
}

// Validate enforces the plan invariants: at least one step, step numbers
// contiguous from 1, every agent a known plan kind, and actions non-empty.
func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: plan has no steps", ErrPlanInvalid)
	}
	for i := 1; i <= len(p.Steps); i++ {
		step, ok := p.Steps[i]
		if !ok {
			return fmt.Errorf("%w: step numbers not contiguous, missing %d", ErrPlanInvalid, i)
		}
		if step.Agent == AgentUnknown || step.Agent == AgentReplan {
			return fmt.Errorf("%w: step %d names no dispatchable agent", ErrPlanInvalid, i)
		}
		if strings.TrimSpace(step.Action) == "" {
			return fmt.Errorf("%w: step %d has an empty action", ErrPlanInvalid, i)
		}
	}
	return nil
}

// String renders the plan as numbered lines for logs and prompts.
func (p Plan) String() string {
	var b strings.Builder
	for _, n := range p.Numbers() {
		step := p.Steps[n]
		fmt.Fprintf(&b, "%d. %s: %s\n", n, step.Agent, step.Action)
	}
	return b.String()
}

// FallbackPlan is the static plan used whenever the plan builder cannot get a
// usable plan out of the decision service: fetch, classify, loop, report.
func FallbackPlan() Plan {
	return Plan{Steps: map[int]PlanStep{
		1: {Agent: AgentFetcher, Action: "Fetch the tasks due today"},
		2: {Agent: AgentClassifier, Action: "Classify each task by type"},
		3: {Agent: AgentTaskLoop, Action: "Process each task with the right specialist"},
		4: {Agent: AgentWriter, Action: "Write the final markdown report"},
	}}
}

// ParsePlan extracts a JSON object from free text and decodes it into a Plan.
// The expected shape is {"1": {"agent": ..., "action": ...}, "2": ...}. The
// returned plan is validated; callers fall back to FallbackPlan on any error.
func ParsePlan(text string) (Plan, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return Plan{}, err
	}
	var payload map[string]struct {
		Agent  string `json:"agent"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrDecisionParse, err)
	}
	steps := make(map[int]PlanStep, len(payload))
	for key, val := range payload {
		n, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return Plan{}, fmt.Errorf("%w: step key %q is not a number", ErrPlanInvalid, key)
		}
		steps[n] = PlanStep{Agent: ParseAgentKind(val.Agent), Action: val.Action}
	}
	plan := Plan{Steps: steps}
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}
