package domain

import "time"

// RunStatus defines the current phase of a run.
type RunStatus string

const (
	StatusPlanning RunStatus = "planning" // Plan builder has not produced a plan yet
	StatusRunning  RunStatus = "running"  // Sequencer/router transitions in progress
	StatusDone     RunStatus = "done"     // Terminal state reached
	StatusCanceled RunStatus = "canceled" // Outer context canceled before terminal
)

// AgentOutput records one collaborator output in dispatch order. The router
// and sequencer feed recent entries back into decision prompts.
type AgentOutput struct {
	Agent AgentKind `json:"agent"`
	Text  string    `json:"text"`
}

// RunState is the single shared snapshot of one orchestration run. It is
// created once per run, mutated in place by the orchestrator goroutine only,
// and discarded at termination. All maps are cumulative; nothing is deleted
// except the full plan replacement on replan.
type RunState struct {
	RunID string `json:"run_id"`
	Goal  string `json:"goal"`

	// Tasks is set once by the fetch step and immutable afterwards.
	Tasks []Task `json:"tasks"`

	// Classifications maps task ID to the label set once by the classifier.
	Classifications map[string]Classification `json:"classifications"`

	// CurrentTaskIndex advances through Tasks in task-loop mode.
	// CurrentTaskID names the task currently being worked.
	CurrentTaskIndex int    `json:"current_task_index"`
	CurrentTaskID    string `json:"current_task_id,omitempty"`

	// History maps task ID to the processors already applied, in order.
	// Grows monotonically; never shrinks.
	History map[string][]AgentKind `json:"history"`

	// Completed maps task ID to done. Set true exactly once per task.
	Completed map[string]bool `json:"completed"`

	// Results maps task ID to the last processor output, verbatim.
	Results map[string]string `json:"results"`

	Plan        Plan `json:"plan"`
	CurrentStep int  `json:"current_step"`

	// ReplanAttempts counts replans per step, bounded by Caps.MaxReplans.
	ReplanAttempts map[int]int `json:"replan_attempts"`

	// Invocations counts sequencer/router entries for the global cap.
	Invocations int `json:"invocations"`

	// Dispatched counts dispatches per agent kind. The sequencer uses it as
	// the has-this-step-run-yet evidence.
	Dispatched map[AgentKind]int `json:"dispatched"`

	// Outputs accumulates collaborator outputs in dispatch order.
	Outputs []AgentOutput `json:"outputs"`

	// Notes collects human-readable degradation notes (fallbacks, skips).
	Notes []string `json:"notes"`

	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// ReportLocation is filled by the report sink at the end of the run.
	ReportLocation string `json:"report_location,omitempty"`
}

// NewRunState creates a clean state for one run.
func NewRunState(runID, goal string) *RunState {
	return &RunState{
		RunID:           runID,
		Goal:            goal,
		Classifications: make(map[string]Classification),
		History:         make(map[string][]AgentKind),
		Completed:       make(map[string]bool),
		Results:         make(map[string]string),
		ReplanAttempts:  make(map[int]int),
		Dispatched:      make(map[AgentKind]int),
		CurrentStep:     1,
		Status:          StatusPlanning,
		StartedAt:       time.Now(),
	}
}

// CurrentTask returns the task under the index cursor.
func (s *RunState) CurrentTask() (Task, bool) {
	if s.CurrentTaskIndex < 0 || s.CurrentTaskIndex >= len(s.Tasks) {
		return Task{}, false
	}
	return s.Tasks[s.CurrentTaskIndex], true
}

// TaskByID looks a task up by its source ID.
func (s *RunState) TaskByID(id string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Classification returns the label for a task, ClassUnknown when unset.
func (s *RunState) Classification(taskID string) Classification {
	if c, ok := s.Classifications[taskID]; ok {
		return c
	}
	return ClassUnknown
}

// AppendHistory records a processor dispatch against a task.
func (s *RunState) AppendHistory(taskID string, kind AgentKind) {
	s.History[taskID] = append(s.History[taskID], kind)
}

// Attempts returns how many processors have been applied to a task.
func (s *RunState) Attempts(taskID string) int {
	return len(s.History[taskID])
}

// VisitCount returns how often one processor appears in a task's history.
func (s *RunState) VisitCount(taskID string, kind AgentKind) int {
	n := 0
	for _, k := range s.History[taskID] {
		if k == kind {
			n++
		}
	}
	return n
}

// HistoryNames returns a copy of a task's history as strings, for ledger
// snapshots and prompts. The copy keeps ledger entries immune to later appends.
func (s *RunState) HistoryNames(taskID string) []string {
	hist := s.History[taskID]
	names := make([]string, len(hist))
	for i, k := range hist {
		names[i] = string(k)
	}
	return names
}

// MarkComplete sets a task's completion flag. It reports whether the flag
// changed; completion is idempotent and never unset.
func (s *RunState) MarkComplete(taskID string) bool {
	if s.Completed[taskID] {
		return false
	}
	s.Completed[taskID] = true
	return true
}

// IsComplete reports a task's completion flag.
func (s *RunState) IsComplete(taskID string) bool {
	return s.Completed[taskID]
}

// CompletedCount returns how many tasks are marked complete.
func (s *RunState) CompletedCount() int {
	n := 0
	for _, done := range s.Completed {
		if done {
			n++
		}
	}
	return n
}

// RecordOutput stores a collaborator output as the task result (when a task
// is current) and appends it to the output log.
func (s *RunState) RecordOutput(kind AgentKind, taskID, text string) {
	if taskID != "" {
		s.Results[taskID] = text
	}
	s.Outputs = append(s.Outputs, AgentOutput{Agent: kind, Text: text})
}

// RecentOutputs returns up to n of the latest outputs, oldest first.
func (s *RunState) RecentOutputs(n int) []AgentOutput {
	if n <= 0 || len(s.Outputs) == 0 {
		return nil
	}
	if len(s.Outputs) < n {
		n = len(s.Outputs)
	}
	out := make([]AgentOutput, n)
	copy(out, s.Outputs[len(s.Outputs)-n:])
	return out
}

// LastOutput returns the most recent collaborator output, if any.
func (s *RunState) LastOutput() (AgentOutput, bool) {
	if len(s.Outputs) == 0 {
		return AgentOutput{}, false
	}
	return s.Outputs[len(s.Outputs)-1], true
}

// AddNote records a human-readable degradation note.
func (s *RunState) AddNote(note string) {
	s.Notes = append(s.Notes, note)
}

// ReplacePlan swaps the plan wholesale and rewinds the step cursor. Per-task
// progress (classifications, histories, completions, results) is preserved;
// a replan only changes what remains to be done.
func (s *RunState) ReplacePlan(p Plan) {
	s.Plan = p
	s.CurrentStep = 1
}
