package domain

import "time"

// RoutingDecision captures one routing choice, taken either from a parsed
// decision-service payload or from a deterministic fallback. Constructed
// right after the choice is made and appended to the ledger before dispatch;
// immutable once appended.
type RoutingDecision struct {
	Timestamp      time.Time      `json:"timestamp"`
	Step           int            `json:"step"`
	Planned        AgentKind      `json:"planned"`
	Chosen         AgentKind      `json:"chosen"`
	Reason         string         `json:"reason"`
	TaskID         string         `json:"task_id,omitempty"`
	TaskContent    string         `json:"task_content,omitempty"`
	Classification Classification `json:"classification,omitempty"`

	// History is a snapshot of the task's processing history at decision
	// time. Copied, so later appends do not leak into the ledger.
	History []string `json:"history,omitempty"`

	// TaskComplete marks decisions that closed out the current task.
	TaskComplete bool `json:"task_complete,omitempty"`
}

// ExecutionEvent times one node's work. Created at the start, finished once;
// immutable after Finish.
type ExecutionEvent struct {
	Node       string            `json:"node"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Duration   time.Duration     `json:"duration"`
	TaskID     string            `json:"task_id,omitempty"`
	TaskIndex  int               `json:"task_index,omitempty"`
	TaskTotal  int               `json:"task_total,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewExecutionEvent starts timing a node.
func NewExecutionEvent(node string) *ExecutionEvent {
	return &ExecutionEvent{Node: node, StartedAt: time.Now()}
}

// Finish stamps the end time and computes the duration. Calling it again has
// no effect.
func (e *ExecutionEvent) Finish() {
	if !e.FinishedAt.IsZero() {
		return
	}
	e.FinishedAt = time.Now()
	e.Duration = e.FinishedAt.Sub(e.StartedAt)
}

// ModelCall records one decision-service invocation: who asked, what model
// answered, how big the exchange was, and how long it took. Failed calls are
// recorded with a "(FAILED)" purpose suffix rather than omitted.
type ModelCall struct {
	Timestamp     time.Time     `json:"timestamp"`
	Node          string        `json:"node"`
	Model         string        `json:"model"`
	Temperature   float64       `json:"temperature"`
	PromptChars   int           `json:"prompt_chars"`
	ResponseChars int           `json:"response_chars"`
	Duration      time.Duration `json:"duration"`
	Purpose       string        `json:"purpose"`
}

// FailedSuffix marks call-log purposes whose invocation returned an error.
const FailedSuffix = " (FAILED)"
