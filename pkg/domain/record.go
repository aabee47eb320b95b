package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// RunRecord is the immutable summary of a completed run, written exactly once
// after terminal state for post-hoc archiving. Records are never loaded back
// into a live run.
type RunRecord struct {
	ID              string                    `json:"id"`
	Goal            string                    `json:"goal"`
	Status          RunStatus                 `json:"status"`
	StartedAt       time.Time                 `json:"started_at"`
	FinishedAt      time.Time                 `json:"finished_at"`
	TaskCount       int                       `json:"task_count"`
	CompletedCount  int                       `json:"completed_count"`
	Invocations     int                       `json:"invocations"`
	FinalStep       int                       `json:"final_step"`
	Plan            Plan                      `json:"plan"`
	Classifications map[string]Classification `json:"classifications,omitempty"`
	Results         map[string]string         `json:"results,omitempty"`
	Tasks           []Task                    `json:"tasks,omitempty"`
	Notes           []string                  `json:"notes,omitempty"`
	Decisions       []RoutingDecision         `json:"decisions,omitempty"`
	Timeline        []ExecutionEvent          `json:"timeline,omitempty"`
	Calls           []ModelCall               `json:"calls,omitempty"`
	ReportLocation  string                    `json:"report_location,omitempty"`
}

// GenerateRunID returns a random 8-byte hex identifier.
func GenerateRunID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// fixed marker rather than propagate an error nobody can handle.
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}
