package domain

import "time"

// Report is what the report sink consumes: one section per task plus run-level
// stats. The sink owns the rendering; the core only assembles the data.
type Report struct {
	RunID       string          `json:"run_id"`
	Goal        string          `json:"goal"`
	GeneratedAt time.Time       `json:"generated_at"`
	Sections    []ReportSection `json:"sections"`

	TaskCount      int `json:"task_count"`
	CompletedCount int `json:"completed_count"`
	Invocations    int `json:"invocations"`
}

// ReportSection carries everything the sink needs to render one task.
type ReportSection struct {
	Task           Task           `json:"task"`
	Classification Classification `json:"classification"`
	Result         string         `json:"result"`
	Completed      bool           `json:"completed"`
	History        []string       `json:"history,omitempty"`
}

// ReportFromRecord rebuilds the report for an archived run. Completion and
// processing history are reconstructed from the decision ledger.
func ReportFromRecord(rec *RunRecord) *Report {
	completed := make(map[string]bool)
	history := make(map[string][]string)
	for _, d := range rec.Decisions {
		if d.TaskID == "" {
			continue
		}
		if d.TaskComplete {
			completed[d.TaskID] = true
		}
		if d.Chosen.IsProcessor() {
			history[d.TaskID] = append(history[d.TaskID], string(d.Chosen))
		}
	}

	r := &Report{
		RunID:          rec.ID,
		Goal:           rec.Goal,
		GeneratedAt:    rec.FinishedAt,
		TaskCount:      rec.TaskCount,
		CompletedCount: rec.CompletedCount,
		Invocations:    rec.Invocations,
	}
	for _, t := range rec.Tasks {
		r.Sections = append(r.Sections, ReportSection{
			Task:           t,
			Classification: rec.Classifications[t.ID],
			Result:         rec.Results[t.ID],
			Completed:      completed[t.ID],
			History:        history[t.ID],
		})
	}
	return r
}

// BuildReport assembles the report from a finished run state.
func BuildReport(s *RunState) *Report {
	r := &Report{
		RunID:          s.RunID,
		Goal:           s.Goal,
		GeneratedAt:    time.Now(),
		TaskCount:      len(s.Tasks),
		CompletedCount: s.CompletedCount(),
		Invocations:    s.Invocations,
	}
	for _, t := range s.Tasks {
		r.Sections = append(r.Sections, ReportSection{
			Task:           t,
			Classification: s.Classification(t.ID),
			Result:         s.Results[t.ID],
			Completed:      s.IsComplete(t.ID),
			History:        s.HistoryNames(t.ID),
		})
	}
	return r
}
