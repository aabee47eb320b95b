package domain

import "time"

// Task is a unit of work fetched from the external source.
// Fields are immutable once fetched; run outcomes live on RunState, not here.
type Task struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Description string     `json:"description,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	Priority    int        `json:"priority,omitempty"`
	Due         *time.Time `json:"due,omitempty"`
	ProjectID   string     `json:"project_id,omitempty"`
	ProjectName string     `json:"project_name,omitempty"`
}

// DueString renders the due date for prompts and reports.
func (t Task) DueString() string {
	if t.Due == nil {
		return "none"
	}
	return t.Due.Format("2006-01-02")
}
