package domain

// Caps are the safeguard limits that bound a run. They are hard stops, not
// advisory: the sequencer and router enforce them at every entry regardless
// of what the decision service answers.
type Caps struct {
	// MaxInvocations bounds total sequencer/router entries for the run.
	MaxInvocations int `json:"max_invocations" yaml:"max_invocations"`

	// MaxSteps bounds the plan step cursor.
	MaxSteps int `json:"max_steps" yaml:"max_steps"`

	// MaxTaskAttempts bounds processors applied to a single task.
	MaxTaskAttempts int `json:"max_task_attempts" yaml:"max_task_attempts"`

	// MaxAgentVisits bounds how often one processor may run for one task.
	MaxAgentVisits int `json:"max_agent_visits" yaml:"max_agent_visits"`

	// MaxReplans bounds replans per plan step.
	MaxReplans int `json:"max_replans" yaml:"max_replans"`
}

// DefaultCaps returns the stock limits.
func DefaultCaps() Caps {
	return Caps{
		MaxInvocations:  100,
		MaxSteps:        20,
		MaxTaskAttempts: 5,
		MaxAgentVisits:  2,
		MaxReplans:      2,
	}
}

// Normalized fills zero or negative fields with the defaults, so a partially
// configured Caps never disables a safeguard.
func (c Caps) Normalized() Caps {
	def := DefaultCaps()
	if c.MaxInvocations <= 0 {
		c.MaxInvocations = def.MaxInvocations
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.MaxTaskAttempts <= 0 {
		c.MaxTaskAttempts = def.MaxTaskAttempts
	}
	if c.MaxAgentVisits <= 0 {
		c.MaxAgentVisits = def.MaxAgentVisits
	}
	if c.MaxReplans <= 0 {
		c.MaxReplans = def.MaxReplans
	}
	return c
}
