// Package process runs external commands as task processors. The task travels
// to the command as JSON on stdin, the command's stdout comes back as the
// task result. Commands come from an explicit config allow-list; task content
// never reaches argv, so a hostile task cannot inject flags.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// DefaultTimeout bounds one command execution when the config does not.
const DefaultTimeout = 60 * time.Second

// killGrace is how long an interrupted command gets to exit on its own
// before the runtime kills it.
const killGrace = 5 * time.Second

// payload is the stdin document the command receives.
type payload struct {
	Task           domain.Task `json:"task"`
	Classification string      `json:"classification"`
	Context        string      `json:"context,omitempty"`
}

// envelope is the structured form a command may print instead of plain text.
type envelope struct {
	Result string `json:"result"`
}

// Processor dispatches one agent kind to an external command.
type Processor struct {
	kind    domain.AgentKind
	command string
	args    []string
	env     map[string]string
	baseDir string
	timeout time.Duration
}

// Option configures a Processor.
type Option func(*Processor)

// WithBaseDir sets the command's working directory.
func WithBaseDir(dir string) Option {
	return func(p *Processor) { p.baseDir = dir }
}

// WithTimeout bounds one execution.
func WithTimeout(d time.Duration) Option {
	return func(p *Processor) { p.timeout = d }
}

// WithEnv appends extra environment variables to the command.
func WithEnv(env map[string]string) Option {
	return func(p *Processor) { p.env = env }
}

// New creates a processor that runs the given command for one agent kind.
func New(kind domain.AgentKind, command string, args []string, opts ...Option) *Processor {
	p := &Processor{
		kind:    kind,
		command: command,
		args:    args,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromConfig builds processors from loaded command definitions, in stable
// agent-name order. Entries whose agent name is not a processor kind are
// rejected rather than silently skipped.
func FromConfig(commands map[string]CommandConfig, opts ...Option) ([]*Processor, error) {
	agents := make([]string, 0, len(commands))
	for agent := range commands {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	processors := make([]*Processor, 0, len(agents))
	for _, agent := range agents {
		c := commands[agent]
		kind := domain.ParseAgentKind(agent)
		if !kind.IsProcessor() {
			return nil, fmt.Errorf("processor config: %q is not a processor agent", agent)
		}
		p := New(kind, c.Command, c.Args, opts...)
		if c.TimeoutSeconds > 0 {
			p.timeout = time.Duration(c.TimeoutSeconds) * time.Second
		}
		if len(c.Env) > 0 {
			merged := make(map[string]string, len(p.env)+len(c.Env))
			for k, v := range p.env {
				merged[k] = v
			}
			for k, v := range c.Env {
				merged[k] = v
			}
			p.env = merged
		}
		processors = append(processors, p)
	}
	return processors, nil
}

// Kind identifies the processor in plans, routing decisions, and history.
func (p *Processor) Kind() domain.AgentKind { return p.kind }

// Process runs the command with the task on stdin and returns its trimmed
// stdout. When the output is a JSON object with a "result" field, that field
// is the result; anything else is taken as plain text.
func (p *Processor) Process(ctx context.Context, req ports.ProcessRequest) (string, error) {
	input, err := json.Marshal(payload{
		Task:           req.Task,
		Classification: string(req.Classification),
		Context:        req.Context,
	})
	if err != nil {
		return "", fmt.Errorf("process %s: encode task: %w", p.kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Dir = p.baseDir
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = p.environ(req)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// On cancellation the command gets an interrupt and the grace period to
	// flush before the hard kill.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = killGrace

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("process %s: %s: %w", p.kind, p.command, err)
		}
		return "", fmt.Errorf("process %s: %s: %w (stderr: %s)", p.kind, p.command, err, msg)
	}

	output := strings.TrimSpace(stdout.String())
	if strings.HasPrefix(output, "{") && strings.HasSuffix(output, "}") {
		var e envelope
		if jsonErr := json.Unmarshal([]byte(output), &e); jsonErr == nil && e.Result != "" {
			return e.Result, nil
		}
	}
	return output, nil
}

// environ builds the command environment: the parent environment, the task
// fields under fixed ESPALIER_ names so shell scripts can skip the JSON, and
// any configured extras.
func (p *Processor) environ(req ports.ProcessRequest) []string {
	env := os.Environ()
	env = append(env,
		"ESPALIER_TASK_ID="+req.Task.ID,
		"ESPALIER_TASK_CONTENT="+req.Task.Content,
		"ESPALIER_CLASSIFICATION="+string(req.Classification),
	)

	keys := make([]string, 0, len(p.env))
	for k := range p.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+p.env[k])
	}
	return env
}
