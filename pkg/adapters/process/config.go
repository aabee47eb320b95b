package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CommandConfig describes one external processor command in the config file.
type CommandConfig struct {
	// Agent is the processor kind the command handles, e.g. "research_processor".
	Agent   string   `yaml:"agent" json:"agent" mapstructure:"agent"`
	Command string   `yaml:"command" json:"command" mapstructure:"command"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty" mapstructure:"args"`

	// Env is appended to the command's environment verbatim.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty" mapstructure:"env"`

	// TimeoutSeconds bounds one execution. Zero means DefaultTimeout.
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" mapstructure:"timeout_seconds"`
	Description    string `yaml:"description,omitempty" json:"description,omitempty" mapstructure:"description"`
}

type commandFile struct {
	Processors []CommandConfig `yaml:"processors" json:"processors"`
}

// LoadCommands reads external processor definitions from a YAML or JSON file
// and returns them keyed by agent name. A missing file is not an error: it
// means no external processors are configured.
func LoadCommands(path string) (map[string]CommandConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]CommandConfig{}, nil
		}
		return nil, fmt.Errorf("read processor config %s: %w", path, err)
	}

	var file commandFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &file)
	} else {
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("parse processor config %s: %w", path, err)
	}

	commands := make(map[string]CommandConfig, len(file.Processors))
	for _, c := range file.Processors {
		if c.Agent == "" || c.Command == "" {
			return nil, fmt.Errorf("processor config %s: every entry needs an agent and a command", path)
		}
		if _, dup := commands[c.Agent]; dup {
			return nil, fmt.Errorf("processor config %s: duplicate entry for %q", path, c.Agent)
		}
		commands[c.Agent] = c
	}
	return commands, nil
}
