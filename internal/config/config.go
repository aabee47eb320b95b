// Package config loads the application configuration: an optional
// espalier.yaml, overlaid with ESPALIER_* environment variables. Secrets stay
// out of the file; the config names the environment variables that hold them.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/espalier/pkg/adapters/process"
	"github.com/aretw0/espalier/pkg/domain"
)

// DefaultFile is the config filename probed in the working directory when no
// path is given.
const DefaultFile = "espalier.yaml"

// Config is the full application configuration.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Caps       domain.Caps      `yaml:"caps"`
	Output     OutputConfig     `yaml:"output"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Processors ProcessorsConfig `yaml:"processors"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ModelConfig selects the decision-service provider.
type ModelConfig struct {
	// Provider is anthropic, openai, or ollama. Empty selects ollama.
	Provider string `yaml:"provider"`
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base_url"`

	// KeyEnv names the environment variable holding the API key. Empty uses
	// the provider's conventional variable.
	KeyEnv string `yaml:"key_env"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxTokens      int `yaml:"max_tokens"`
}

// Key resolves the provider API key from the environment.
func (m ModelConfig) Key() string {
	env := m.KeyEnv
	if env == "" {
		switch strings.ToLower(m.Provider) {
		case "anthropic":
			env = "ANTHROPIC_API_KEY"
		case "openai":
			env = "OPENAI_API_KEY"
		default:
			return ""
		}
	}
	return strings.TrimSpace(os.Getenv(env))
}

// Timeout returns the per-call bound, or zero to use the client default.
func (m ModelConfig) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// TasksConfig selects where tasks come from.
type TasksConfig struct {
	// Source is todoist or fixture.
	Source string `yaml:"source"`

	// Limit caps how many fetched tasks enter a run. Zero means all.
	Limit int `yaml:"limit"`

	// TokenEnv names the variable holding the Todoist token.
	TokenEnv string `yaml:"token_env"`
	BaseURL  string `yaml:"base_url"`

	// FixturePath is the JSON task file used by the fixture source.
	FixturePath string `yaml:"fixture_path"`
}

// Token resolves the Todoist API token from the environment.
func (t TasksConfig) Token() string {
	env := t.TokenEnv
	if env == "" {
		env = "TODOIST_API_KEY"
	}
	return strings.TrimSpace(os.Getenv(env))
}

// OutputConfig places run artifacts.
type OutputConfig struct {
	ReportsDir string `yaml:"reports_dir"`
	NotesDir   string `yaml:"notes_dir"`
}

// ArchiveConfig selects the run archive backend and its protections.
type ArchiveConfig struct {
	// Backend is memory, file, or redis.
	Backend string      `yaml:"backend"`
	Dir     string      `yaml:"dir"`
	Redis   RedisConfig `yaml:"redis"`

	// EncryptionKeyEnv names a variable holding a 64-char hex key. Empty
	// disables encryption. Fallback envs supply rotation keys.
	EncryptionKeyEnv       string   `yaml:"encryption_key_env"`
	EncryptionFallbackEnvs []string `yaml:"encryption_fallback_envs"`

	// MaskPatterns are regexes masked out of task-derived text at rest.
	MaskPatterns []string `yaml:"mask_patterns"`
}

// RedisConfig configures the redis archive backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// EncryptionKeys resolves and decodes the configured key material. The first
// return is nil when encryption is disabled.
func (a ArchiveConfig) EncryptionKeys() ([]byte, [][]byte, error) {
	if a.EncryptionKeyEnv == "" {
		return nil, nil, nil
	}
	active, err := decodeKey(a.EncryptionKeyEnv)
	if err != nil {
		return nil, nil, err
	}
	fallbacks := make([][]byte, 0, len(a.EncryptionFallbackEnvs))
	for _, env := range a.EncryptionFallbackEnvs {
		key, err := decodeKey(env)
		if err != nil {
			return nil, nil, err
		}
		fallbacks = append(fallbacks, key)
	}
	return active, fallbacks, nil
}

func decodeKey(env string) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(env))
	if raw == "" {
		return nil, fmt.Errorf("config: environment variable %s holds no encryption key", env)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s is not valid hex: %w", env, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("config: %s must decode to 32 bytes, got %d", env, len(key))
	}
	return key, nil
}

// ProcessorsConfig wires external command processors.
type ProcessorsConfig struct {
	// File points at a standalone processors.yaml allow-list.
	File string `yaml:"file"`

	// Overrides define or replace commands inline, keyed by agent name.
	// Free-form maps so deployments can omit fields; decoded strictly.
	Overrides map[string]map[string]any `yaml:"overrides"`
}

// Commands merges the file allow-list with inline overrides. Overrides win.
func (p ProcessorsConfig) Commands() (map[string]process.CommandConfig, error) {
	commands := map[string]process.CommandConfig{}
	if p.File != "" {
		loaded, err := process.LoadCommands(p.File)
		if err != nil {
			return nil, err
		}
		commands = loaded
	}
	for agent, raw := range p.Overrides {
		var c process.CommandConfig
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:      &c,
			ErrorUnused: true,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(raw); err != nil {
			return nil, fmt.Errorf("config: processor override %q: %w", agent, err)
		}
		if c.Agent == "" {
			c.Agent = agent
		}
		if c.Command == "" {
			return nil, fmt.Errorf("config: processor override %q has no command", agent)
		}
		commands[c.Agent] = c
	}
	return commands, nil
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Model: ModelConfig{Provider: "ollama"},
		Tasks: TasksConfig{Source: "todoist"},
		Caps:  domain.DefaultCaps(),
		Output: OutputConfig{
			ReportsDir: "reports",
			NotesDir:   "notes",
		},
		Archive: ArchiveConfig{
			Backend: "memory",
			Dir:     ".espalier/runs",
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		HTTP:    HTTPConfig{Listen: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the config file, overlays environment variables, and validates.
// With an empty path the default filename is probed and may be absent; an
// explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No file, run on defaults.
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.Caps = cfg.Caps.Normalized()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := readEnv("ESPALIER_MODEL_PROVIDER"); ok {
		c.Model.Provider = v
	}
	if v, ok := readEnv("ESPALIER_MODEL"); ok {
		c.Model.Name = v
	}
	if v, ok := readEnv("ESPALIER_MODEL_BASE_URL"); ok {
		c.Model.BaseURL = v
	}
	if v, ok := readEnv("ESPALIER_TASK_SOURCE"); ok {
		c.Tasks.Source = v
	}
	if v, ok := readEnvInt("ESPALIER_TASK_LIMIT"); ok {
		c.Tasks.Limit = v
	}
	if v, ok := readEnv("ESPALIER_FIXTURE_PATH"); ok {
		c.Tasks.FixturePath = v
	}
	if v, ok := readEnv("ESPALIER_REPORTS_DIR"); ok {
		c.Output.ReportsDir = v
	}
	if v, ok := readEnv("ESPALIER_NOTES_DIR"); ok {
		c.Output.NotesDir = v
	}
	if v, ok := readEnv("ESPALIER_ARCHIVE_BACKEND"); ok {
		c.Archive.Backend = v
	}
	if v, ok := readEnv("ESPALIER_ARCHIVE_DIR"); ok {
		c.Archive.Dir = v
	}
	if v, ok := readEnv("ESPALIER_REDIS_ADDR"); ok {
		c.Archive.Redis.Addr = v
	}
	if v, ok := readEnv("ESPALIER_HTTP_LISTEN"); ok {
		c.HTTP.Listen = v
	}
	if v, ok := readEnv("ESPALIER_LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := readEnv("ESPALIER_LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
}

// Validate rejects values that would only fail later and further away.
func (c Config) Validate() error {
	switch strings.ToLower(c.Model.Provider) {
	case "", "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}

	switch strings.ToLower(c.Tasks.Source) {
	case "", "todoist":
	case "fixture":
		if c.Tasks.FixturePath == "" {
			return fmt.Errorf("config: tasks.fixture_path is required when tasks.source is fixture")
		}
	default:
		return fmt.Errorf("config: unknown task source %q", c.Tasks.Source)
	}

	switch strings.ToLower(c.Archive.Backend) {
	case "", "memory":
	case "file":
		if c.Archive.Dir == "" {
			return fmt.Errorf("config: archive.dir is required for the file backend")
		}
	case "redis":
		if c.Archive.Redis.Addr == "" {
			return fmt.Errorf("config: archive.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown archive backend %q", c.Archive.Backend)
	}

	for _, pattern := range c.Archive.MaskPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("config: mask pattern %q: %w", pattern, err)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	return nil
}

func readEnv(key string) (string, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return "", false
	}
	return raw, true
}

func readEnvInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
