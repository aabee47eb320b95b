// Package llm provides the decision-service clients and the model-backed
// collaborators (batch classifier, per-task processors) for the pipeline.
//
// Three providers are supported: Anthropic, OpenAI, and Ollama. All three
// speak plain HTTP and are reduced to ports.ModelClient: structured prompt
// in, free text out. The core extracts whatever JSON it needs from the text
// itself, so the clients never interpret responses.
package llm

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/espalier/pkg/ports"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Defaults applied when Config leaves the field empty.
const (
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultOllamaModel    = "deepseek-r1:8b"

	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultTimeout bounds one HTTP exchange.
	DefaultTimeout = 120 * time.Second
)

// Config selects and configures a provider client.
type Config struct {
	// Provider is one of anthropic, openai, or ollama. Empty selects ollama,
	// the provider that needs no credentials.
	Provider string

	// Model overrides the provider's default model name.
	Model string

	// APIKey authenticates against hosted providers. Ollama ignores it.
	APIKey string

	// BaseURL overrides the provider endpoint, for proxies and self-hosted
	// deployments.
	BaseURL string

	// MaxTokens bounds response length when the request does not set one.
	MaxTokens int

	Timeout time.Duration

	// HTTPClient overrides the transport. Tests point it at a local server.
	HTTPClient *http.Client
}

// New builds the provider client named by the configuration.
func New(cfg Config) (ports.ModelClient, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: anthropic requires an API key")
		}
		return NewAnthropic(cfg), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: openai requires an API key")
		}
		return NewOpenAI(cfg), nil
	case ProviderOllama, "":
		return NewOllama(cfg), nil
	}
	return nil, fmt.Errorf("llm: unsupported provider %q (use anthropic, openai, or ollama)", cfg.Provider)
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// chatMessage is the role/content pair shared by all three wire formats.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// normalizeBaseURL coerces user-supplied endpoints into scheme://host/v1 form
// for the OpenAI-compatible API.
func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}

// snippet bounds an HTTP error body for inclusion in an error message.
func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "<empty body>"
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
