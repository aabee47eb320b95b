package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aretw0/espalier/pkg/ports"
)

const anthropicVersion = "2023-06-01"

// anthropicMaxTokens is the fallback response bound; the messages API rejects
// requests without one.
const anthropicMaxTokens = 4096

// Anthropic implements ports.ModelClient against the messages API.
type Anthropic struct {
	baseURL   string
	model     string
	apiKey    string
	maxTokens int
	http      *http.Client
}

// NewAnthropic builds a messages-API client from the configuration.
func NewAnthropic(cfg Config) *Anthropic {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.anthropic.com"
	}
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &Anthropic{
		baseURL:   strings.TrimRight(base, "/"),
		model:     model,
		apiKey:    cfg.APIKey,
		maxTokens: firstPositive(cfg.MaxTokens, anthropicMaxTokens),
		http:      cfg.httpClient(),
	}
}

// Model returns the configured model name for the call log.
func (c *Anthropic) Model() string { return c.model }

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends one exchange and returns the concatenated text blocks.
func (c *Anthropic) Complete(ctx context.Context, req ports.ModelRequest) (string, error) {
	payload, err := json.Marshal(anthropicRequest{
		Model:       c.model,
		MaxTokens:   firstPositive(req.MaxTokens, c.maxTokens),
		System:      req.System,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm: anthropic status %s: %s", resp.Status, snippet(body))
	}

	var decoded anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}

	var b strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	content := b.String()
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("llm: response is empty")
	}
	return content, nil
}
