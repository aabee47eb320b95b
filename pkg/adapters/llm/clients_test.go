package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/espalier/pkg/adapters/llm"
	"github.com/aretw0/espalier/pkg/ports"
)

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func TestOpenAICompleteRoundTrip(t *testing.T) {
	var got struct {
		Model       string        `json:"model"`
		Messages    []wireMessage `json:"messages"`
		Temperature float64       `json:"temperature"`
		MaxTokens   int           `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "hello back"}, "finish_reason": "stop"}]}`))
	}))
	defer srv.Close()

	client := llm.NewOpenAI(llm.Config{Model: "gpt-4o-mini", APIKey: "test-key", BaseURL: srv.URL})
	text, err := client.Complete(context.Background(), ports.ModelRequest{
		System:      "be terse",
		Prompt:      "say hello",
		Temperature: 0.3,
		MaxTokens:   128,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", text)
	assert.Equal(t, "gpt-4o-mini", client.Model())

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be terse", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "say hello", got.Messages[1].Content)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	assert.Equal(t, 128, got.MaxTokens)
}

func TestOpenAIReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := llm.NewOpenAI(llm.Config{APIKey: "k", BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), ports.ModelRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestOpenAIRejectsEmptyAnswers(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"No Choices", `{"choices": []}`},
		{"Blank Content", `{"choices": [{"message": {"role": "assistant", "content": "   "}}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := llm.NewOpenAI(llm.Config{APIKey: "k", BaseURL: srv.URL})
			_, err := client.Complete(context.Background(), ports.ModelRequest{Prompt: "hi"})
			assert.Error(t, err)
		})
	}
}

func TestAnthropicCompleteRoundTrip(t *testing.T) {
	var got struct {
		Model       string        `json:"model"`
		MaxTokens   int           `json:"max_tokens"`
		System      string        `json:"system"`
		Messages    []wireMessage `json:"messages"`
		Temperature float64       `json:"temperature"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "part one"}, {"type": "text", "text": " part two"}]}`))
	}))
	defer srv.Close()

	client := llm.NewAnthropic(llm.Config{APIKey: "test-key", BaseURL: srv.URL})
	text, err := client.Complete(context.Background(), ports.ModelRequest{
		System: "be terse",
		Prompt: "say hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", text)

	assert.Equal(t, llm.DefaultAnthropicModel, got.Model)
	assert.Greater(t, got.MaxTokens, 0, "the messages API requires max_tokens")
	assert.Equal(t, "be terse", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestOllamaCompleteRoundTrip(t *testing.T) {
	var got struct {
		Model    string        `json:"model"`
		Messages []wireMessage `json:"messages"`
		Stream   bool          `json:"stream"`
		Options  struct {
			Temperature float64 `json:"temperature"`
		} `json:"options"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message": {"role": "assistant", "content": "pong"}, "done": true}`))
	}))
	defer srv.Close()

	client := llm.NewOllama(llm.Config{Model: "llama3.2", BaseURL: srv.URL})
	text, err := client.Complete(context.Background(), ports.ModelRequest{Prompt: "ping", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "pong", text)

	assert.Equal(t, "llama3.2", got.Model)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.2, got.Options.Temperature, 1e-9)
}

func TestNewSelectsProvider(t *testing.T) {
	cases := []struct {
		name    string
		cfg     llm.Config
		want    any
		wantErr bool
	}{
		{"Anthropic", llm.Config{Provider: "anthropic", APIKey: "k"}, &llm.Anthropic{}, false},
		{"Anthropic Without Key", llm.Config{Provider: "anthropic"}, nil, true},
		{"OpenAI", llm.Config{Provider: "openai", APIKey: "k"}, &llm.OpenAI{}, false},
		{"OpenAI Without Key", llm.Config{Provider: "openai"}, nil, true},
		{"Ollama", llm.Config{Provider: "ollama"}, &llm.Ollama{}, false},
		{"Default Is Ollama", llm.Config{}, &llm.Ollama{}, false},
		{"Case Insensitive", llm.Config{Provider: "OpenAI", APIKey: "k"}, &llm.OpenAI{}, false},
		{"Unsupported", llm.Config{Provider: "gemini"}, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := llm.New(tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tc.want, client)
		})
	}
}
