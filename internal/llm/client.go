// ABOUTME: Chat-completion client for the OpenAI-compatible endpoints the assistants call.
// ABOUTME: Covers openai, azure, ollama, and mistral backends behind one Chat method.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// azureAPIVersion pins the Azure OpenAI REST surface the client speaks.
const azureAPIVersion = "2024-08-01-preview"

// Config selects and tunes the backing model. Type must be one of openai,
// azure, ollama, or mistral.
type Config struct {
	Type        string        `yaml:"type"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"-"`
	TimeoutRaw  string        `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
}

// Validate checks the config and fills defaults.
func (c *Config) Validate() error {
	switch c.Type {
	case "openai", "azure", "ollama", "mistral":
	case "":
		return fmt.Errorf("llm: type is required")
	default:
		return fmt.Errorf("llm: unrecognized type %q (must be one of azure, mistral, ollama, openai)", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("llm: model is required")
	}
	if c.BaseURL == "" {
		switch c.Type {
		case "openai":
			c.BaseURL = "https://api.openai.com/v1"
		case "ollama":
			c.BaseURL = "http://localhost:11434/v1"
		case "mistral":
			c.BaseURL = "https://api.mistral.ai/v1"
		case "azure":
			return fmt.Errorf("llm: base_url is required for azure")
		}
	}
	if c.TimeoutRaw != "" && c.Timeout <= 0 {
		d, err := time.ParseDuration(c.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("llm: parsing timeout %q: %w", c.TimeoutRaw, err)
		}
		c.Timeout = d
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	return nil
}

// ChatTurn is one message in a chat-completion exchange.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client asks a chat-completion model a question. Implemented by *HTTPClient
// and by test fakes.
type Client interface {
	Chat(ctx context.Context, turns []ChatTurn) (string, error)
}

// HTTPClient is a plain HTTP JSON client for OpenAI-compatible
// chat-completion APIs. One attempt per call; retries belong to callers.
type HTTPClient struct {
	config Config
	http   *http.Client
}

// NewHTTPClient validates the config and builds a client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &HTTPClient{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatRequest struct {
	Model       string     `json:"model,omitempty"`
	Messages    []ChatTurn `json:"messages"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature float64    `json:"temperature"`
	Stream      bool       `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatTurn `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Chat sends the turns to the configured model and returns its reply text.
func (c *HTTPClient) Chat(ctx context.Context, turns []ChatTurn) (string, error) {
	reqBody := chatRequest{
		Model:       c.config.Model,
		Messages:    turns,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}
	if c.config.Type == "azure" {
		// Azure routes by deployment in the URL, not by model field.
		reqBody.Model = ""
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm: parse response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm: api error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: unexpected status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: no response choices returned")
	}

	return parsed.Choices[0].Message.Content, nil
}

// endpoint resolves the chat-completions URL for the configured backend.
func (c *HTTPClient) endpoint() string {
	base := strings.TrimSuffix(c.config.BaseURL, "/")
	if c.config.Type == "azure" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			base, c.config.Model, azureAPIVersion)
	}
	return base + "/chat/completions"
}

// authorize sets the backend's auth header. Ollama needs none.
func (c *HTTPClient) authorize(req *http.Request) {
	if c.config.APIKey == "" {
		return
	}
	if c.config.Type == "azure" {
		req.Header.Set("api-key", c.config.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
}
