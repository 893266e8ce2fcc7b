// Package llm provides the text-generation capability consumed by the
// pipeline, backed by an Anthropic-style messages API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harrier-data/fleetsentry/internal/httputil"
)

// GenerationError reports a provider failure during text generation. The
// orchestrator treats any GenerationError as fatal for the current pipeline
// run and does not retry.
type GenerationError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s generation failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

const (
	// DefaultBaseURL is the Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"
	// DefaultModel is used when the config names none.
	DefaultModel = "claude-3-5-sonnet-latest"

	apiVersion       = "2023-06-01"
	defaultMaxTokens = 512
	defaultTemp      = 0.2
)

// ClientConfig carries the provider settings for a Client. Zero fields fall
// back to defaults; only APIKey is required.
type ClientConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	HTTPClient  httputil.Doer
}

// Client calls the Anthropic messages API. It implements the pipeline's
// Generator interface. Safe for concurrent use.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	http        httputil.Doer
}

// NewClient creates a text-generation client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is not set")
	}
	c := &Client{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http:        cfg.HTTPClient,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.temperature == 0 {
		c.temperature = defaultTemp
	}
	if c.maxTokens == 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	return c, nil
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends one generation request: persona becomes the system prompt,
// instruction the user message. Any provider failure is returned as a
// *GenerationError.
func (c *Client) Generate(ctx context.Context, persona, instruction string) (string, error) {
	reqBody := messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      persona,
		Messages:    []message{{Role: "user", Content: instruction}},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", &GenerationError{Provider: "anthropic", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return "", &GenerationError{Provider: "anthropic", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &GenerationError{Provider: "anthropic", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &GenerationError{Provider: "anthropic", StatusCode: resp.StatusCode, Err: err}
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &GenerationError{Provider: "anthropic", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("decode response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		msg := "request failed"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", &GenerationError{Provider: "anthropic", StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%s", msg)}
	}

	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", &GenerationError{Provider: "anthropic", StatusCode: resp.StatusCode,
		Err: fmt.Errorf("response contained no text block")}
}
