// Package llm talks to OpenAI-compatible chat-completions endpoints and
// implements the two analysis calls the pipeline makes: the ticket classifier
// and the sentiment classifier.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

const (
	maxRetries     = 3
	retryBaseDelay = 1 * time.Second
)

// Message is one chat message. Content is either a plain string or a slice
// of ContentPart for multimodal requests.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multimodal user message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an inline data URL.
type ImageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client is a chat-completions client with retry on transient failures.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Options configures a Client.
type Options struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
	// Retries overrides the default attempt count; 0 means the default.
	Retries int
}

// NewClient creates a chat-completions client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 45 * time.Second
	}
	return &Client{
		endpoint:   opts.Endpoint,
		model:      opts.Model,
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// CompleteJSON sends messages in JSON mode and returns the raw content of the
// first choice. Transient failures (429, 5xx, timeouts, connection errors)
// are retried with exponential backoff; 400 and 401 fail immediately.
func (c *Client) CompleteJSON(ctx context.Context, messages []Message, temperature float64, maxTokens int) ([]byte, error) {
	return c.complete(ctx, messages, temperature, maxTokens, maxRetries, true)
}

// CompleteJSONOnce is CompleteJSON without retries, for callers whose stage
// prefers a fast fail-open over waiting out backoff.
func (c *Client) CompleteJSONOnce(ctx context.Context, messages []Message, temperature float64, maxTokens int) ([]byte, error) {
	return c.complete(ctx, messages, temperature, maxTokens, 1, true)
}

// CompleteTextOnce sends messages without JSON mode and without retries, for
// single-word answer prompts.
func (c *Client) CompleteTextOnce(ctx context.Context, messages []Message, temperature float64, maxTokens int) ([]byte, error) {
	return c.complete(ctx, messages, temperature, maxTokens, 1, false)
}

func (c *Client) complete(ctx context.Context, messages []Message, temperature float64, maxTokens int, attempts int, jsonMode bool) ([]byte, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(retryBaseDelay) * math.Pow(2, float64(attempt-1)))
			c.logger.Warn("Retrying LLM call",
				"attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		content, retryable, err := c.doOnce(ctx, body)
		if err == nil {
			return content, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("llm call failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, body []byte) (content []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable unless the caller's
		// context is gone.
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("llm request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("llm endpoint returned HTTP %d", resp.StatusCode)
	default:
		// 400, 401 and other client errors are permanent.
		return nil, false, fmt.Errorf("llm endpoint returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read llm response: %w", err)
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to decode llm response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, false, errors.New("llm response has no choices")
	}
	return []byte(parsed.Choices[0].Message.Content), false, nil
}
