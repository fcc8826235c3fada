package backend

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

// Config configures the HTTP summarization client.
type Config struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key"`

	// Timeout bounds a single request. Zero means 120s, generous enough for
	// local providers that load models on first request.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Client talks to any OpenAI-compatible chat completion endpoint and asks
// for a JSON-object summary of one chunk. The client is single-shot: retry
// and backoff policy belongs to the orchestrator, which needs to tell
// failure classes apart, so errors are classified here and never retried.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a summarization client for an OpenAI-compatible API.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

const systemPrompt = `You summarize excerpts of OCR-extracted medical records.
Respond with a single JSON object using exactly these keys:
"narrative" (string: clinical prose summary of the excerpt),
"key_points" (array of strings),
"care_plan" (string),
"diagnoses" (array of strings),
"providers" (array of strings),
"medications" (array of strings).
Use empty strings or empty arrays for information not present in the excerpt.
Do not invent findings. Do not include consent text, intake checkboxes,
vital-sign tables, or billing details.`

const strictSuffix = `
Your previous response could not be parsed. Respond with ONLY the JSON
object described above: no markdown fences, no commentary, double-quoted
keys, valid JSON.`

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
}

// Summarize sends one chunk to the backend and returns its raw response.
func (c *Client) Summarize(ctx context.Context, req Request) (*RawResponse, error) {
	sys := systemPrompt
	if req.Strict {
		sys += strictSuffix
	}

	var user strings.Builder
	if req.TrailingContext != "" {
		user.WriteString("Context from the preceding excerpt (do not re-summarize):\n")
		user.WriteString(req.TrailingContext)
		user.WriteString("\n---\n")
	}
	user.WriteString("Excerpt:\n")
	user.WriteString(req.Text)

	body := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []message{
			{Role: "system", Content: sys},
			{Role: "user", Content: user.String()},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	respBody, err := c.doPost(ctx, "/v1/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding completion: %v", ErrMalformed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrEmptyResponse)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, ErrEmptyResponse
	}

	return &RawResponse{
		Content: []byte(content),
		Model:   resp.Model,
	}, nil
}

func (c *Client) doPost(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := c.cfg.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, truncate(respBody))
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w: %s", ErrTimeout, truncate(respBody))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(respBody))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, truncate(respBody))
	}
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
