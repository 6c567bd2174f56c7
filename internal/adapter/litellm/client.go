// Package litellm implements the AI-edit provider port against a LiteLLM
// proxy's OpenAI-compatible chat completions API.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/port/aieditor"
	"github.com/Strob0t/SiteForge/internal/resilience"
)

const systemPrompt = `You are a precise web code editor. You receive the full content of one file
and an instruction. Apply the instruction and respond with a single JSON object:
{"content": "<the complete modified file>", "description": "<one sentence describing the change>", "confidence": <0.0-1.0>}
Return the whole file, not a fragment. Do not wrap the JSON in markdown fences.`

// Client talks to a LiteLLM proxy and implements aieditor.Provider.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new AI-edit client. timeout bounds each round-trip;
// the caller's context may shorten it further.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type editPayload struct {
	Content     string   `json:"content"`
	Description string   `json:"description"`
	Confidence  *float64 `json:"confidence"`
}

// Edit sends the file and instruction to the model and parses the proposed edit.
func (c *Client) Edit(ctx context.Context, req aieditor.Request) (*aieditor.Result, error) {
	userMsg := fmt.Sprintf("File: %s (type: %s)\nInstruction: %s\n\n---\n%s",
		req.FileName, req.FileType, req.Prompt, req.Content)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMsg},
		},
		Temperature:    0.2,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	raw, err := c.doRequest(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices: %w", domain.ErrEditRejected)
	}

	var edit editPayload
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &edit); err != nil {
		return nil, fmt.Errorf("malformed edit payload: %v: %w", err, domain.ErrEditRejected)
	}
	if edit.Content == "" {
		return nil, fmt.Errorf("edit payload has empty content: %w", domain.ErrEditRejected)
	}

	result := &aieditor.Result{
		Content:     edit.Content,
		Description: edit.Description,
	}
	if edit.Confidence != nil {
		result.Confidence = *edit.Confidence
		result.Scored = true
	}
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("upstream status %d: %s", resp.StatusCode, truncate(data, 256))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}
	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
