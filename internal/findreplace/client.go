package findreplace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"dfapi/internal/frame"
)

// Generator proposes replacements for instruction given a sample of the
// table and its column names.
type Generator interface {
	GenerateReplacements(ctx context.Context, sample []frame.Record, columns []string, instruction string) ([]Replacement, error)
}

// ClientConfig configures Client. Zero values fall back to the defaults
// noted per field.
type ClientConfig struct {
	BaseURL string        // default https://api.openai.com/v1
	APIKey  string        // required
	Model   string        // default gpt-4o-mini
	Timeout time.Duration // default 30s
}

// Client is a Generator backed by an OpenAI-compatible chat completions
// endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of an answer is read.
	maxResponseBytes = 1 << 20
)

// NewClient returns a Client. The API key is required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("findreplace: missing API key")
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    newHTTPClient(cfg.Timeout),
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	return c, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

const systemPrompt = `You convert a user's find-and-replace instruction for a table into regular expression substitutions.
Answer with a JSON object {"replacements": [{"column": "...", "regex": "...", "replacement": "..."}]}.
Use only the given column names. Patterns use RE2 syntax (no lookaround). Replacements may reference groups as \1.
Return an empty list when the instruction does not call for any change.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateReplacements asks the model once. Every failure wraps ErrUpstream.
func (c *Client) GenerateReplacements(ctx context.Context, sample []frame.Record, columns []string, instruction string) ([]Replacement, error) {
	prompt, err := userPrompt(sample, columns, instruction)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("findreplace: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("findreplace: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	var out chatResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && out.Error != nil {
			msg = out.Error.Message
		}
		return nil, fmt.Errorf("%w: http %d: %s", ErrUpstream, resp.StatusCode, truncate(msg, 200))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, decodeErr)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", ErrUpstream)
	}
	return ParseReplacements(out.Choices[0].Message.Content)
}

func userPrompt(sample []frame.Record, columns []string, instruction string) (string, error) {
	cols, err := json.Marshal(columns)
	if err != nil {
		return "", fmt.Errorf("findreplace: encode columns: %w", err)
	}
	rows, err := json.Marshal(sample)
	if err != nil {
		return "", fmt.Errorf("findreplace: encode sample: %w", err)
	}
	return fmt.Sprintf("Columns: %s\nSample rows: %s\nInstruction: %s", cols, rows, instruction), nil
}

// ParseReplacements decodes a model answer. It accepts the requested
// {"replacements": [...]} object, a bare array, and either wrapped in a
// Markdown code fence.
func ParseReplacements(content string) ([]Replacement, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}

	var reps []Replacement
	if strings.HasPrefix(s, "[") {
		if err := json.Unmarshal([]byte(s), &reps); err != nil {
			return nil, fmt.Errorf("%w: decode replacements: %v", ErrUpstream, err)
		}
		return reps, nil
	}

	var wrapped struct {
		Replacements *[]Replacement `json:"replacements"`
	}
	if err := json.Unmarshal([]byte(s), &wrapped); err != nil {
		return nil, fmt.Errorf("%w: decode replacements: %v", ErrUpstream, err)
	}
	if wrapped.Replacements == nil {
		return nil, fmt.Errorf("%w: answer has no replacements field", ErrUpstream)
	}
	return *wrapped.Replacements, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
