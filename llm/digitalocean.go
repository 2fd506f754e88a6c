package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// DigitalOceanBaseURL is the DigitalOcean AI Inference API base URL.
const DigitalOceanBaseURL = "https://inference.do-ai.run"

// DefaultDigitalOceanModel is used when the job's LLM config omits one.
const DefaultDigitalOceanModel = "llama3.3-70b-instruct"

// DigitalOceanConfig configures a DigitalOcean-inference Client.
type DigitalOceanConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Limiter *RateLimiter // optional
}

// DigitalOceanClient calls DigitalOcean's OpenAI-wire-compatible AI
// inference endpoint directly (not via an agent).
type DigitalOceanClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *RateLimiter
}

// NewDigitalOceanClient builds a Client tuned for parallel chunk
// extraction: a wide idle-connection pool and HTTP/2 where available.
func NewDigitalOceanClient(cfg DigitalOceanConfig) *DigitalOceanClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DigitalOceanBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultDigitalOceanModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	return &DigitalOceanClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				MaxConnsPerHost:     0,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   false,
				ForceAttemptHTTP2:   true,
			},
		},
		limiter: cfg.Limiter,
	}
}

type doMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type doResponseFormat struct {
	Type       string        `json:"type"`
	JSONSchema *doJSONSchema `json:"json_schema,omitempty"`
}

type doJSONSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Schema      map[string]interface{} `json:"schema"`
	Strict      bool                   `json:"strict,omitempty"`
}

type doRequest struct {
	Model          string            `json:"model"`
	Messages       []doMessage       `json:"messages"`
	Temperature    float64           `json:"temperature,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Stream         bool              `json:"stream,omitempty"`
	ResponseFormat *doResponseFormat `json:"response_format,omitempty"`
}

type doChoice struct {
	Index        int       `json:"index"`
	Message      doMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type doUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type doResponse struct {
	ID      string     `json:"id"`
	Model   string     `json:"model"`
	Choices []doChoice `json:"choices"`
	Usage   doUsage    `json:"usage"`
}

// Complete implements llm.Client.
func (c *DigitalOceanClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	apiReq := doRequest{
		Model: c.model,
		Messages: []doMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONSchema != nil {
		apiReq.ResponseFormat = &doResponseFormat{
			Type: "json_schema",
			JSONSchema: &doJSONSchema{
				Name:   req.JSONSchemaName,
				Schema: req.JSONSchema,
				Strict: true,
			},
		}
	} else {
		apiReq.ResponseFormat = &doResponseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}

	log.Printf("[llm/digitalocean] status %d, body length %d", resp.StatusCode, len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("inference API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result doResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("llm: no choices returned")
	}

	return &Response{
		Content:          result.Choices[0].Message.Content,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}, nil
}
