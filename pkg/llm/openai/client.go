// Copyright 2026 Atelier Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/types"
)

// Default OpenAI configuration values.
const (
	DefaultModel       = "gpt-4.1"
	DefaultEndpoint    = "https://api.openai.com/v1/chat/completions"
	DefaultTimeout     = 120 * time.Second
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0
)

// Client implements the LLMProvider interface for OpenAI's API.
// Used as the substitute cloud provider when the primary quota is
// exhausted. The client never retries internally.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the OpenAI client.
type Config struct {
	APIKey      string
	Model       string        // Default: gpt-4.1
	Endpoint    string        // Default: https://api.openai.com/v1/chat/completions
	Timeout     time.Duration // Default: 120s
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0
}

// NewClient creates a new OpenAI client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}

	return &Client{
		apiKey:      strings.TrimSpace(config.APIKey),
		model:       config.Model,
		endpoint:    config.Endpoint,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient:  &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "openai"
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends a conversation to the API and returns the response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, opts types.Options) (*types.LLMResponse, error) {
	req := c.buildRequest(messages, opts, false)

	respBody, status, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp ChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, c.wrap(llm.KindMalformed, status, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, c.wrap(llm.KindMalformed, status, fmt.Errorf("response contained no choices"))
	}

	choice := resp.Choices[0]
	return &types.LLMResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: types.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Metadata: map[string]interface{}{"provider": "openai", "model": resp.Model, "id": resp.ID},
	}, nil
}

// ChatStream streams tokens as they are generated.
func (c *Client) ChatStream(ctx context.Context, messages []types.Message, opts types.Options, cb types.TokenCallback) (*types.LLMResponse, error) {
	req := c.buildRequest(messages, opts, true)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, c.wrap(llm.KindMalformed, 0, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, c.wrap(llm.KindTransport, 0, err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 8192))
		return nil, c.statusError(httpResp, respBody)
	}

	var content strings.Builder
	var usage Usage
	var stopReason string

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			content.WriteString(delta)
			if cb != nil {
				cb(delta)
			}
		}
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			stopReason = fr
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, c.transportError(ctx, fmt.Errorf("error reading stream: %w", err))
	}

	return &types.LLMResponse{
		Content:    content.String(),
		StopReason: stopReason,
		Usage: types.Usage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
			TotalTokens:  usage.TotalTokens,
		},
		Metadata: map[string]interface{}{"provider": "openai", "model": c.model},
	}, nil
}

func (c *Client) buildRequest(messages []types.Message, opts types.Options, stream bool) *ChatRequest {
	converted := make([]Message, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, Message{Role: m.Role, Content: m.Content})
	}

	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := c.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	return &ChatRequest{
		Model:       c.model,
		Messages:    converted,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
}

func (c *Client) do(ctx context.Context, req *ChatRequest) ([]byte, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, c.wrap(llm.KindMalformed, 0, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, c.wrap(llm.KindTransport, 0, err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, c.transportError(ctx, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, c.transportError(ctx, fmt.Errorf("failed to read response: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, httpResp.StatusCode, c.statusError(httpResp, respBody)
	}
	return respBody, httpResp.StatusCode, nil
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// statusError normalizes a non-200 response. OpenAI distinguishes quota
// exhaustion from rate limiting via error code "insufficient_quota".
func (c *Client) statusError(resp *http.Response, body []byte) error {
	kind := llm.ClassifyStatus(resp.StatusCode)
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	var envelope ErrorResponse
	if json.Unmarshal(body, &envelope) == nil {
		if envelope.Error.Code == "insufficient_quota" {
			kind = llm.KindQuota
		}
		if envelope.Error.Message != "" {
			return &llm.Error{
				Kind: kind, Provider: "openai", Status: resp.StatusCode, RetryAfter: retryAfter,
				Err: fmt.Errorf("API error (status %d): %s", resp.StatusCode, envelope.Error.Message),
			}
		}
	}
	return &llm.Error{
		Kind: kind, Provider: "openai", Status: resp.StatusCode, RetryAfter: retryAfter,
		Err: fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body)),
	}
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return c.wrap(llm.KindCancelled, 0, ctx.Err())
	}
	return c.wrap(llm.KindTransport, 0, err)
}

func (c *Client) wrap(kind llm.Kind, status int, err error) error {
	return &llm.Error{Kind: kind, Provider: "openai", Status: status, Err: err}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
