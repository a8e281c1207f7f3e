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
package anthropic

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

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultEndpoint is the default Anthropic Messages API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the default maximum tokens per request.
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	apiVersion = "2023-06-01"
)

// Client implements the LLMProvider interface for Anthropic's Claude API.
// The client never retries; retry policy belongs to the workflow engine.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey      string
	Model       string        // Default: claude-sonnet-4-5-20250929
	Endpoint    string        // Default: https://api.anthropic.com/v1/messages
	Timeout     time.Duration // Default: 120s
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0
}

// NewClient creates a new Anthropic client.
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
		config.Temperature = 1.0
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
	return "anthropic"
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends a conversation to Claude and returns the response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, opts types.Options) (*types.LLMResponse, error) {
	req := c.buildRequest(messages, opts, false)

	resp, err := c.callAPI(ctx, req)
	if err != nil {
		return nil, err
	}
	return convertResponse(resp), nil
}

// ChatStream streams tokens as Claude generates them.
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
		return nil, c.statusError(httpResp)
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
		jsonData := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event StreamEvent
		if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
			// Skip malformed events but continue processing.
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				content.WriteString(event.Delta.Text)
				if cb != nil {
					cb(event.Delta.Text)
				}
			}
		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
		case "message_start":
			if event.Usage != nil {
				usage.InputTokens = event.Usage.InputTokens
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, c.transportError(ctx, fmt.Errorf("error reading stream: %w", err))
	}

	return &types.LLMResponse{
		Content:    content.String(),
		StopReason: stopReason,
		Usage: types.Usage{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			TotalTokens:  usage.InputTokens + usage.OutputTokens,
		},
		Metadata: map[string]interface{}{"provider": "anthropic", "model": c.model},
	}, nil
}

func (c *Client) buildRequest(messages []types.Message, opts types.Options, stream bool) *MessagesRequest {
	system, converted := convertMessages(messages)

	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := c.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	return &MessagesRequest{
		Model:       c.model,
		Messages:    converted,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      system,
		Stream:      stream,
	}
}

// convertMessages maps engine messages to the Messages API shape.
// The Anthropic API requires the system prompt in a separate field;
// consecutive system messages are joined.
func convertMessages(messages []types.Message) (string, []Message) {
	var system []string
	converted := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		converted = append(converted, Message{Role: m.Role, Content: m.Content})
	}
	return strings.Join(system, "\n\n"), converted
}

func (c *Client) callAPI(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
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

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(ctx, fmt.Errorf("failed to read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.statusErrorBody(httpResp, respBody)
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, c.wrap(llm.KindMalformed, httpResp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return &resp, nil
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("x-api-key", c.apiKey)
	r.Header.Set("anthropic-version", apiVersion)
}

func convertResponse(resp *MessagesResponse) *types.LLMResponse {
	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return &types.LLMResponse{
		Content:    content.String(),
		StopReason: resp.StopReason,
		Usage: types.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Metadata: map[string]interface{}{"provider": "anthropic", "model": resp.Model, "id": resp.ID},
	}
}

func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	return c.statusErrorBody(resp, body)
}

// statusErrorBody normalizes a non-200 response into the error taxonomy.
// Anthropic reports hard quota exhaustion as a 429 without Retry-After,
// with an error type that is not "rate_limit_error".
func (c *Client) statusErrorBody(resp *http.Response, body []byte) error {
	kind := llm.ClassifyStatus(resp.StatusCode)
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	var envelope ErrorResponse
	if json.Unmarshal(body, &envelope) == nil {
		if resp.StatusCode == http.StatusTooManyRequests &&
			retryAfter == 0 && envelope.Error.Type != "rate_limit_error" {
			kind = llm.KindQuota
		}
		if envelope.Error.Message != "" {
			return c.wrapRetry(kind, resp.StatusCode, retryAfter,
				fmt.Errorf("API error (status %d): %s", resp.StatusCode, envelope.Error.Message))
		}
	}
	return c.wrapRetry(kind, resp.StatusCode, retryAfter,
		fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body)))
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return c.wrap(llm.KindCancelled, 0, ctx.Err())
	}
	return c.wrap(llm.KindTransport, 0, err)
}

func (c *Client) wrap(kind llm.Kind, status int, err error) error {
	return &llm.Error{Kind: kind, Provider: "anthropic", Status: status, Err: err}
}

func (c *Client) wrapRetry(kind llm.Kind, status int, retryAfter time.Duration, err error) error {
	return &llm.Error{Kind: kind, Provider: "anthropic", Status: status, RetryAfter: retryAfter, Err: err}
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
