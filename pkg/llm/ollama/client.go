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
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/types"
)

// Client implements the LLMProvider interface for a locally served Ollama
// instance reached over HTTP.
type Client struct {
	endpoint    string
	model       string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the Ollama client.
type Config struct {
	Endpoint    string        // Default: http://localhost:11434
	Model       string        // Required: e.g., llama3.1, qwen2.5-coder
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 0.8
	Timeout     time.Duration // Default: 120s
}

// NewClient creates a new Ollama client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &Client{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "ollama"
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// chatRequest is the /api/chat request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// chatResponse is one /api/chat response object. In streaming mode the
// body is NDJSON with one object per chunk.
type chatResponse struct {
	Model      string      `json:"model"`
	Message    chatMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason"`
	// Ollama reports eval counts on the final chunk when available.
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Chat sends a conversation to Ollama and returns the response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, opts types.Options) (*types.LLMResponse, error) {
	body, err := json.Marshal(c.buildRequest(messages, opts, false))
	if err != nil {
		return nil, c.wrap(llm.KindMalformed, 0, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, c.wrap(llm.KindTransport, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return nil, c.wrap(llm.ClassifyStatus(httpResp.StatusCode), httpResp.StatusCode,
			fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody)))
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, c.wrap(llm.KindMalformed, httpResp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return c.convertResponse(messages, resp.Message.Content, resp.DoneReason, resp.PromptEvalCount, resp.EvalCount), nil
}

// ChatStream streams tokens from Ollama's NDJSON chat stream.
func (c *Client) ChatStream(ctx context.Context, messages []types.Message, opts types.Options, cb types.TokenCallback) (*types.LLMResponse, error) {
	body, err := json.Marshal(c.buildRequest(messages, opts, true))
	if err != nil {
		return nil, c.wrap(llm.KindMalformed, 0, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, c.wrap(llm.KindTransport, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 8192))
		return nil, c.wrap(llm.ClassifyStatus(httpResp.StatusCode), httpResp.StatusCode,
			fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody)))
	}

	var content strings.Builder
	var doneReason string
	var promptEval, eval int

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if cb != nil {
				cb(chunk.Message.Content)
			}
		}
		if chunk.Done {
			doneReason = chunk.DoneReason
			promptEval = chunk.PromptEvalCount
			eval = chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, c.transportError(ctx, fmt.Errorf("error reading stream: %w", err))
	}

	return c.convertResponse(messages, content.String(), doneReason, promptEval, eval), nil
}

func (c *Client) buildRequest(messages []types.Message, opts types.Options, stream bool) chatRequest {
	converted := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, chatMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := c.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	return chatRequest{
		Model:    c.model,
		Messages: converted,
		Stream:   stream,
		Options:  chatOptions{Temperature: temperature, NumPredict: maxTokens},
	}
}

// convertResponse prefers Ollama's eval counts; when the server omits
// them the usage is estimated locally and flagged as such.
func (c *Client) convertResponse(messages []types.Message, content, doneReason string, promptEval, eval int) *types.LLMResponse {
	usage := types.Usage{
		InputTokens:  promptEval,
		OutputTokens: eval,
		TotalTokens:  promptEval + eval,
	}
	if usage.TotalTokens == 0 {
		usage = llm.EstimateUsage(messages, content)
	}
	return &types.LLMResponse{
		Content:    content,
		StopReason: doneReason,
		Usage:      usage,
		Metadata:   map[string]interface{}{"provider": "ollama", "model": c.model},
	}
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return c.wrap(llm.KindCancelled, 0, ctx.Err())
	}
	return c.wrap(llm.KindTransport, 0, err)
}

func (c *Client) wrap(kind llm.Kind, status int, err error) error {
	return &llm.Error{Kind: kind, Provider: "ollama", Status: status, Err: err}
}
