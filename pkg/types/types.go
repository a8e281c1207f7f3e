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

// Package types contains shared types used across the atelier engine.
// This package breaks import cycles by providing common types that both
// pkg/workflow and pkg/llm packages depend on.
package types

import (
	"context"
	"time"
)

// Role tags for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	// Role is the message sender tag (system, user, assistant)
	Role string

	// Content is the message text
	Content string

	// AgentID identifies which agent created this message (optional)
	AgentID string

	// Timestamp when the message was created
	Timestamp time.Time
}

// Options controls a single completion request.
type Options struct {
	// Temperature in [0, 2]; zero means provider default
	Temperature float64

	// MaxTokens caps the output; zero means provider default
	MaxTokens int

	// Stream requests incremental token delivery when the provider
	// supports it
	Stream bool
}

// Usage tracks LLM token usage.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// Estimated is true when the provider returned no counts and the
	// numbers were derived from a local tokenizer.
	Estimated bool
}

// LLMResponse represents a response from the LLM.
type LLMResponse struct {
	// Content is the text response
	Content string

	// StopReason indicates why the LLM stopped
	StopReason string

	// Usage tracks token usage
	Usage Usage

	// Metadata contains provider-specific metadata
	Metadata map[string]interface{}
}

// LLMProvider defines the interface for LLM providers.
// This allows pluggable backends (Anthropic, OpenAI, Ollama, test stubs).
//
// Providers never retry internally; retry policy is owned by the workflow
// engine so it is uniform across providers.
type LLMProvider interface {
	// Chat sends a conversation to the LLM and returns the response
	Chat(ctx context.Context, messages []Message, opts Options) (*LLMResponse, error)

	// Name returns the provider name
	Name() string

	// Model returns the native model identifier
	Model() string
}

// TokenCallback is called for each token/chunk during streaming.
// Implementations should be lightweight and non-blocking.
type TokenCallback func(token string)

// StreamingLLMProvider extends LLMProvider with token streaming support.
type StreamingLLMProvider interface {
	LLMProvider

	// ChatStream streams tokens as they're generated from the LLM.
	// Returns the complete LLMResponse after the stream finishes.
	// The callback is called synchronously and must not block.
	ChatStream(ctx context.Context, messages []Message, opts Options, cb TokenCallback) (*LLMResponse, error)
}

// SupportsStreaming checks if a provider supports token streaming.
func SupportsStreaming(provider LLMProvider) bool {
	_, ok := provider.(StreamingLLMProvider)
	return ok
}
