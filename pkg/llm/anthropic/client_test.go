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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/types"
)

func testMessages() []types.Message {
	return []types.Message{
		{Role: types.RoleSystem, Content: "be terse"},
		{Role: types.RoleUser, Content: "say hi"},
	}
}

func TestChatSuccess(t *testing.T) {
	var captured MessagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		fmt.Fprint(w, `{
			"id": "msg_01",
			"model": "claude-sonnet-4-5-20250929",
			"content": [{"type": "text", "text": "hi there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 3}
		}`)
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: srv.URL})
	resp, err := client.Chat(context.Background(), testMessages(), types.Options{})
	require.NoError(t, err)

	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	// The system prompt rides in its own field, not in messages.
	assert.Equal(t, "be terse", captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, types.RoleUser, captured.Messages[0].Role)
}

func TestChatRateLimitWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: srv.URL})
	_, err := client.Chat(context.Background(), testMessages(), types.Options{})
	require.Error(t, err)

	assert.Equal(t, llm.KindRateLimit, llm.KindOf(err))
	assert.True(t, llm.Retryable(err))
	assert.Equal(t, 2*time.Second, llm.RetryAfter(err))
}

func TestChatQuotaExhaustion(t *testing.T) {
	// A 429 with no Retry-After and a non-rate-limit error type means the
	// quota is gone, not that the caller should back off.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"credit balance too low"}}`)
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: srv.URL})
	_, err := client.Chat(context.Background(), testMessages(), types.Options{})
	require.Error(t, err)

	assert.Equal(t, llm.KindQuota, llm.KindOf(err))
	assert.False(t, llm.Retryable(err))
}

func TestChatAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "bad", Endpoint: srv.URL})
	_, err := client.Chat(context.Background(), testMessages(), types.Options{})
	require.Error(t, err)

	assert.Equal(t, llm.KindAuth, llm.KindOf(err))
	assert.False(t, llm.Retryable(err))
}

func TestChatMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json at all`)
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: srv.URL})
	_, err := client.Chat(context.Background(), testMessages(), types.Options{})
	require.Error(t, err)
	assert.Equal(t, llm.KindMalformed, llm.KindOf(err))
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\n")
		fmt.Fprint(w, `data: {"type":"message_start","usage":{"input_tokens":10}}`+"\n\n")
		fmt.Fprint(w, "event: content_block_delta\n")
		fmt.Fprint(w, `data: {"type":"content_block_delta","delta":{"text":"hel"}}`+"\n\n")
		fmt.Fprint(w, "event: content_block_delta\n")
		fmt.Fprint(w, `data: {"type":"content_block_delta","delta":{"text":"lo"}}`+"\n\n")
		fmt.Fprint(w, "event: message_delta\n")
		fmt.Fprint(w, `data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`+"\n\n")
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: srv.URL})

	var streamed string
	resp, err := client.ChatStream(context.Background(), testMessages(), types.Options{}, func(token string) {
		streamed += token
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "hello", streamed)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 25*time.Second)
	assert.LessOrEqual(t, d, 30*time.Second)
}
