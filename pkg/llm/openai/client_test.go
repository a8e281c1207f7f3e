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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/types"
)

func TestChatSuccess(t *testing.T) {
	var captured ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4.1",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 1, "total_tokens": 10}
		}`)
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: srv.URL})
	resp, err := client.Chat(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: "be brief"},
		{Role: types.RoleUser, Content: "greet me"},
	}, types.Options{})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 10, resp.Usage.TotalTokens)

	// Chat Completions keeps the system prompt inline as a message.
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, types.RoleSystem, captured.Messages[0].Role)
}

func TestChatQuotaCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota exceeded","type":"insufficient_quota","code":"insufficient_quota"}}`)
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: srv.URL})
	_, err := client.Chat(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, types.Options{})
	require.Error(t, err)

	assert.Equal(t, llm.KindQuota, llm.KindOf(err))
	assert.False(t, llm.Retryable(err))
}

func TestChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"upstream broke","type":"server_error"}}`)
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: srv.URL})
	_, err := client.Chat(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, types.Options{})
	require.Error(t, err)

	assert.Equal(t, llm.KindServer, llm.KindOf(err))
	assert.True(t, llm.Retryable(err))
}

func TestChatStreamDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"wor"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"ld"},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: srv.URL})

	var streamed string
	resp, err := client.ChatStream(context.Background(),
		[]types.Message{{Role: types.RoleUser, Content: "hi"}}, types.Options{},
		func(token string) { streamed += token })
	require.NoError(t, err)

	assert.Equal(t, "world", resp.Content)
	assert.Equal(t, "world", streamed)
	assert.Equal(t, "stop", resp.StopReason)
}
