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
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/types"
)

func TestChatReportedUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		fmt.Fprint(w, `{
			"model": "llama3.1",
			"message": {"role": "assistant", "content": "hello from ollama"},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 20,
			"eval_count": 5
		}`)
	}))
	defer srv.Close()

	client := NewClient(Config{Endpoint: srv.URL, Model: "llama3.1"})
	resp, err := client.Chat(context.Background(),
		[]types.Message{{Role: types.RoleUser, Content: "hi"}}, types.Options{})
	require.NoError(t, err)

	assert.Equal(t, "hello from ollama", resp.Content)
	assert.Equal(t, 20, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
	assert.False(t, resp.Usage.Estimated)
}

func TestChatEstimatesMissingUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"model": "llama3.1",
			"message": {"role": "assistant", "content": "short answer"},
			"done": true
		}`)
	}))
	defer srv.Close()

	client := NewClient(Config{Endpoint: srv.URL})
	resp, err := client.Chat(context.Background(),
		[]types.Message{{Role: types.RoleUser, Content: "a question"}}, types.Options{})
	require.NoError(t, err)

	assert.True(t, resp.Usage.Estimated)
	assert.Greater(t, resp.Usage.TotalTokens, 0)
}

func TestChatStreamNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"one "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"two"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":7,"eval_count":2}`)
	}))
	defer srv.Close()

	client := NewClient(Config{Endpoint: srv.URL})

	var streamed string
	resp, err := client.ChatStream(context.Background(),
		[]types.Message{{Role: types.RoleUser, Content: "count"}}, types.Options{},
		func(token string) { streamed += token })
	require.NoError(t, err)

	assert.Equal(t, "one two", resp.Content)
	assert.Equal(t, "one two", streamed)
	assert.Equal(t, 7, resp.Usage.InputTokens)
}

func TestChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"model not loaded"}`)
	}))
	defer srv.Close()

	client := NewClient(Config{Endpoint: srv.URL})
	_, err := client.Chat(context.Background(),
		[]types.Message{{Role: types.RoleUser, Content: "hi"}}, types.Options{})
	require.Error(t, err)

	assert.Equal(t, llm.KindServer, llm.KindOf(err))
	assert.True(t, llm.Retryable(err))
}
