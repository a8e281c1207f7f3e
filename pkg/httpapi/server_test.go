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
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/pkg/events"
	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/llm/factory"
	"github.com/atelierhq/atelier/pkg/project"
	"github.com/atelierhq/atelier/pkg/types"
	"github.com/atelierhq/atelier/pkg/workflow"
)

type stubProvider struct {
	mu sync.Mutex
	fn func(ctx context.Context) (string, error)
}

func (p *stubProvider) Chat(ctx context.Context, msgs []types.Message, opts types.Options) (*types.LLMResponse, error) {
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	content, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	return &types.LLMResponse{Content: content, StopReason: "end_turn"}, nil
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "local-stub" }

func newTestServer(t *testing.T, provider *stubProvider) *httptest.Server {
	t.Helper()
	store, err := project.NewStore(t.TempDir())
	require.NoError(t, err)

	f := factory.New(llm.NewRegistry(), factory.Credentials{})
	f.Inject("stub", provider)

	bus := events.NewBus(64)
	engine := workflow.New(workflow.Config{
		RetryBackoffInitial: time.Millisecond,
		RetryBackoffMax:     5 * time.Millisecond,
	}, f, store, bus, nil, nil)

	srv := New(engine, Options{Host: "127.0.0.1", Port: 0})
	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func submitBody(await bool) string {
	body := map[string]interface{}{
		"task": "write a haiku",
		"agents": []map[string]interface{}{
			{"id": "poet-1", "role": "poet", "model": "local-stub"},
		},
		"await_completion": await,
	}
	data, _ := json.Marshal(body)
	return string(data)
}

func TestSubmitAndStatus(t *testing.T) {
	provider := &stubProvider{fn: func(context.Context) (string, error) { return "a haiku", nil }}
	ts := newTestServer(t, provider)

	resp, err := http.Post(ts.URL+"/api/v1/workflows", "application/json",
		strings.NewReader(submitBody(true)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap workflow.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, workflow.StatusCompleted, snap.Status)
	require.NotEmpty(t, snap.ID)

	statusResp, err := http.Get(ts.URL + "/api/v1/workflows/" + snap.ID)
	require.NoError(t, err)
	defer statusResp.Body.Close()
	assert.Equal(t, http.StatusOK, statusResp.StatusCode)

	listResp, err := http.Get(ts.URL + "/api/v1/workflows")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list struct {
		Workflows []workflow.Snapshot `json:"workflows"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list.Workflows, 1)
	assert.Equal(t, snap.ID, list.Workflows[0].ID)
}

func TestSubmitValidationError(t *testing.T) {
	ts := newTestServer(t, &stubProvider{fn: func(context.Context) (string, error) { return "x", nil }})

	resp, err := http.Post(ts.URL+"/api/v1/workflows", "application/json",
		strings.NewReader(`{"task":"","agents":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body struct {
		Error struct {
			Code  string `json:"code"`
			Field string `json:"field"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_request", body.Error.Code)
	assert.Equal(t, "task", body.Error.Field)
}

func TestSubmitMalformedJSON(t *testing.T) {
	ts := newTestServer(t, &stubProvider{fn: func(context.Context) (string, error) { return "x", nil }})

	resp, err := http.Post(ts.URL+"/api/v1/workflows", "application/json",
		strings.NewReader(`{not json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusNotFound(t *testing.T) {
	ts := newTestServer(t, &stubProvider{fn: func(context.Context) (string, error) { return "x", nil }})

	resp, err := http.Get(ts.URL + "/api/v1/workflows/no-such-id")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelLifecycle(t *testing.T) {
	release := make(chan struct{})
	provider := &stubProvider{fn: func(ctx context.Context) (string, error) {
		select {
		case <-release:
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	ts := newTestServer(t, provider)
	defer close(release)

	resp, err := http.Post(ts.URL+"/api/v1/workflows", "application/json",
		strings.NewReader(submitBody(false)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var snap workflow.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))

	cancelResp, err := http.Post(ts.URL+"/api/v1/workflows/"+snap.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	cancelResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, cancelResp.StatusCode)

	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/api/v1/workflows/" + snap.ID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var s workflow.Snapshot
		if json.NewDecoder(r.Body).Decode(&s) != nil {
			return false
		}
		return s.Status == workflow.StatusCancelled
	}, 5*time.Second, 20*time.Millisecond)

	again, err := http.Post(ts.URL+"/api/v1/workflows/"+snap.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	again.Body.Close()
	assert.Equal(t, http.StatusConflict, again.StatusCode)
}

func TestEventsTerminalWorkflow(t *testing.T) {
	provider := &stubProvider{fn: func(context.Context) (string, error) { return "done", nil }}
	ts := newTestServer(t, provider)

	resp, err := http.Post(ts.URL+"/api/v1/workflows", "application/json",
		strings.NewReader(submitBody(true)))
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap workflow.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))

	evResp, err := http.Get(ts.URL + "/api/v1/workflows/" + snap.ID + "/events")
	require.NoError(t, err)
	defer evResp.Body.Close()

	assert.Equal(t, "text/event-stream", evResp.Header.Get("Content-Type"))
	body, err := io.ReadAll(evResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: workflow_status")
	assert.Contains(t, string(body), `"status":"completed"`)
}

func TestPublishNotConfigured(t *testing.T) {
	provider := &stubProvider{fn: func(context.Context) (string, error) { return "done", nil }}
	ts := newTestServer(t, provider)

	resp, err := http.Post(ts.URL+"/api/v1/workflows", "application/json",
		strings.NewReader(submitBody(true)))
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap workflow.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))

	pubResp, err := http.Post(ts.URL+"/api/v1/workflows/"+snap.ID+"/publish",
		"application/json", strings.NewReader(`{"visibility":"private"}`))
	require.NoError(t, err)
	defer pubResp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, pubResp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &stubProvider{fn: func(context.Context) (string, error) { return "x", nil }})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
