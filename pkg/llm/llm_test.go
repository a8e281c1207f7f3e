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
package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/pkg/types"
)

func TestErrorRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindTransport, true},
		{KindRateLimit, true},
		{KindServer, true},
		{KindMalformed, true},
		{KindAuth, false},
		{KindQuota, false},
		{KindUnknownModel, false},
		{KindCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := &Error{Kind: tt.kind, Provider: "test"}
			assert.Equal(t, tt.want, err.Retryable())
			assert.Equal(t, tt.want, Retryable(err))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRateLimit, KindOf(&Error{Kind: KindRateLimit}))
	assert.Equal(t, KindRateLimit, KindOf(fmt.Errorf("wrapped: %w", &Error{Kind: KindRateLimit})))
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindTransport, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTransport, KindOf(errors.New("connection reset")))
}

func TestRetryAfterHint(t *testing.T) {
	err := &Error{Kind: KindRateLimit, RetryAfter: 3 * time.Second}
	assert.Equal(t, 3*time.Second, RetryAfter(err))
	assert.Equal(t, time.Duration(0), RetryAfter(errors.New("plain")))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, KindAuth, ClassifyStatus(401))
	assert.Equal(t, KindAuth, ClassifyStatus(403))
	assert.Equal(t, KindRateLimit, ClassifyStatus(429))
	assert.Equal(t, KindServer, ClassifyStatus(500))
	assert.Equal(t, KindServer, ClassifyStatus(503))
	assert.Equal(t, KindMalformed, ClassifyStatus(400))
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()

	def, err := r.Resolve("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", def.Provider)
	assert.Equal(t, "claude-sonnet-4-5-20250929", def.Model)

	// Case-insensitive match.
	def, err = r.Resolve("CLAUDE-SONNET-4-5")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", def.Provider)

	assert.True(t, r.Known("local-stub"))
	assert.False(t, r.Known("gpt-99"))
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("nope")
	require.Error(t, err)
	assert.Equal(t, KindUnknownModel, KindOf(err))
}

func TestCountTokensFallbackNeverZero(t *testing.T) {
	assert.Greater(t, CountTokens("hello world, this is a sentence"), 0)
	assert.Equal(t, 0, CountTokens(""))
}

func TestEstimateUsage(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "you are terse"},
		{Role: types.RoleUser, Content: "write a poem about rivers"},
	}
	usage := EstimateUsage(msgs, "rivers run, rivers rest")

	assert.True(t, usage.Estimated)
	assert.Greater(t, usage.InputTokens, 0)
	assert.Greater(t, usage.OutputTokens, 0)
	assert.Equal(t, usage.InputTokens+usage.OutputTokens, usage.TotalTokens)
}
