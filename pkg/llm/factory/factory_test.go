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
package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/types"
)

type fakeProvider struct{ name string }

func (f *fakeProvider) Chat(ctx context.Context, msgs []types.Message, opts types.Options) (*types.LLMResponse, error) {
	return &types.LLMResponse{Content: "fake"}, nil
}
func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return "fake-model" }

func TestProviderByModelID(t *testing.T) {
	f := New(llm.NewRegistry(), Credentials{AnthropicAPIKey: "k1", OpenAIAPIKey: "k2"})

	p, err := f.Provider("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = f.Provider("gpt-4.1")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = f.Provider("ollama/llama3.1")
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
}

func TestProviderCached(t *testing.T) {
	f := New(llm.NewRegistry(), Credentials{AnthropicAPIKey: "k"})

	first, err := f.Provider("claude-sonnet-4-5")
	require.NoError(t, err)
	second, err := f.Provider("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestProviderUnknownModel(t *testing.T) {
	f := New(llm.NewRegistry(), Credentials{})
	_, err := f.Provider("does-not-exist")
	require.Error(t, err)
	assert.Equal(t, llm.KindUnknownModel, llm.KindOf(err))
}

func TestInjectOverridesConstruction(t *testing.T) {
	f := New(llm.NewRegistry(), Credentials{})
	fake := &fakeProvider{name: "stub"}
	f.Inject("stub", fake)

	p, err := f.Provider("local-stub")
	require.NoError(t, err)
	assert.Same(t, types.LLMProvider(fake), p)

	// Injection keys off the provider name, so cloud models can be
	// stubbed out too.
	f.Inject("anthropic", fake)
	p, err = f.Provider("claude-haiku-4-5")
	require.NoError(t, err)
	assert.Same(t, types.LLMProvider(fake), p)
}
