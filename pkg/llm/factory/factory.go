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

// Package factory constructs LLM providers from model registry entries.
// Provider selection is driven solely by the model id; credentials are
// provider-keyed and resolved once at startup.
package factory

import (
	"fmt"
	"sync"

	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/llm/anthropic"
	"github.com/atelierhq/atelier/pkg/llm/ollama"
	"github.com/atelierhq/atelier/pkg/llm/openai"
	"github.com/atelierhq/atelier/pkg/types"
)

// Credentials holds provider-keyed API secrets. Values are expected to be
// whitespace-trimmed at configuration load.
type Credentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaEndpoint  string
}

// Factory creates and caches LLM providers keyed by model id.
// The registry is immutable after construction; the cache is safe for
// concurrent use.
type Factory struct {
	registry *llm.Registry
	creds    Credentials

	mu    sync.Mutex
	cache map[string]types.LLMProvider

	// injected providers by provider name; used for the "stub" provider
	// and by tests
	injected map[string]types.LLMProvider
}

// New creates a provider factory over a model registry.
func New(registry *llm.Registry, creds Credentials) *Factory {
	return &Factory{
		registry: registry,
		creds:    creds,
		cache:    make(map[string]types.LLMProvider),
		injected: make(map[string]types.LLMProvider),
	}
}

// Inject registers a concrete provider implementation for a provider
// name, bypassing construction. Registry entries with that provider
// resolve to the injected instance.
func (f *Factory) Inject(providerName string, p types.LLMProvider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected[providerName] = p
}

// Known reports whether a model id resolves in the registry.
func (f *Factory) Known(modelID string) bool {
	return f.registry.Known(modelID)
}

// Provider returns the provider serving the given model id, constructing
// it on first use.
func (f *Factory) Provider(modelID string) (types.LLMProvider, error) {
	def, err := f.registry.Resolve(modelID)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.injected[def.Provider]; ok {
		return p, nil
	}
	if p, ok := f.cache[def.ID]; ok {
		return p, nil
	}

	p, err := f.build(def)
	if err != nil {
		return nil, err
	}
	f.cache[def.ID] = p
	return p, nil
}

func (f *Factory) build(def llm.ModelDef) (types.LLMProvider, error) {
	switch def.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:      f.creds.AnthropicAPIKey,
			Model:       def.Model,
			Endpoint:    def.Endpoint,
			MaxTokens:   def.MaxTokens,
			Temperature: def.Temperature,
		}), nil
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      f.creds.OpenAIAPIKey,
			Model:       def.Model,
			Endpoint:    def.Endpoint,
			MaxTokens:   def.MaxTokens,
			Temperature: def.Temperature,
		}), nil
	case "ollama":
		endpoint := def.Endpoint
		if endpoint == "" {
			endpoint = f.creds.OllamaEndpoint
		}
		return ollama.NewClient(ollama.Config{
			Endpoint:    endpoint,
			Model:       def.Model,
			MaxTokens:   def.MaxTokens,
			Temperature: def.Temperature,
		}), nil
	default:
		return nil, &llm.Error{
			Kind:     llm.KindUnknownModel,
			Provider: def.Provider,
			Err:      fmt.Errorf("no client implementation for provider %q", def.Provider),
		}
	}
}
