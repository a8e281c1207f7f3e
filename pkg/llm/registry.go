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
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelDef describes one registered model: which provider serves it and
// the native model name plus default options.
type ModelDef struct {
	// ID is the registry key clients put in requests.
	ID string `yaml:"id"`

	// Provider selects the client implementation
	// ("anthropic", "openai", "ollama", "stub").
	Provider string `yaml:"provider"`

	// Model is the provider-native model name.
	Model string `yaml:"model"`

	// MaxTokens is the default output cap (0 = provider default).
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the default temperature (0 = provider default).
	Temperature float64 `yaml:"temperature"`

	// Endpoint overrides the provider endpoint (used for local models).
	Endpoint string `yaml:"endpoint"`
}

// Registry maps model ids to their definitions. It is loaded once at
// startup and treated as immutable at runtime.
type Registry struct {
	defs map[string]ModelDef
}

// NewRegistry creates a registry seeded with the built-in model set:
// Anthropic as the primary cloud provider, OpenAI as the substitute when
// the primary quota is exhausted, and Ollama for locally served models.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]ModelDef)}
	for _, def := range []ModelDef{
		{ID: "claude-sonnet-4-5", Provider: "anthropic", Model: "claude-sonnet-4-5-20250929", MaxTokens: 8192},
		{ID: "claude-haiku-4-5", Provider: "anthropic", Model: "claude-haiku-4-5-20251001", MaxTokens: 8192},
		{ID: "gpt-4.1", Provider: "openai", Model: "gpt-4.1", MaxTokens: 8192},
		{ID: "gpt-4o", Provider: "openai", Model: "gpt-4o", MaxTokens: 8192},
		{ID: "ollama/llama3.1", Provider: "ollama", Model: "llama3.1"},
		{ID: "ollama/qwen2.5-coder", Provider: "ollama", Model: "qwen2.5-coder"},
		{ID: "local-stub", Provider: "stub", Model: "stub"},
	} {
		r.defs[def.ID] = def
	}
	return r
}

// LoadRegistry reads additional model definitions from a YAML file and
// merges them over the built-in set. Entries with the same id replace the
// built-in definition.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model registry: %w", err)
	}

	var file struct {
		Models []ModelDef `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse model registry: %w", err)
	}

	for _, def := range file.Models {
		if def.ID == "" || def.Provider == "" {
			return nil, fmt.Errorf("model registry entry missing id or provider: %+v", def)
		}
		if def.Model == "" {
			def.Model = def.ID
		}
		r.defs[strings.ToLower(def.ID)] = def
	}
	return r, nil
}

// Resolve looks up a model id. Ids are matched case-insensitively.
// Unknown ids fail with KindUnknownModel.
func (r *Registry) Resolve(id string) (ModelDef, error) {
	if def, ok := r.defs[id]; ok {
		return def, nil
	}
	if def, ok := r.defs[strings.ToLower(id)]; ok {
		return def, nil
	}
	return ModelDef{}, &Error{
		Kind:     KindUnknownModel,
		Provider: "registry",
		Err:      fmt.Errorf("model %q is not registered", id),
	}
}

// Known reports whether a model id resolves.
func (r *Registry) Known(id string) bool {
	_, err := r.Resolve(id)
	return err == nil
}

// IDs returns the registered model ids, for diagnostics.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	return ids
}
