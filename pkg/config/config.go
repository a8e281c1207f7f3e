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

// Package config loads the daemon configuration from file, environment,
// and defaults, in that order of increasing precedence for environment
// overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full daemon configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Projects   ProjectsConfig   `mapstructure:"projects"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Events     EventsConfig     `mapstructure:"events"`
	Models     ModelsConfig     `mapstructure:"models"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ProjectsConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

type EngineConfig struct {
	TurnBudgetMultiplier    int `mapstructure:"turn_budget_multiplier"`
	PerTurnTimeoutSeconds   int `mapstructure:"per_turn_timeout_seconds"`
	WorkflowDeadlineSeconds int `mapstructure:"workflow_deadline_seconds"`
	RetryMaxAttempts        int `mapstructure:"retry_max_attempts"`
	RetryBackoffInitialMS   int `mapstructure:"retry_backoff_initial_ms"`
	RetryBackoffMaxMS       int `mapstructure:"retry_backoff_max_ms"`
	RetainTerminal          int `mapstructure:"retain_terminal"`
}

type EventsConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

type ModelsConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
}

// LLMConfig carries provider credentials. Values are whitespace-trimmed
// at load time and must never be logged.
type LLMConfig struct {
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	OllamaEndpoint  string `mapstructure:"ollama_endpoint"`
}

// RepositoryConfig carries the remote-host credentials for publication.
type RepositoryConfig struct {
	Token      string `mapstructure:"token"`
	Username   string `mapstructure:"username"`
	APIBaseURL string `mapstructure:"api_base_url"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8700)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("projects.base_dir", "./generated")

	v.SetDefault("engine.turn_budget_multiplier", 3)
	v.SetDefault("engine.per_turn_timeout_seconds", 180)
	v.SetDefault("engine.workflow_deadline_seconds", 1200)
	v.SetDefault("engine.retry_max_attempts", 3)
	v.SetDefault("engine.retry_backoff_initial_ms", 500)
	v.SetDefault("engine.retry_backoff_max_ms", 8000)
	v.SetDefault("engine.retain_terminal", 128)

	v.SetDefault("events.subscriber_buffer", 256)

	v.SetDefault("llm.ollama_endpoint", "http://localhost:11434")

	v.SetDefault("catalog.path", "./atelier.db")
}

// Load reads configuration from the given file (optional), the
// environment (ATELIER_ prefix, dots become underscores), and built-in
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ATELIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("atelier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.atelier")
		v.AddConfigPath("/etc/atelier")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Credentials are trimmed once, here. A trailing newline from a
	// shell export or secret file otherwise survives into request
	// headers and URLs.
	cfg.LLM.AnthropicAPIKey = strings.TrimSpace(cfg.LLM.AnthropicAPIKey)
	cfg.LLM.OpenAIAPIKey = strings.TrimSpace(cfg.LLM.OpenAIAPIKey)
	cfg.LLM.OllamaEndpoint = strings.TrimSpace(cfg.LLM.OllamaEndpoint)
	cfg.Repository.Token = strings.TrimSpace(cfg.Repository.Token)
	cfg.Repository.Username = strings.TrimSpace(cfg.Repository.Username)

	return &cfg, nil
}
