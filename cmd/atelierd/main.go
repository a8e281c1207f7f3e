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

// atelierd is the workflow orchestration daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atelierhq/atelier/internal/log"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/pkg/config"
	"github.com/atelierhq/atelier/pkg/events"
	"github.com/atelierhq/atelier/pkg/httpapi"
	"github.com/atelierhq/atelier/pkg/llm"
	"github.com/atelierhq/atelier/pkg/llm/factory"
	"github.com/atelierhq/atelier/pkg/project"
	"github.com/atelierhq/atelier/pkg/publish"
	"github.com/atelierhq/atelier/pkg/workflow"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:          "atelierd",
		Short:        "Multi-agent workflow orchestration daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfgPath)
		},
	})

	return root
}

func serve(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := log.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer log.Sync()

	registry := llm.NewRegistry()
	if cfg.Models.RegistryPath != "" {
		registry, err = llm.LoadRegistry(cfg.Models.RegistryPath)
		if err != nil {
			return fmt.Errorf("load model registry: %w", err)
		}
	}
	providers := factory.New(registry, factory.Credentials{
		AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
		OllamaEndpoint:  cfg.LLM.OllamaEndpoint,
	})

	store, err := project.NewStore(cfg.Projects.BaseDir)
	if err != nil {
		return fmt.Errorf("open project store: %w", err)
	}

	bus := events.NewBus(cfg.Events.SubscriberBuffer)
	bus.SetDropHandler(func(string) { metrics.SubscribersDropped.Inc() })

	var catalog *workflow.Catalog
	if cfg.Catalog.Path != "" {
		catalog, err = workflow.OpenCatalog(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		defer catalog.Close()
	}

	publisher := publish.NewGitHub(publish.Config{BaseURL: cfg.Repository.APIBaseURL})

	engineCfg := workflow.Config{
		TurnBudgetMultiplier: cfg.Engine.TurnBudgetMultiplier,
		PerTurnTimeout:       time.Duration(cfg.Engine.PerTurnTimeoutSeconds) * time.Second,
		WorkflowDeadline:     time.Duration(cfg.Engine.WorkflowDeadlineSeconds) * time.Second,
		RetryMaxAttempts:     cfg.Engine.RetryMaxAttempts,
		RetryBackoffInitial:  time.Duration(cfg.Engine.RetryBackoffInitialMS) * time.Millisecond,
		RetryBackoffMax:      time.Duration(cfg.Engine.RetryBackoffMaxMS) * time.Millisecond,
		RetainTerminal:       cfg.Engine.RetainTerminal,
	}
	engine := workflow.New(engineCfg, providers, store, bus, publisher, catalog)

	if cfg.Repository.Token != "" {
		creds, err := publish.NewCredentials(cfg.Repository.Token, cfg.Repository.Username)
		if err != nil {
			return fmt.Errorf("repository credentials: %w", err)
		}
		engine.SetPublishCredentials(creds)
		log.Info("repository credentials configured",
			zap.String("token_digest", creds.Digest()))
	}

	server := httpapi.New(engine, httpapi.Options{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("atelierd started", zap.String("version", version))
	return g.Wait()
}
