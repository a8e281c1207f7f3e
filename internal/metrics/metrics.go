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

// Package metrics registers the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowsSubmitted counts accepted workflow submissions.
	WorkflowsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atelier_workflows_submitted_total",
		Help: "Workflows accepted for execution.",
	})

	// WorkflowsFinished counts terminal workflows by status.
	WorkflowsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_workflows_finished_total",
		Help: "Workflows that reached a terminal status.",
	}, []string{"status"})

	// TurnsExecuted counts completed turns across all workflows.
	TurnsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atelier_turns_executed_total",
		Help: "Agent turns executed.",
	})

	// TurnDuration observes wall time per turn, provider call included.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atelier_turn_duration_seconds",
		Help:    "Duration of a single agent turn.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// ProviderRetries counts retried provider calls by error kind.
	ProviderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_provider_retries_total",
		Help: "Provider call retries by error kind.",
	}, []string{"kind"})

	// ArtifactsWritten counts files persisted into project trees.
	ArtifactsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atelier_artifacts_written_total",
		Help: "Artifacts extracted and written to project storage.",
	})

	// SubscribersDropped counts event subscribers dropped for falling
	// behind.
	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atelier_event_subscribers_dropped_total",
		Help: "Event subscribers dropped due to buffer overflow.",
	})

	// PublishesTotal counts publication attempts by outcome.
	PublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_publishes_total",
		Help: "Repository publication attempts by outcome.",
	}, []string{"outcome"})
)
