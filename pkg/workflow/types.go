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

// Package workflow implements the workflow execution engine: the turn
// scheduler, agent-to-agent routing policy, completion detector, and the
// extract-and-persist pipeline that turns agent text into a project tree.
package workflow

import (
	"time"

	"github.com/atelierhq/atelier/pkg/types"
)

// Agent roles. Roles are lowercase labels; anything outside the
// well-known set is treated as a custom role.
const (
	RoleCoordinator = "coordinator"
	RoleCoder       = "coder"
	RoleTester      = "tester"
	RoleRunner      = "runner"
	RoleCustom      = "custom"
)

// SenderSystem is the sentinel sender of the initial seed turn and the
// recipient of a turn that routes nowhere.
const SenderSystem = "system"

// Agent is one declared participant, immutable for the life of its
// workflow.
type Agent struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MemoryEnabled controls whether the agent sees its full transcript
	// or only the latest inbound message. Unset means enabled.
	MemoryEnabled *bool `json:"memory_enabled,omitempty"`
}

// Remembers reports whether the agent keeps conversational memory.
func (a Agent) Remembers() bool {
	return a.MemoryEnabled == nil || *a.MemoryEnabled
}

// Edge is a directed connection between two declared agents.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Status is the workflow lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status is final. A terminal workflow never
// re-enters running.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Completion / failure reason codes.
const (
	ReasonTurnBudgetExhausted = "turn_budget_exhausted"
	ReasonDeadlineExceeded    = "deadline_exceeded"
	ReasonCancelled           = "cancelled"
)

// Turn is one append-only exchange record.
type Turn struct {
	Index     int       `json:"index"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// ArtifactsExtracted lists project-relative paths written this turn.
	ArtifactsExtracted []string `json:"artifacts_extracted,omitempty"`
}

// Workflow is the runtime state owned by the engine. It is mutated only
// by the workflow's own turn loop; readers go through Engine.Status,
// which copies under the registry lock.
type Workflow struct {
	ID    string
	Task  string
	Agent map[string]Agent
	Order []string // declared agent order
	Edges []Edge

	Turns       []Turn
	Transcripts map[string][]types.Message
	Completed   map[string]bool

	Status      Status
	Reason      string
	ProjectName string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Coordinator returns the id of the first declared coordinator agent,
// or "" when the workflow has none.
func (w *Workflow) Coordinator() string {
	for _, id := range w.Order {
		if w.Agent[id].Role == RoleCoordinator {
			return id
		}
	}
	return ""
}

// LastTurn returns the most recent turn, or nil before the seed.
func (w *Workflow) LastTurn() *Turn {
	if len(w.Turns) == 0 {
		return nil
	}
	return &w.Turns[len(w.Turns)-1]
}

// AgentStatus is the per-agent view in a snapshot.
type AgentStatus struct {
	Role      string `json:"role"`
	Model     string `json:"model"`
	Completed bool   `json:"completed"`
}

// Snapshot is the read-only view returned by status queries.
type Snapshot struct {
	ID          string                 `json:"id"`
	Task        string                 `json:"task"`
	Status      Status                 `json:"status"`
	Reason      string                 `json:"reason,omitempty"`
	Agents      map[string]AgentStatus `json:"agents_status"`
	Turns       []Turn                 `json:"turns"`
	ProjectRef  string                 `json:"project_ref,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
	TurnsTotal  int                    `json:"turns_total"`
	TurnsLimit  int                    `json:"turns_limit"`
}

// Request is a workflow submission.
type Request struct {
	Task            string  `json:"task"`
	Agents          []Agent `json:"agents"`
	Edges           []Edge  `json:"edges"`
	AwaitCompletion bool    `json:"await_completion"`
	DeadlineSeconds int     `json:"deadline_seconds,omitempty"`
}

// ValidationError is a structured submission-time error.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Code + " (" + e.Field + "): " + e.Message
	}
	return e.Code + ": " + e.Message
}
