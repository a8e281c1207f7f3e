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

// Package events provides the in-process pub/sub bus for workflow events.
// Delivery is best-effort and in-order per workflow; slow subscribers are
// dropped when their buffer overflows.
package events

import "time"

// Kind enumerates the event kinds the engine emits.
type Kind string

const (
	KindTurnStarted     Kind = "turn_started"
	KindAgentMessage    Kind = "agent_message"
	KindArtifactWritten Kind = "artifact_written"
	KindWarning         Kind = "warning"
	KindWorkflowStatus  Kind = "workflow_status"
)

// Event is one workflow event. Fields beyond Kind, WorkflowID, and
// Timestamp are populated per kind.
type Event struct {
	Kind       Kind      `json:"kind"`
	WorkflowID string    `json:"workflow_id"`
	Timestamp  time.Time `json:"timestamp"`

	// turn_started, agent_message
	TurnIndex int    `json:"turn_index,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Content   string `json:"content,omitempty"`

	// artifact_written
	RelPath      string `json:"relative_path,omitempty"`
	ArtifactKind string `json:"artifact_kind,omitempty"`
	Bytes        int64  `json:"bytes,omitempty"`

	// warning
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`

	// workflow_status
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}
