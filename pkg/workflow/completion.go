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
package workflow

import (
	"strings"

	"github.com/atelierhq/atelier/pkg/extract"
)

// Phrases the coordinator can use to declare the whole workflow done.
var workflowDonePhrases = []string{
	"COORDINATION COMPLETE",
	"WORKFLOW COMPLETE",
	"ALL AGENTS COMPLETED",
}

// MarkCompletion updates an agent's completed flag from its latest
// response. Signals are role-specific and sticky: once set, a flag is
// never cleared.
//
//	coder   - any fenced code block, or "CODE COMPLETE"
//	tester  - a fenced block classified as a test, or "TESTING COMPLETE"
//	runner  - "PASS", "FAIL", or "TEST EXECUTION"
//	others  - any non-empty response
//
// Phrase matching is case-insensitive substring matching on the raw
// response text. The coordinator has no per-agent signal; its completion
// phrase is checked by Done.
func MarkCompletion(w *Workflow, agentID, content string) {
	if w.Completed[agentID] {
		return
	}
	a := w.Agent[agentID]
	upper := strings.ToUpper(content)

	switch a.Role {
	case RoleCoordinator:
		return
	case RoleCoder:
		if extract.HasFencedBlock(content) || strings.Contains(upper, "CODE COMPLETE") {
			w.Completed[agentID] = true
		}
	case RoleTester:
		if strings.Contains(upper, "TESTING COMPLETE") || hasTestBlock(content) {
			w.Completed[agentID] = true
		}
	case RoleRunner:
		if strings.Contains(upper, "PASS") ||
			strings.Contains(upper, "FAIL") ||
			strings.Contains(upper, "TEST EXECUTION") {
			w.Completed[agentID] = true
		}
	default:
		if strings.TrimSpace(content) != "" {
			w.Completed[agentID] = true
		}
	}
}

func hasTestBlock(content string) bool {
	for _, art := range extract.Extract(content) {
		if art.Kind == extract.KindTest {
			return true
		}
	}
	return false
}

// Done reports whether the workflow has reached its natural end: every
// non-coordinator agent completed, and the coordinator's latest turn
// declares completion. A workflow without a coordinator is done as soon
// as all of its agents are completed.
func Done(w *Workflow) bool {
	coord := w.Coordinator()
	for _, id := range w.Order {
		if id == coord {
			continue
		}
		if !w.Completed[id] {
			return false
		}
	}
	if coord == "" {
		return true
	}

	last := w.LastTurn()
	if last == nil || last.From != coord {
		return false
	}
	upper := strings.ToUpper(last.Content)
	for _, phrase := range workflowDonePhrases {
		if strings.Contains(upper, phrase) {
			return true
		}
	}
	return false
}
